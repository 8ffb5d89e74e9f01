// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// Every fieldsync command writes lifecycle and error events to one JSON
// file per day, `<root>/logs/fieldsync-YYYY-MM-DD.log`, rotated and
// compressed by Lumberjack.  Optionally the same events are teed to stderr
// in console form.
//
// Stdout belongs to progress lines: the sweep and sync commands print what
// the runner is doing there, one timestamped line at a time, through the
// sink `Progress` builds.  Keeping structured events on stderr means the
// two never interleave in a pipe.
//
// Usage
// -----
//
//	log, err := logger.New(cfg.Paths.Root, logger.Options{Tee: true, Level: "debug"})
//	out := logger.Progress(log, os.Stdout)
//	runner.Run(ctx, listID, out)
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options shape the process logger.
type Options struct {
	Tee   bool   // mirror events to stderr
	Level string // debug, info, warn, or error; empty means info
}

// New builds the process logger and installs it as zap's global.
func New(rootDir string, opts Options) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(opts.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	dir := filepath.Join(rootDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "fieldsync-"+time.Now().Format("2006-01-02")+".log"),
		MaxSize:    100, // MB; a large list sweep at debug is chatty
		MaxBackups: 14,
		MaxAge:     30, // days
		Compress:   true,
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stack",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), level)
	if opts.Tee {
		core = zapcore.NewTee(core,
			zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level))
	}

	z := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.AddSync(file)),
	).Named("fieldsync").Sugar()
	zap.ReplaceGlobals(z.Desugar())

	z.Infow("logger online", "tee", opts.Tee, "level", level.String())
	return z, nil
}

// Progress returns a line sink that prints to w and mirrors each line at
// debug level.  A nil w only logs.
func Progress(z *zap.SugaredLogger, w io.Writer) func(string) {
	return func(line string) {
		if w != nil {
			fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), line)
		}
		z.Debugw("progress", "line", line)
	}
}
