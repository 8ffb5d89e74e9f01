// Package schedule runs periodic jobs inside the worker process.
//
// Jobs use standard five-field cron specs (plus descriptors such as
// `@daily`).  A run still in progress when the next tick fires is skipped,
// and a panicking job is logged without taking the worker down.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler wraps a cron instance bound to a base context.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.SugaredLogger
	ctx  context.Context
}

// New returns a stopped scheduler.  Jobs receive ctx.
func New(ctx context.Context, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		log: log,
		ctx: ctx,
	}
}

// Add registers job under spec.
func (s *Scheduler) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { job(s.ctx) })
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.log.Infow("scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Infow("scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "err", err)...)
}
