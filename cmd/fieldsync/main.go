// cmd/fieldsync/main.go
//
// fieldsync – MailWizz list custom-fields sync.
//
// Commands
// --------
//
//	sweep     sync every active list once, progress to stdout, exit 0
//	sync      sync the given lists once
//	worker    consume the sync queue; optional cron sweep and /metrics
//	enqueue   request a queued sync of the given lists
//
// Every command boots the same App (config → logger → secrets → MySQL →
// Redis) and tears it down on exit.  SIGINT/SIGTERM cancel the root context.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fieldsync",
		Short: "Keep MailWizz list custom field values in step with their definitions",
		Long: `fieldsync makes sure every subscriber of a list holds one value per
custom field, filling gaps with the field's rendered default value.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newSweepCommand(),
		newSyncCommand(),
		newWorkerCommand(),
		newEnqueueCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
