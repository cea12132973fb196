package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context derived from parent that is canceled
// on the first SIGINT or SIGTERM. A second signal exits the process
// immediately.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}
		<-sigChan
		os.Exit(ExitFailure)
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
