package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Process signals handled by serve:
//
//	SIGINT, SIGTERM  stop accepting requests and drain; a second one exits at once
//	SIGHUP           re-read the log level from the config file

// trapShutdown returns a context canceled by the first SIGINT or SIGTERM.
// A second signal during the drain calls exit(1).
func trapShutdown(parent context.Context, logger *slog.Logger, exit func(int)) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		var sig os.Signal

		select {
		case sig = <-sigCh:
		case <-ctx.Done():
			return
		}

		logger.Info("draining in-flight requests", slog.String("signal", sig.String()))
		cancel()

		select {
		case sig = <-sigCh:
			logger.Warn("second signal while draining, exiting now", slog.String("signal", sig.String()))
			exit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}

// notifyHangup calls reload for every SIGHUP until ctx is done. The handler
// is installed before notifyHangup returns, so a SIGHUP sent after that
// never reaches the default action, which would terminate the process.
func notifyHangup(ctx context.Context, reload func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				reload()
			}
		}
	}()
}
