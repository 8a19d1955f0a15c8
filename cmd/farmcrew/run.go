package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"farmcrew/internal/app"
	"farmcrew/pkg/logx"
)

const stopTimeout = 15 * time.Second

func runCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	return cmd
}

func runService(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	notify(a, daemon.SdNotifyReady)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	reason := app.StopUnknown
	var runErr error
	select {
	case sig := <-sigs:
		reason = app.StopReasonFromSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
		runErr = a.Err()
	case <-ctx.Done():
		reason = app.StopAppStop
	}

	notify(a, daemon.SdNotifyStopping)
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(a *app.App, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.Logger().Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		a.Logger().Debug("sd_notify sent", logx.String("state", state))
	}
}
