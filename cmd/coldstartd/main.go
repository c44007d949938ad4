package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		slog.Info("cleaning up application resources")
		cleanup()
		slog.Info("application cleanup complete")
	}()

	logger := app.Logger

	if app.Config.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "endpoint", app.Config.OtelEndpoint, "service", app.Config.OtelServiceName)
	}

	if err := checkKVMAccess(); err != nil {
		return fmt.Errorf("KVM access check failed: %w\n\nEnsure:\n  1. KVM is enabled (check /dev/kvm exists)\n  2. User is in 'kvm' group: sudo usermod -aG kvm $USER\n  3. Log out and back in, or use: newgrp kvm", err)
	}
	logger.Info("KVM access verified")

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer func() {
		logger.Info("stopping signal handler")
		stop()
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", app.Config.Port),
		Handler: app.Router,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting reconciler", "interval", app.Config.ReconcileInterval)
		app.Reconciler.Run(gctx)
		return nil
	})

	grp.Go(func() error {
		logger.Info("starting coldstartd API", "port", app.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx := context.WithoutCancel(gctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
		} else {
			logger.Info("http server shutdown complete")
		}

		app.Pool.Shutdown(shutdownCtx)
		logger.Info("pool manager shutdown complete")

		if err := app.Store.Close(); err != nil {
			logger.Error("failed to close desired state store", "error", err)
		}

		return nil
	})

	err = grp.Wait()
	logger.Info("all goroutines finished")
	return err
}

// checkKVMAccess verifies KVM is available and the user has permission to
// use it.
func checkKVMAccess() error {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("/dev/kvm not found - KVM not enabled or not supported")
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied accessing /dev/kvm - user not in 'kvm' group")
		}
		return fmt.Errorf("cannot access /dev/kvm: %w", err)
	}
	f.Close()
	return nil
}
