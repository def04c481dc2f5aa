package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"sfdc-subscriber/internal/config"
	"sfdc-subscriber/internal/logging"
	"sfdc-subscriber/internal/runtime"
)

var BuildVersion = "dev"

const (
	exitRunError   = 1
	exitUsageError = 2
)

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(nil)
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}

	lock, lockedByOther, lockErr := acquireInstanceLock(instanceKey(opts.LoginURL, opts.ClientID))
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(exitUsageError)
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "A subscriber for this client is already running.")
		os.Exit(exitRunError)
	}

	code := run(rootCtx, opts)
	_ = lock.Release()
	os.Exit(code)
}

func run(ctx context.Context, opts config.Options) int {
	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.LogToFile {
		if err := logger.EnableFilePersistence(0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	logger.Info("starting platform event subscriber",
		logging.Field("version", BuildVersion),
		logging.Field("login_url", opts.LoginURL),
		logging.Field("client_id", logging.Masked(opts.ClientID)),
	)

	svc, err := runtime.NewService(opts, logger)
	if err != nil {
		logger.Error("invalid configuration", logging.Field("error", err))
		return exitUsageError
	}
	runErr := svc.RunContext(ctx)
	if runErr == nil || errors.Is(runErr, context.Canceled) {
		return 0
	}
	logger.Error("subscriber exited", logging.Field("error", runErr))
	return exitRunError
}
