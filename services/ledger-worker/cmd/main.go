package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/app"
	"go.uber.org/zap"
)

func main() {
	pkg.InitLogger("ledger-worker")
	os.Exit(run(pkg.Logger))
}

// run returns the process exit code so deferred cleanup happens before os.Exit.
func run(logger *zap.Logger) int {
	defer func() { _ = logger.Sync() }()

	// SIGTERM starts a drain: in-flight withdrawals and poll ticks finish, nothing new is taken.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker, err := app.NewApp(ctx, logger)
	if err != nil {
		logger.Error("ledger_worker_init_failed", zap.Error(err))
		return 1
	}
	if err := worker.Run(); err != nil {
		logger.Error("ledger_worker_exited_with_error", zap.Error(err))
		return 1
	}
	logger.Info("ledger_worker_stopped")
	return 0
}
