// Command nbexecd serves the execution coordinator REST API backed by
// the subprocess development transport and an in-memory collaboration
// service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/nbexec"
	"github.com/nevindra/nbexec/collab/memdoc"
	"github.com/nevindra/nbexec/internal/config"
	"github.com/nevindra/nbexec/kernel/subproc"
	"github.com/nevindra/nbexec/observer"
	"github.com/nevindra/nbexec/store/postgres"
	"github.com/nevindra/nbexec/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(os.Getenv("NBEXEC_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kernelIDs := cfg.Kernel.IDs
	if len(kernelIDs) == 0 {
		kernelIDs = []string{nbexec.NewID()}
	}
	var manager nbexec.KernelManager = subproc.NewManager(kernelIDs,
		subproc.WithPython(cfg.Kernel.PythonBin),
		subproc.WithLogger(logger),
	)
	for _, id := range kernelIDs {
		logger.Info("kernel available", "kernel_id", id)
	}

	var emitters nbexec.MultiEmitter
	emitters = append(emitters, nbexec.LogEmitter{Logger: logger})

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			logger.Error("observer init failed", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		manager = observer.WrapManager(manager, inst)
		emitters = append(emitters, observer.NewEmitter(inst))
		logger.Info("OTEL observability enabled")
	}

	switch cfg.Journal.Driver {
	case "sqlite":
		journal := sqlite.New(cfg.Journal.Path, sqlite.WithLogger(logger))
		defer journal.Close()
		if err := journal.Init(ctx); err != nil {
			logger.Error("journal init failed", "error", err)
			os.Exit(1)
		}
		emitters = append(emitters, journal)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Journal.DSN)
		if err != nil {
			logger.Error("journal pool failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		journal := postgres.New(pool, postgres.WithLogger(logger))
		if err := journal.Init(ctx); err != nil {
			logger.Error("journal init failed", "error", err)
			os.Exit(1)
		}
		emitters = append(emitters, journal)
	}

	collab := memdoc.NewService()

	stack := nbexec.NewStack(manager,
		nbexec.WithCollaboration(collab),
		nbexec.WithEmitter(emitters),
		nbexec.WithLogger(logger),
		nbexec.WithDisposeTimeout(cfg.ShutdownTimeout()),
	)

	ext := nbexec.NewExtension(cfg.Server.Addr, stack, manager,
		nbexec.WithExtensionLogger(logger),
		nbexec.WithShutdownTimeout(cfg.ShutdownTimeout()),
	)
	if err := ext.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
