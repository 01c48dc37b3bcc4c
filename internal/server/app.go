// Package server wires the collector together: configuration, logging, the
// metadata database, the durable storage backend, the upload coordinator,
// the asynchronous persistence worker and the periodic cleanup sweep.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/logging"
	"github.com/dmitrijs2005/measurekeeper/internal/server/config"
	"github.com/dmitrijs2005/measurekeeper/internal/server/metadata"
	"github.com/dmitrijs2005/measurekeeper/internal/server/storage"
	"github.com/dmitrijs2005/measurekeeper/internal/server/upload"
	"github.com/dmitrijs2005/measurekeeper/internal/server/wire"
	"github.com/dmitrijs2005/measurekeeper/internal/server/worker"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	dbManager   *metadata.PostgresManager
	backend     storage.Backend
	handoff     chan []byte
	coordinator *upload.Coordinator
	worker      *worker.Worker
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	dm, err := metadata.NewPostgresManager(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	backend, err := storage.NewBackend(c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	handoff := make(chan []byte, c.HandoffBufferSize)

	coordinator := upload.NewCoordinator(upload.NewStore(), backend, dm.Repository(),
		handoff, c.WorkerPoolSize, c.ChunkTimeout, logger)

	w := worker.New(handoff, defaultDescriptorHandler(logger), logger)

	return &App{
		config:      c,
		logger:      logger,
		dbManager:   dm,
		backend:     backend,
		handoff:     handoff,
		coordinator: coordinator,
		worker:      w,
	}, nil
}

// Coordinator exposes the upload coordinator to the inbound surface.
func (app *App) Coordinator() *upload.Coordinator {
	return app.coordinator
}

// defaultDescriptorHandler records finished uploads; domain-specific
// post-processing hangs off the same handoff channel.
func defaultDescriptorHandler(logger logging.Logger) worker.Handler {
	return func(ctx context.Context, d wire.Descriptor) error {
		logger.Info(ctx, "upload descriptor received",
			"device_id", d.DeviceID, "measurement_id", d.MeasurementID, "files", len(d.Files))
		return nil
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runCleanupSweep is the periodic cleanup trigger: stale staged uploads are
// removed from the durable backend and idle sessions from the session store.
func (app *App) runCleanupSweep(ctx context.Context) {
	ticker := time.NewTicker(app.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			staged, sessions, err := app.coordinator.Sweep(ctx, app.config.UploadExpiration)
			if err != nil {
				app.logger.Error(ctx, "cleanup sweep failed", "error", err.Error())
				continue
			}
			app.logger.Info(ctx, "cleanup sweep finished",
				"staged_removed", staged, "sessions_removed", sessions)
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.worker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runCleanupSweep(ctx)
	}()

	wg.Wait()

	if err := app.dbManager.Close(); err != nil {
		app.logger.Error(ctx, "closing metadata database failed", "error", err.Error())
	}
}
