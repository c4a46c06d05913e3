// Package app wires configuration, storage and services into a running
// doodlegrid process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"doodlegrid/internal/config"
	"doodlegrid/internal/domain"
	"doodlegrid/internal/httpapi"
	"doodlegrid/internal/logging"
	mcpserver "doodlegrid/internal/mcp"
	"doodlegrid/internal/render"
	"doodlegrid/internal/service"
	"doodlegrid/internal/storage"
	"doodlegrid/internal/storage/memory"
	"doodlegrid/internal/storage/mongostore"
)

// Version is stamped at build time.
var Version = "dev"

// App owns the backend and the services built on it.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	log    *slog.Logger

	backend domain.Backend
	emitter service.EventEmitter

	Assets      *service.AssetService
	Documents   *service.DocumentService
	Maintenance *service.Maintenance
}

// New opens the configured backend and builds the services. Call Shutdown
// to flush open documents and release the backend.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	backend, err := OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	log := logger.Component("app")
	emitter := service.LogEmitter{Logger: logger.Component("events")}
	slot, err := domain.ParseSlot(cfg.Maintenance.ImportSlot)
	if err != nil {
		backend.Close()
		return nil, err
	}

	assets := service.NewAssetService(backend, service.AssetOptions{
		MaxBytes:    cfg.Assets.MaxBytes,
		JPEGQuality: cfg.Assets.JPEGQuality,
	}, emitter, logger.Logger)
	docs := service.NewDocumentService(backend, assets, Renderer(cfg.Render), cfg.Session.FlushDebounce(), emitter, logger.Logger)
	maint := service.NewMaintenance(backend, docs, service.MaintenanceOptions{
		AuditSchedule:  cfg.Maintenance.AuditSchedule,
		ImportDir:      cfg.Maintenance.ImportDir,
		ImportDocument: cfg.Maintenance.ImportDocument,
		ImportSlot:     slot,
	}, emitter, logger.Logger)

	log.Info("storage opened", "driver", cfg.Storage.Driver)
	return &App{
		cfg:         cfg,
		logger:      logger,
		log:         log,
		backend:     backend,
		emitter:     emitter,
		Assets:      assets,
		Documents:   docs,
		Maintenance: maint,
	}, nil
}

// Renderer builds the thumbnail and export renderer from configuration.
func Renderer(c config.RenderConfig) *render.Renderer {
	return &render.Renderer{
		ThumbSize:          c.ThumbSize,
		ViewportWidth:      c.ViewportWidth,
		ViewportHeight:     c.ViewportHeight,
		ExportMinScale:     c.ExportMinScale,
		ExportMaxScale:     c.ExportMaxScale,
		ExportMaxDimension: c.ExportMaxDimension,
		ExportQuality:      c.ExportQuality,
	}
}

// OpenBackend opens the persistence backend named by c.Driver.
func OpenBackend(ctx context.Context, c config.StorageConfig) (domain.Backend, error) {
	switch c.Driver {
	case "memory":
		return memory.New(), nil
	case "mongodb":
		uri := c.DSN
		if uri == "" {
			port := c.Port
			if port == 0 {
				port = 27017
			}
			uri = "mongodb://" + net.JoinHostPort(c.Host, strconv.Itoa(port))
		}
		store, err := mongostore.Open(ctx, uri, c.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		path := c.DSN
		if path == "" {
			path = c.Database
		}
		db, err := storage.OpenSQLite(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	driver := storage.Driver(c.Driver)
	dsn := c.DSN
	if dsn == "" {
		var err error
		dsn, err = storage.BuildDSN(driver, storage.ConnParams{
			Host:     c.Host,
			Port:     c.Port,
			User:     c.User,
			Password: c.Password,
			Database: c.Database,
			SSLMode:  c.SSLMode,
		})
		if err != nil {
			return nil, err
		}
	}
	db, err := storage.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Startup starts the scheduled audit and the import watcher.
func (a *App) Startup(ctx context.Context) error {
	return a.Maintenance.Start(ctx)
}

// Shutdown stops background jobs, flushes open documents and closes the
// backend.
func (a *App) Shutdown(ctx context.Context) error {
	a.Maintenance.Stop()
	a.Maintenance.WaitRunning(ctx)
	err := a.Documents.CloseAll(ctx)
	return errors.Join(err, a.backend.Close())
}

// ApplyConfig applies the settings that can change while running: log level
// and the flush debounce of documents opened afterwards.
func (a *App) ApplyConfig(cfg *config.Config) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		a.logger.SetLevel(level)
	}
	a.Documents.SetFlushDebounce(cfg.Session.FlushDebounce())
	a.log.Info("configuration reloaded",
		"log_level", cfg.Logging.Level,
		"flush_debounce", cfg.Session.FlushDebounce(),
	)
}

// WatchConfig hot-reloads configuration from loader until ctx is done.
func (a *App) WatchConfig(ctx context.Context, loader *config.Loader) error {
	loader.OnChange(a.ApplyConfig)
	if err := loader.Watch(); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-loader.Errors():
				if !ok {
					return
				}
				a.log.Warn("configuration reload rejected", "err", err)
			}
		}
	}()
	return nil
}

// NewMCPServer builds the MCP server over the app's services.
func (a *App) NewMCPServer(ctx context.Context, mode mcpserver.ApprovalMode) *mcpserver.Server {
	return mcpserver.New(ctx, mcpserver.Deps{
		Emitter:     a.emitter,
		Documents:   a.Documents,
		Assets:      a.Assets,
		Maintenance: a.Maintenance,
		Approval:    mode,
		Logger:      a.logger.Logger,
		Version:     Version,
	})
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func (a *App) ServeMCP(ctx context.Context, mode mcpserver.ApprovalMode) error {
	return a.NewMCPServer(ctx, mode).ServeStdio()
}

// ServeHTTP serves the HTTP API on addr until ctx is done. approver may be
// nil.
func (a *App) ServeHTTP(ctx context.Context, addr string, approver httpapi.Approver) error {
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.New(httpapi.Deps{
			Documents: a.Documents,
			Assets:    a.Assets,
			Approver:  approver,
			Logger:    a.logger.Logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
