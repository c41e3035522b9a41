package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nagare-ml/nagare/config"
	httpx "github.com/nagare-ml/nagare/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Submit:             cfg.Services.Submit,
		Lifecycle:          cfg.Services.Lifecycle,
		Archive:            cfg.Services.Archive,
		Store:              cfg.Services.Store,
		MaxUploadBytes:     appCfg.Uploads.MaxBytes,
		CORSAllowedOrigins: appCfg.HTTP.CORSAllowedOrigins,
		Logger:             logger,
	})

	return startServer(startServerParams{
		logger:            logger,
		handler:           handler,
		addr:              appCfg.HTTP.Addr,
		readHeaderTimeout: time.Duration(appCfg.HTTP.ReadHeaderTimeoutSeconds) * time.Second,
	})
}

type startServerParams struct {
	logger            *slog.Logger
	handler           http.Handler
	addr              string
	readHeaderTimeout time.Duration
}

func startServer(p startServerParams) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := p.addr
	if addr == "" {
		addr = ":8080"
	}

	// Uploads and long polls rule out aggressive read/write timeouts;
	// only the header read is bounded here.
	server := &http.Server{
		Addr:              addr,
		Handler:           p.handler,
		ReadHeaderTimeout: p.readHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		p.logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, shutdownWaitTimeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
