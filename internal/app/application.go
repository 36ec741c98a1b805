package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"roomhub/internal/api"
	"roomhub/internal/broadcast"
	"roomhub/internal/config"
	"roomhub/internal/database"
	"roomhub/internal/hub"
	"roomhub/internal/identity"
	"roomhub/internal/membership"
	"roomhub/internal/registry"
	"roomhub/internal/sentiment"
	"roomhub/internal/websocket"
	"roomhub/pkg/interfaces"
)

// Application owns every component and coordinates their lifecycle.
// Construction follows strict dependency order:
// Storage → Identity → Registry → Router → Sentiment → Hub → Transport → API → HTTP.
type Application struct {
	config     *config.Config
	store      *database.Store
	registry   *registry.Registry
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// NewApplication builds the full component graph from a validated
// configuration. Nothing starts running yet; Start does that.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewStore(database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	verifier := identity.NewVerifier(cfg.Auth.JWTSecret)

	reg := registry.NewRegistry()
	router := broadcast.NewRouter(reg, logger)
	members := membership.NewAuthority(store)

	// An unset scorer URL disables scoring; every message then stores and
	// broadcasts as neutral.
	var scorer interfaces.SentimentScorer
	if cfg.Sentiment.URL != "" {
		scorer = sentiment.NewHTTPScorer(cfg.Sentiment.URL)
	}
	annotator := sentiment.NewAnnotator(scorer, cfg.Sentiment.Timeout, logger)

	sessionHub := hub.NewHub(reg, router, store, members, annotator, hub.Options{
		LaneBuffer:        cfg.Limits.RoomLaneBuffer,
		RecentPageSize:    cfg.Limits.RecentPageSize,
		MessagesPerSecond: cfg.Limits.MessagesPerSecond,
		MessageBurst:      cfg.Limits.MessageBurst,
	}, logger)

	wsHandler := websocket.NewHandler(sessionHub, verifier, websocket.Options{
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		BufferSize:   cfg.WebSocket.BufferSize,
	}, logger)

	apiServer := api.NewServer(store, reg, verifier, wsHandler.ServeWS, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		registry:   reg,
		hub:        sessionHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Start brings the hub up before the listener so no accepted connection
// ever sees a stopped hub, then verifies the listener did not fail
// immediately before reporting success.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting server", slog.String("addr", app.httpServer.Addr))

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("server started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP → Hub → Storage. Errors are logged rather than returned so a
// failing component never blocks the rest of the teardown.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", slog.Any("error", err))
	}

	if err := app.hub.Stop(); err != nil {
		app.logger.Error("hub shutdown error", slog.Any("error", err))
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error("storage shutdown error", slog.Any("error", err))
	}

	app.logger.Info("shutdown complete")
	return nil
}

// Addr returns the address the HTTP server binds to.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
