package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"majlis/internal/api"
	"majlis/internal/broadcast"
	"majlis/internal/config"
	"majlis/internal/history"
	"majlis/internal/presence"
	"majlis/internal/registry"
	"majlis/internal/store"
	"majlis/internal/websocket"
)

// Application wires all components together.
// Initialization follows dependency order:
// Store → Registry → Bootstrapper → Presence → Broadcast → WebSocket → API → HTTP
type Application struct {
	config      *config.Config
	store       *store.Store
	registry    *registry.Registry
	presence    *presence.Coordinator
	broadcaster *broadcast.Broadcaster
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication creates an application with all components initialized.
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewStore(&store.Config{
		DatabasePath:    cfg.DatabasePath,
		MaxConnections:  cfg.MaxConnections,
		ConnMaxLifetime: cfg.DatabaseTimeout,
		ConnMaxIdleTime: cfg.DatabaseTimeout / 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	reg := registry.NewRegistry()
	boot := history.NewBootstrapper(st, cfg.HistoryLimit)
	pres := presence.NewCoordinator(reg, boot, st)
	bcast := broadcast.NewBroadcaster(reg, pres, st)

	wsHandler := websocket.NewHandler(pres, bcast, st, websocket.HandlerConfig{
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		SendBuffer:     cfg.SendBuffer,
		GatewayTimeout: cfg.GatewayTimeout,
	})

	apiServer := api.NewServer(st, pres, reg)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	return &Application{
		config:      cfg,
		store:       st,
		registry:    reg,
		presence:    pres,
		broadcaster: bcast,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start begins serving. It returns once the HTTP listener is accepting
// connections or fails to start.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting majlis on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("majlis started successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down in reverse dependency order: HTTP → Store.
// In-flight WebSocket sessions are torn down by their read loops when the
// listener closes their connections.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down majlis")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("majlis shutdown complete")
	return nil
}

// Addr returns the server address for external connections.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
