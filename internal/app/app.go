package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/auth"
	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/store"
	"github.com/vovakirdan/roomrelay/internal/store/badger"
	"github.com/vovakirdan/roomrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("store initialized")

	hub := core.NewHub(st, st, core.Options{
		HistoryPageSize: cfg.Chat.HistoryPageSize,
		HistoryDelay:    cfg.Chat.HistoryDelay,
		InboxSize:       cfg.Chat.InboxSize,
		StoreTimeout:    cfg.Chat.StoreTimeout,
	}, logger)

	authService := auth.NewService(st, cfg.Chat.TokenTTL)
	jwtConfig := JWTConfig(cfg)
	if !jwtConfig.Enabled() {
		logger.Warn().Msg("admin jwt secret not set, room creation is unauthenticated")
	}

	server := transporthttp.NewServer(hub, authService, jwtConfig, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// JWTConfig builds the admin token settings from cfg.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.Admin.JWTSecret),
		Issuer:   cfg.Admin.JWTIssuer,
		Audience: cfg.Admin.JWTAudience,
		TTL:      cfg.Admin.TokenTTL,
	}
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "badger":
		return badger.New(cfg.BadgerPath)
	case "sqlite", "":
		return sqlite.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(a.stopHub(stopHub))
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		shutdownErr := a.server.Shutdown(shutdownCtx)

		// Sockets are hijacked, so Shutdown does not wait for them; the hub closes them.
		a.cleanup(a.stopHub(stopHub))
		if shutdownErr != nil {
			return shutdownErr
		}
		return <-serverErr
	}
}

// stopHub cancels the hub and waits for it to drain. It reports false when the
// shutdown timeout passed first.
func (a *App) stopHub(stop context.CancelFunc) bool {
	stop()
	select {
	case <-a.hub.Done():
		return true
	case <-time.After(a.shutdownTimeout):
		a.log.Warn().Dur("timeout", a.shutdownTimeout).Msg("hub did not drain in time")
		return false
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup(drained bool) {
	if !drained {
		a.log.Warn().Msg("closing store with hub events still pending")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
