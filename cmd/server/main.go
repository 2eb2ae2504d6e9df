package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/powermarket/internal/api"
	"github.com/xtrntr/powermarket/internal/auth"
	"github.com/xtrntr/powermarket/internal/cache"
	"github.com/xtrntr/powermarket/internal/config"
	"github.com/xtrntr/powermarket/internal/db"
	"github.com/xtrntr/powermarket/internal/events"
	"github.com/xtrntr/powermarket/internal/logging"
	"github.com/xtrntr/powermarket/internal/matching"
	"github.com/xtrntr/powermarket/internal/realtime"
	"github.com/xtrntr/powermarket/internal/window"
	"go.uber.org/zap"
)

// Main entry point: sets up the database, window service, realtime server and HTTP API
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	windowCache, closeCache, err := openWindowCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()
	if windowCache != nil {
		logger.Infow("window cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.WindowTTL)
	}
	windows := window.NewService(database, windowCache, logger.Named("window"))

	rt := realtime.NewServer(windows, cfg.Countdown.Interval, logger.Named("realtime"))

	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTKey, cfg.Auth.HMACSecret, cfg.Auth.AuthorizedParties)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
		logger.Infow("publishing market events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// Initialize API handlers
	handler := api.NewHandler(database, windows, authenticator, rt, publisher, logger.Named("api"))

	guard, err := auth.NewAdminGuard(cfg.Admin.KeyHash)
	if err != nil {
		return err
	}
	if guard != nil {
		handler.Admin = guard
	} else {
		logger.Warn("no admin key hash configured, administrative routes are open")
	}

	if cfg.Matching.URL != "" {
		handler.Matcher = matching.NewClient(cfg.Matching.URL, cfg.Matching.APIKey, cfg.Matching.Timeout)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, rt, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return serve(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}

// openWindowCache returns a nil cache when Redis is not configured. A
// configured Redis that cannot be reached is an error.
func openWindowCache(ctx context.Context, cfg config.RedisConfig) (window.Cache, func(), error) {
	if cfg.Addr == "" {
		return nil, func() {}, nil
	}

	rc := cache.NewWindowCache(cfg.Addr, cfg.Password, cfg.DB, cfg.WindowTTL)
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return rc, func() { rc.Close() }, nil
}

func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.SugaredLogger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
