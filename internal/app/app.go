package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/simp-lee/logger"
	"gorm.io/gorm"

	"github.com/lastmilehq/deliverysync/internal/config"
	"github.com/lastmilehq/deliverysync/internal/domain"
	"github.com/lastmilehq/deliverysync/internal/middleware"
	"github.com/lastmilehq/deliverysync/internal/mirror"
	"github.com/lastmilehq/deliverysync/internal/module/services"
	"github.com/lastmilehq/deliverysync/internal/remote"
	"github.com/lastmilehq/deliverysync/internal/snapshot"
)

// App holds the core application dependencies and the HTTP server.
type App struct {
	engine *gin.Engine
	db     *gorm.DB
	logger *logger.Logger
	cfg    *config.Config
	ctrl   *mirror.Controller
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

var newHTTPServer = func(addr string, handler http.Handler) httpServer {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

var notifyContext = func(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}

// New creates and wires a fully configured App from the given Config.
//
// It sets up logging, the optional snapshot database, the remote client and
// change feed, the sync controller, middleware, and routes. The controller is
// started immediately: the cache is seeded from the snapshot store and the
// feed subscription established before the first request arrives.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	success := false

	// 1. Setup logger.
	log, err := config.SetupLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	if cfg.Server.Mode == gin.DebugMode && cfg.Server.Host == "0.0.0.0" {
		log.Warn("insecure server config: debug mode on 0.0.0.0 may expose debug behavior and permissive CORS")
	}
	defer func() {
		if success {
			return
		}
		if err := log.Close(); err != nil {
			slog.Error("logger close error", slog.Any("error", err))
		}
	}()

	// 2. Setup the snapshot database when enabled.
	var db *gorm.DB
	var store domain.SnapshotStore
	if cfg.Snapshot.Enabled {
		db, err = config.SetupSnapshotDB(&cfg.Snapshot, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("setup snapshot database: %w", err)
		}
		defer func() {
			if success {
				return
			}
			sqlDB, err := db.DB()
			if err != nil {
				return
			}
			if err := sqlDB.Close(); err != nil {
				slog.Error("snapshot database close error", slog.Any("error", err))
			}
		}()

		snapStore := snapshot.New(db)
		if err := snapStore.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate snapshot store: %w", err)
		}
		store = snapStore
	}

	// 3. Remote transport adapters.
	client := remote.NewClient(remote.ClientConfig{
		BaseURL:    cfg.Remote.BaseURL,
		APIKey:     cfg.Remote.APIKey,
		Timeout:    config.Duration(cfg.Remote.Timeout, 10*time.Second),
		RetryCount: cfg.Remote.RetryCount,
	}, log.Logger)

	var feed domain.ChangeFeedSource
	if cfg.Remote.FeedURL != "" {
		feed = remote.NewFeed(remote.FeedConfig{URL: cfg.Remote.FeedURL}, log.Logger)
	}

	// 4. The sync controller and its HTTP module.
	ctrl := mirror.New(client, feed, store, log.Logger, mirror.Options{
		PageSize:        cfg.Remote.PageSize,
		Freshness:       config.Duration(cfg.Remote.Freshness, 0),
		SearchDebounce:  config.Duration(cfg.Remote.SearchDebounce, 0),
		MinSearchLength: cfg.Remote.MinSearchLength,
		RefetchOnUpdate: cfg.Remote.RefetchOnUpdate,
	})
	ctrl.Start(context.Background(), cfg.Remote.APIKey)

	handler := services.NewHandler(ctrl)

	// 5. Create Gin engine with custom middleware (not gin.Default()).
	if err := validateGinMode(cfg.Server.Mode); err != nil {
		return nil, err
	}
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()

	// Build CORS config from application settings.
	// In release mode, when no allowlist is configured, default to deny cross-origin requests.
	corsConfig := resolveCORSConfig(cfg.Server.Mode, cfg.Server.CORS)

	engine.Use(
		middleware.Recovery(log.Logger),
		middleware.RequestID(),
		middleware.Logger(log.Logger),
		middleware.CORSWithConfig(corsConfig),
	)

	if cfg.Auth.Enabled {
		publicPaths := append([]string{"/health"}, cfg.Auth.PublicPaths...)
		engine.Use(middleware.Auth(middleware.AuthConfig{
			Secret:      []byte(cfg.Auth.JWTSecret),
			PublicPaths: publicPaths,
		}))
	}

	// 6. Register all routes.
	if err := RegisterRoutes(engine, &RouteDeps{
		Modules: []Module{services.NewModule(handler)},
		DB:      db,
		Ctrl:    ctrl,
	}); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	success = true
	return &App{
		engine: engine,
		db:     db,
		logger: log,
		cfg:    cfg,
		ctrl:   ctrl,
	}, nil
}

func resolveCORSConfig(mode string, cors config.CORSConfig) middleware.CORSConfig {
	corsConfig := middleware.DefaultCORSConfig()

	if len(cors.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cors.AllowOrigins
	} else if mode == gin.ReleaseMode {
		corsConfig.AllowOrigins = []string{}
	}
	if len(cors.AllowMethods) > 0 {
		corsConfig.AllowMethods = cors.AllowMethods
	}
	if len(cors.AllowHeaders) > 0 {
		corsConfig.AllowHeaders = cors.AllowHeaders
	}
	if cors.MaxAge != "" {
		corsConfig.MaxAge = cors.MaxAge
	}

	return corsConfig
}

func validateGinMode(mode string) error {
	switch mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		return nil
	default:
		return fmt.Errorf("invalid server.mode %q: must be one of %q, %q, %q", mode, gin.DebugMode, gin.ReleaseMode, gin.TestMode)
	}
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
// It performs graceful shutdown with a 5-second timeout, stops the sync
// controller, and closes the snapshot database connection.
func (a *App) Run() error {
	if a == nil {
		return errors.New("app is nil")
	}
	if a.cfg == nil {
		return errors.New("app config is nil")
	}
	if a.engine == nil {
		return errors.New("app engine is nil")
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := newHTTPServer(addr, a.engine)

	// Listen for SIGINT / SIGTERM.
	ctx, stop := notifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		a.logInfo("server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		a.logInfo("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	if runErr == nil {
		// Graceful shutdown with 5-second deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logError("server shutdown error", slog.Any("error", err))
		}
	}

	// Stop the feed subscription and pending search timers.
	if a.ctrl != nil {
		a.ctrl.Close()
	}

	// Close the snapshot database connection.
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.logError("snapshot database close error", slog.Any("error", err))
			} else {
				a.logInfo("snapshot database connection closed")
			}
		}
	}

	// Close the logger last so shutdown messages are flushed.
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			slog.Error("logger close error", slog.Any("error", err))
		}
	}

	return runErr
}

func (a *App) logInfo(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Info(msg, args...)
		return
	}
	slog.Info(msg, args...)
}

func (a *App) logError(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Error(msg, args...)
		return
	}
	slog.Error(msg, args...)
}
