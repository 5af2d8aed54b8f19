package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/idcheck/internal/auth"
	"github.com/example/idcheck/internal/config"
	"github.com/example/idcheck/internal/handlers"
	"github.com/example/idcheck/internal/logging"
	"github.com/example/idcheck/internal/metrics"
	"github.com/example/idcheck/internal/repository"
	"github.com/example/idcheck/internal/usecase"
	"github.com/example/idcheck/internal/version"
)

func newServeCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the validation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	// long-lived clients must not inherit the startup deadline
	comp, err := buildPipeline(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Warn("failed to release pipeline resources", zap.Error(err))
		}
	}()

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return err
	}

	cache, err := initCache(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}

	uc := usecase.NewVerificationUseCase(repo, cache, comp.pipeline, cfg.Redis.TTL, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(), requestTimeout(cfg.Server.RequestTimeout))
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	var authMiddleware gin.HandlerFunc
	if cfg.Auth.Enabled {
		authMiddleware = auth.JWTMiddleware(auth.Config{
			Secret:   cfg.Auth.JWTSecret,
			Audience: cfg.Auth.Audience,
			Issuer:   cfg.Auth.Issuer,
		})
	} else {
		logger.Warn("authentication disabled")
	}

	handlers.RegisterRoutes(r, uc, authMiddleware, version.Current(), handlers.WithMaxUploadSize(cfg.Server.MaxUploadBytes))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("ID validation API listening", zap.String("addr", cfg.Server.Addr), zap.String("version", version.Version))
	return serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, logging.NewOperationError("database.connect", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("database.handle", "", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, logging.NewOperationError("database.ping", "", err)
	}
	zapLogger.Info("database connected")
	return db, nil
}

// initCache falls back to no caching when no Redis address is configured.
func initCache(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) (usecase.Cache, error) {
	if cfg.Addr == "" {
		zapLogger.Warn("redis not configured, results are served from the database only")
		return usecase.NopCache{}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, logging.NewOperationError("redis.ping", "", err)
	}
	return usecase.NewRedisCache(client), nil
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
