package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/xpp-chat/backend/internal/cache"
	"github.com/xpp-chat/backend/internal/config"
	"github.com/xpp-chat/backend/internal/db"
	"github.com/xpp-chat/backend/internal/handler"
	"github.com/xpp-chat/backend/internal/logger"
	"github.com/xpp-chat/backend/internal/password"
	"github.com/xpp-chat/backend/internal/service"
	"github.com/xpp-chat/backend/internal/token"
)

// @title XPP WeChat Backend API
// @version 1.0.0
// @description User registration, login and single-session token verification.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xpp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging, "xpp-backend")
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := openUserStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer users.Close()
	log.Info("user store ready", map[string]interface{}{"driver": cfg.Database.Driver})

	sessions, err := openSessionCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer sessions.Close()
	log.Info("session cache ready", map[string]interface{}{"driver": cfg.Cache.Driver})

	hasher, err := password.New(password.Config{
		Kind: cfg.Auth.PasswordHasher,
		Argon2: password.Argon2Params{
			Memory:      cfg.Auth.Argon2.Memory,
			Time:        cfg.Auth.Argon2.Time,
			Parallelism: cfg.Auth.Argon2.Parallelism,
		},
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(token.Config{
		Secret: cfg.Auth.JWTSecret,
		TTL:    cfg.Auth.TokenTTL,
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	authService, err := service.NewAuthService(users, hasher, codec, sessions, log)
	if err != nil {
		return err
	}

	router := handler.NewRouter(handler.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		Dependencies: map[string]handler.Pinger{
			"database": users,
			"cache":    sessions,
		},
	}, authService, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("received shutdown signal, stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type userStore interface {
	service.UserStore
	handler.Pinger
	io.Closer
}

func openUserStore(ctx context.Context, cfg config.DatabaseConfig) (userStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return db.OpenPostgres(ctx, cfg.Postgres, cfg.QueryTimeout)
	default:
		return db.OpenSQLite(ctx, cfg.File, cfg.QueryTimeout)
	}
}

type sessionStore interface {
	cache.SessionCache
	io.Closer
}

func openSessionCache(ctx context.Context, cfg config.CacheConfig) (sessionStore, error) {
	if cfg.Driver != config.DriverRedis {
		return cache.NewMemory(), nil
	}
	rdb, err := cache.NewRedisClient(ctx, cache.RedisOptions{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	return cache.NewRedis(rdb), nil
}
