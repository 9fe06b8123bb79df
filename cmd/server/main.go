package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/webdav-engine/internal/auth"
	"github.com/webdav-engine/internal/backend/memory"
	"github.com/webdav-engine/internal/backend/sqlstore"
	"github.com/webdav-engine/internal/config"
	"github.com/webdav-engine/internal/middleware"
	"github.com/webdav-engine/internal/storage"
	"github.com/webdav-engine/internal/transport"
	"github.com/webdav-engine/internal/webdav"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "webdav-engine",
		Short:        "WebDAV server with locking and dead property storage",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the WebDAV server",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create database tables for the sql backends",
		RunE:  runMigrate,
	})
	root.AddCommand(&cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for auth.users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger 按配置创建日志
func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// app 进程内组件及其清理函数
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	backend  webdav.Backend
	server   *webdav.Server
	verifier *auth.Verifier
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("close resource")
		}
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	if cfg.Database.Type == "memory" {
		logger.Info("memory backend needs no migration")
		return nil
	}

	db, err := sqlstore.Open(dialectOf(cfg.Database.Type), cfg.GetDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlstore.Migrate(cmd.Context(), db, dialectOf(cfg.Database.Type)); err != nil {
		return err
	}
	logger.WithField("database", cfg.Database.Type).Info("migration completed")
	return nil
}

func dialectOf(dbType string) sqlstore.Dialect {
	if dbType == "postgres" {
		return sqlstore.DialectPostgres
	}
	return sqlstore.DialectSQLite
}

// buildApp 按配置组装后端、授权、锁插件与引擎
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg.Logging)}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.backend = backend

	registry, err := a.openRegistry(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := auth.LoadPolicy(ctx, cfg.Auth.PolicyFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	authService := auth.NewService(policy, registry, cfg.Auth.Anonymous, a.logger)

	plugins, err := webdav.NewPluginRegistry(webdav.NewLockPlugin(webdav.LockOptions{
		DefaultTimeout: cfg.Locks.DefaultTimeout,
		MaxTimeout:     cfg.Locks.MaxTimeout,
	}))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server = webdav.NewServer(backend, authService, plugins, a.logger)
	a.server.Options.Realm = cfg.Server.Realm
	if cfg.IsProduction() && len(cfg.Auth.Users) == 0 && cfg.Auth.JWTSecret == "" {
		a.logger.Warn("no users or jwt secret configured, only anonymous access is possible")
	}
	a.verifier = auth.NewVerifier(cfg.Auth.Users, cfg.Auth.JWTSecret, cfg.Auth.CacheSize)
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (webdav.Backend, error) {
	cfg := a.cfg
	if cfg.Database.Type == "memory" {
		a.logger.Info("using in-memory backend")
		return memory.New(), nil
	}

	dialect := dialectOf(cfg.Database.Type)
	db, err := sqlstore.Open(dialect, cfg.GetDSN())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.logger.WithField("database", cfg.Database.Type).Info("connected to database")

	var blobs sqlstore.BlobStore
	if cfg.Storage.Type == "minio" {
		svc, err := storage.NewService(cfg.Storage.MinIO)
		if err != nil {
			return nil, err
		}
		if err := svc.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		blobs = svc
		a.logger.WithField("bucket", cfg.Storage.MinIO.BucketName).Info("storing content in minio")
	}

	store := sqlstore.New(db, dialect, blobs, a.logger)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) openRegistry(ctx context.Context) (auth.LockRegistry, error) {
	cfg := a.cfg.Locks
	if cfg.Registry != "redis" {
		return auth.NewMemoryRegistry(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.logger.WithField("address", cfg.Redis.Address).Info("connected to redis")

	// 归属记录不能早于锁本身过期
	return auth.NewRedisRegistry(client, cfg.Redis.Prefix, cfg.MaxTimeout), nil
}

// router 创建gin路由
func (a *app) router() *gin.Engine {
	gin.SetMode(a.cfg.GetGINMode())
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	if a.cfg.Server.EnableCORS {
		router.Use(middleware.CORSMiddleware())
	}

	router.GET("/health", handleHealth(a.cfg.Database.Type))
	router.POST("/api/auth/token", handleToken(a.verifier))

	dav := router.Group("")
	dav.Use(middleware.AuthMiddleware(a.verifier, a.cfg.Server.Realm, a.logger))
	transport.NewHandler(a.server, a.cfg.Server.Prefix).Register(dav)
	return router
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	srv := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        a.router(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("start server: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
