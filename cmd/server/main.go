package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/c1767673917/products-b-test-sub004/internal/config"
	"github.com/c1767673917/products-b-test-sub004/internal/fieldmap"
	"github.com/c1767673917/products-b-test-sub004/internal/images"
	"github.com/c1767673917/products-b-test-sub004/internal/logging"
	"github.com/c1767673917/products-b-test-sub004/internal/source"
	"github.com/c1767673917/products-b-test-sub004/internal/storage"
	"github.com/c1767673917/products-b-test-sub004/internal/store"
	"github.com/c1767673917/products-b-test-sub004/internal/syncer"
	"github.com/c1767673917/products-b-test-sub004/internal/transform"
	"github.com/c1767673917/products-b-test-sub004/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"image_workers", cfg.Sync.ImageWorkers,
		"feishu_page_size", cfg.Feishu.PageSize,
	)

	// The mapping table is static; a broken mapping must stop the process.
	table, err := fieldmap.LoadProductTable()
	if err != nil {
		slog.Error("invalid field mapping table", "error", err)
		os.Exit(1)
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	if err := store.EnsureSchema(ctx, pool); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Object storage for resolved images
	objectStore, err := storage.NewS3Store(storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.Bucket,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UsePathStyle:  cfg.Storage.UsePathStyle,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		slog.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		slog.Error("failed to ensure storage bucket", "error", err)
		os.Exit(1)
	}

	// Source API client
	feishu := source.NewFeishuClient(source.FeishuConfig{
		BaseURL:           cfg.Feishu.BaseURL,
		AppID:             cfg.Feishu.AppID,
		AppSecret:         cfg.Feishu.AppSecret,
		AppToken:          cfg.Feishu.AppToken,
		TableID:           cfg.Feishu.TableID,
		PageSize:          cfg.Feishu.PageSize,
		RequestsPerSecond: cfg.Feishu.RequestsPerSecond,
		Timeout:           cfg.Feishu.Timeout,
	})

	// Image resolution with the persistent token cache
	imageCache := store.NewImageCache(pool)
	resolver := images.NewResolver(imageCache, feishu, objectStore, cfg.Sync.ImageCallTimeout)

	productStore := store.NewProductStore(pool)
	runStore := store.NewRunStore(pool)

	svc := syncer.NewService(feishu, transform.New(table), resolver, productStore, syncer.Options{
		ImageWorkers: cfg.Sync.ImageWorkers,
		RunTimeout:   cfg.Sync.RunTimeout,
		Archiver:     runStore,
	})

	server := web.NewServer(svc, productStore, runStore, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Let in-flight image uploads finish within the shutdown window.
		if err := svc.Drain(shutdownCtx); err != nil {
			slog.Warn("image workers did not drain in time", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
