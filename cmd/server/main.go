package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/config"
	"github.com/aman-churiwal/tenant-admission/internal/logging"
	"github.com/aman-churiwal/tenant-admission/internal/server"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	out := logging.Setup(cfg.Logging)
	if closer, ok := out.(io.Closer); ok && out != os.Stdout {
		defer closer.Close()
	}

	database, err := storage.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			log.WithError(err).Fatal("failed to migrate database")
		}
		log.Info("database migrated")
	}

	var store storage.CounterStore
	if addr := cfg.Redis.GetRedisAddr(); addr != "" {
		redis, err := storage.NewRedis(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		store = redis
		log.WithField("addr", addr).Info("connected to redis")
	} else {
		// Counters are per process; only suitable for a single instance.
		store = storage.NewMemoryStore()
		log.Warn("no redis configured, using in-process counter store")
	}
	defer store.Close()

	srv, err := server.New(cfg, store, database)
	if err != nil {
		log.WithError(err).Fatal("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server exited")
}
