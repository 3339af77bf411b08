package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/conversation"
	"github.com/cjdem/grok2api/internal/logging"
	"github.com/cjdem/grok2api/internal/monitoring/tracing"
	srv "github.com/cjdem/grok2api/internal/server"
	"github.com/cjdem/grok2api/internal/upstream/grok"
	"github.com/cjdem/grok2api/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	defer cfg.Stop()
	if *debug {
		cfg.Get().Debug = true
	}

	if err := logging.Setup(cfg.Get()); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	cfg.OnChange(func(snap *config.FileConfig) {
		if err := logging.Setup(snap); err != nil {
			log.WithError(err).Warn("failed to reconfigure logging")
		}
	})
	cfg.StartWatcher()

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.Infof("Starting grok2api %s (config: %s)", version.Version, *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(cfg.Get())
	if err != nil {
		// A broken external backend must not keep the gateway down; fall back
		// to the embedded store.
		log.WithError(err).Warn("primary storage backend failed; falling back to sqlite")
		store, err = conversation.NewSQLite(cfg.Get().SQLitePath)
		if err != nil {
			log.WithError(err).Fatal("sqlite fallback failed")
		}
	}
	defer store.Close()

	srv.StartJanitor(ctx, cfg, store)

	engine := srv.BuildEngine(cfg, srv.Dependencies{
		Store: store,
		Grok:  grok.New(cfg),
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Get().Port),
		Handler: engine,
	}

	go func() {
		log.Infof("API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)

	time.Sleep(constants.ServerGracefulWait)
	log.Info("Server stopped")
}

func buildStore(snap *config.FileConfig) (conversation.Store, error) {
	switch strings.ToLower(strings.TrimSpace(snap.StorageBackend)) {
	case "", "sqlite":
		return conversation.NewSQLite(snap.SQLitePath)
	case "postgres", "postgresql":
		return conversation.NewPostgres(snap.PostgresDSN)
	case "redis":
		return conversation.NewRedis(snap.RedisAddr, snap.RedisPassword, snap.RedisDB, snap.RedisPrefix)
	case "mongo", "mongodb":
		return conversation.NewMongo(snap.MongoDBURI, snap.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", snap.StorageBackend)
	}
}
