package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"florapredict/config"
	"florapredict/db"
	qhttp "florapredict/http"
	"florapredict/logger"
	"florapredict/ml"
	"florapredict/monitoring"
	"florapredict/pipeline"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	// 1. Load config
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.Must(cfg.Log)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	// 2. Load the artifact pair; the server starts even when it is missing
	schema := ml.PlantSchema()
	holder := pipeline.NewHolder(nil)
	reloader := pipeline.NewReloader(holder, func() (*pipeline.Pipeline, error) {
		return pipeline.Load(schema, cfg.Artifacts.ModelType, cfg.Artifacts.ModelPath, cfg.Artifacts.EncodersPath)
	}, log)
	if err := reloader.Reload(); err != nil {
		log.Warn("serving without a model until the artifacts load", zap.String("model", cfg.Artifacts.ModelPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Artifacts.Watch {
		go func() {
			if err := reloader.Watch(ctx, cfg.Artifacts.ModelPath, cfg.Artifacts.EncodersPath); err != nil {
				log.Error("artifact watcher stopped", zap.Error(err))
			}
		}()
	}

	// 3. Initialize sinks
	opts := []pipeline.Option{}
	var store *db.Store
	if cfg.Database.Path != "" {
		if err := ensureDir(cfg.Database.Path); err != nil {
			log.Fatal("failed to create database directory", zap.Error(err))
		}
		store, err = db.NewStore(cfg.Database.Path, schema)
		if err != nil {
			log.Fatal("failed to initialize database", zap.Error(err))
		}
		defer store.Close()
		log.Info("database initialized", zap.String("path", cfg.Database.Path))
		opts = append(opts, pipeline.WithSink(store))
	}
	if cfg.PredictionLog.CSVPath != "" {
		if err := ensureDir(cfg.PredictionLog.CSVPath); err != nil {
			log.Fatal("failed to create prediction log directory", zap.Error(err))
		}
		opts = append(opts, pipeline.WithSink(pipeline.NewCSVSink(cfg.PredictionLog.CSVPath, schema)))
	}

	hub := monitoring.NewWebSocketHub(log, cfg.HTTP.AllowedOrigins)
	go hub.Start()
	defer hub.Stop()

	metrics := monitoring.NewMetricsCollector()
	cache, err := pipeline.NewResultCache(cfg.Cache.Size)
	if err != nil {
		log.Fatal("failed to create result cache", zap.Error(err))
	}
	opts = append(opts, pipeline.WithSink(hub), pipeline.WithObserver(metrics), pipeline.WithCache(cache))

	service := pipeline.NewService(holder, log, opts...)
	hub.SetPredictor(service)

	// 4. Start HTTP server
	handler := qhttp.NewHandler(qhttp.Options{
		Service: service,
		Store:   store,
		Metrics: metrics,
		Hub:     hub,
		Logger:  log,
	})
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, handler, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// 5. Handle graceful shutdown
	<-ctx.Done()
	log.Info("shutting down")

	if err := server.Stop(); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	log.Info("exiting")
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
