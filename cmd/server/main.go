package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-nvr/internal/api"
	"github.com/technosupport/ts-nvr/internal/config"
	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/detect"
	"github.com/technosupport/ts-nvr/internal/frames"
	"github.com/technosupport/ts-nvr/internal/notify"
	"github.com/technosupport/ts-nvr/internal/pipeline"
	"github.com/technosupport/ts-nvr/internal/status"
	"github.com/technosupport/ts-nvr/internal/stream"
	"github.com/technosupport/ts-nvr/internal/vlm"
)

func main() {
	cfgPath := flag.String("config", "config/default.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	tunables := config.NewTunables(cfg.Tuning)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hot-reload of the tuning section.
	config.StartWatcher(rootCtx, *cfgPath, tunables)

	// DB
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	// NATS is optional: the pipeline keeps working without the bus.
	var publisher notify.Publisher
	if nc, err := nats.Connect(cfg.NATS.URL, nats.Name("ts-nvr")); err != nil {
		log.Printf("Warning: NATS connect failed: %v. Bus publishing disabled.", err)
	} else {
		defer nc.Close()
		publisher = notify.NewNATSPublisher(nc, cfg.NATS.Subject, 3)
	}

	// Repositories
	eventRepo := &data.EventModel{DB: db}
	settingsRepo := &data.SettingsModel{DB: db}
	cameraRepo := &data.CameraModel{DB: db}

	// Frame storage
	frameStore, err := frames.NewStore(cfg.Storage.FramesPath)
	if err != nil {
		log.Fatalf("Frame store error: %v", err)
	}

	// Detection backend: ONNX by default, open-vocab if configured.
	var backend detect.Detector
	modelPath := filepath.Join(cfg.Storage.ModelsPath, "ssd_mobilenet_v2.onnx")
	if onnx, err := detect.NewONNXDetector(modelPath, cfg.Detector.ONNXLibraryPath); err != nil {
		log.Printf("Warning: ONNX backend unavailable: %v", err)
		if cfg.Detector.OpenVocabURL == "" {
			log.Fatalf("No detection backend available")
		}
		backend = detect.NewQueryDetector(cfg.Detector.OpenVocabURL, 0.3, []string{"a person", "a vehicle"})
	} else {
		backend = onnx
	}
	detector := detect.NewManager(backend)
	defer detector.Close()

	// Streams
	registry := stream.NewRegistry(stream.HandlerOpts{
		BufferSize:     cfg.Tuning.StreamBufferSize,
		ReconnectDelay: cfg.Tuning.StreamReconnectDelay,
	})
	defer registry.StopAll()

	// Notifications
	hub := notify.NewWSHub()
	dispatcher := notify.NewDispatcher(publisher, hub,
		notify.NewTelegramChannel(),
		notify.NewEmailChannel(),
	)

	// VLM
	vlmService := vlm.NewService(vlm.NewResponseCache(256, 5*time.Minute))

	// Pipeline orchestrator
	svc := pipeline.NewService(pipeline.Deps{
		Registry: registry,
		Detector: detector,
		Tracker:  detect.NewTracker(0.3, 5),
		Events:   eventRepo,
		Settings: settingsRepo,
		Cameras:  cameraRepo,
		Frames:   frameStore,
		Notifier: dispatcher,
		VLM:      vlmService,
		Tunables: tunables,
	})
	go svc.Run(rootCtx)

	// Status mirror
	statusCache := status.NewCache(rdb, 30*time.Second)
	reporter := status.NewReporter(statusCache, registry, 10*time.Second)
	reporter.LoopRunning = svc.IsLoopRunning
	go reporter.Run(rootCtx)

	// HTTP
	server := &api.Server{
		DB:       db,
		Events:   eventRepo,
		Statuses: statusCache,
		Registry: registry,
		Pipeline: svc,
		Hub:      hub,
	}
	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("HTTP listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] HTTP server: %v", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] HTTP shutdown: %v", err)
	}
	log.Printf("Shutdown complete")
}
