package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"etl-personal/internal/config"
	"etl-personal/internal/model"
	"etl-personal/internal/pipeline"
	"etl-personal/internal/secrets"
	"etl-personal/internal/source"
	"etl-personal/internal/state"
	"etl-personal/internal/transform"
	"etl-personal/internal/warehouse"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	only := flag.String("source", "", "Run only the source with this id")
	reset := flag.String("reset-watermark", "", "Reset the watermark for this source id and exit")
	flag.Parse()

	// Configure global logger (timestamped, info level by default).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Local runs keep DSN passwords and the GCP project in a .env file.
	_ = godotenv.Load()

	// Load configuration file.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Prepare cancellable context that listens to OS signals (Ctrl+C).
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()

	// Open the warehouse; the state tracker shares the same database.
	db, err := warehouse.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open warehouse: %v", err)
	}

	tracker, err := state.New(db)
	if err != nil {
		log.Fatalf("failed to initialise state tracker: %v", err)
	}

	if *reset != "" {
		if err := tracker.Reset(ctx, *reset); err != nil {
			log.Fatalf("failed to reset watermark for %q: %v", *reset, err)
		}
		logrus.Infof("watermark for source %q reset", *reset)
		return
	}

	// Build the secret backend based on configuration.
	var backend secrets.Backend
	switch cfg.Secrets.Backend {
	case "gcp":
		b, err := secrets.NewGCPBackend(ctx, cfg.Secrets.GCP.Project)
		if err != nil {
			log.Fatalf("failed to initialise secret manager backend: %v", err)
		}
		defer b.Close()
		backend = b
	case "dir":
		b, err := secrets.NewDirBackend(cfg.Secrets.Dir.Path)
		if err != nil {
			log.Fatalf("failed to initialise directory secret backend: %v", err)
		}
		backend = b
	default:
		log.Fatalf("unsupported secrets backend: %s", cfg.Secrets.Backend)
	}

	names := make(map[string]secrets.Names, len(cfg.Sources))
	for _, s := range cfg.Sources {
		names[s.ID] = secrets.Names{Client: s.ClientSecret, Token: s.TokenSecret}
	}
	store := secrets.NewStore(backend, names)

	// Build connectors from configuration.
	var sources []source.Source
	for _, s := range cfg.Sources {
		if *only != "" && s.ID != *only {
			continue
		}
		switch s.Type {
		case "email":
			sources = append(sources, source.NewEmail(s, cfg.Retry))
		case "activity":
			sources = append(sources, source.NewActivity(s, cfg.Retry))
		default:
			log.Fatalf("unsupported source type: %s", s.Type)
		}
	}
	if len(sources) == 0 {
		log.Fatalf("no sources selected")
	}

	// Wrap the loader with automatic retry logic.
	loader := warehouse.NewRetryLoader(warehouse.NewSQLLoader(db, cfg.BatchSize), cfg.Retry.Attempts, cfg.Retry.DelayMS)

	transforms := make(map[model.EntityType]func(model.RawRecord) (model.CanonicalRecord, error))
	for _, src := range sources {
		tf, err := transform.ForEntity(src.Entity())
		if err != nil {
			log.Fatalf("failed to resolve transformer: %v", err)
		}
		transforms[src.Entity()] = tf
	}

	orch := pipeline.New(store, tracker, loader, sources, transforms, pipeline.Options{
		Attempts:  cfg.Retry.Attempts,
		DelayMS:   cfg.Retry.DelayMS,
		BatchSize: cfg.BatchSize,
		LeaseTTL:  time.Duration(cfg.LeaseTTLMinutes) * time.Minute,
	})

	summaries := orch.Run(ctx)
	if pipeline.AnyFailed(summaries) {
		os.Exit(1)
	}
}
