// main package for the tts-service: narrates text events from NATS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/fsutil"
	"github.com/book-expert/ich-narrator/internal/metrics"
	"github.com/book-expert/ich-narrator/internal/objectstore"
	"github.com/book-expert/ich-narrator/internal/tts"
	"github.com/book-expert/ich-narrator/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "tts-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(ctx context.Context) error {
	bootstrapLog, err := logger.New(os.TempDir(), "tts-service-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer bootstrapLog.Close()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = fsutil.EnsureDir(cfg.Paths.BaseLogsDir)
	if err != nil {
		return err
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	synthesizer, err := tts.New(cfg, log)
	if err != nil {
		log.Error("Failed to create %s engine: %v", cfg.TTS.Engine, err)

		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		log.Error("Failed to open object store: %v", err)

		return err
	}

	var m *metrics.Metrics

	if cfg.Metrics.ListenAddr != "" {
		provider, providerErr := metrics.NewProvider()
		if providerErr != nil {
			return providerErr
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			_ = provider.Shutdown(shutdownCtx)
		}()

		go func() {
			serveErr := provider.Serve(ctx, cfg.Metrics.ListenAddr, log)
			if serveErr != nil {
				log.Error("Metrics endpoint stopped: %v", serveErr)
			}
		}()

		m = provider.Metrics()
	}

	log.System("TTS-Service initialized with the %s engine. Listening for narratives on subject: %s",
		cfg.TTS.Engine, cfg.NATS.NarrativeSubject)

	err = worker.NewNatsWorker(natsConnection, cfg, store, synthesizer, m, log).Run(ctx)
	if err != nil {
		log.Error("Worker stopped: %v", err)

		return err
	}

	log.System("TTS-Service stopped.")

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
