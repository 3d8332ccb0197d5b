package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/fsutil"
	"github.com/book-expert/ich-narrator/internal/metrics"
)

// Flag names shared by every command.
const (
	flagConfig  = "config"
	flagVerbose = "verbose"
)

const (
	flagConfigDesc  = "Path to a TOML configuration file (defaults are used when empty)"
	flagVerboseDesc = "Write a verbose log file"
)

const metricsShutdownTimeout = 5 * time.Second

// app holds the persistent flag values.
type app struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ich-narrator",
		Short:         "Narrate intracerebral hemorrhage cases as speech and avatar video",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, flagConfig, "", flagConfigDesc)
	root.PersistentFlags().BoolVarP(&a.verbose, flagVerbose, "v", false, flagVerboseDesc)

	root.AddCommand(
		newSynthesizeCommand(a),
		newHealthCommand(a),
		newNarrateCommand(a),
		newVideoCommand(a),
		newGuidelineCommand(),
	)

	return root
}

// environment is what a command needs once flags are parsed.
type environment struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	provider *metrics.Provider
	stop     context.CancelFunc
}

// open loads the configuration, applies the command's flag overrides and
// creates the command's log file. Metrics are served when configured.
func (a *app) open(ctx context.Context, name string, flags *overrides) (*environment, error) {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return nil, err
	}

	if flags != nil {
		flags.apply(cfg)
		cfg.Normalize()
	}

	logFileName := "ich-narrator-" + name + ".log"
	if a.verbose {
		logFileName = "ich-narrator-" + name + "-verbose.log"
	}

	err = fsutil.EnsureDir(cfg.Paths.BaseLogsDir)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	env := &environment{cfg: cfg, log: log, stop: func() {}}

	if cfg.Metrics.ListenAddr != "" {
		err = env.serveMetrics(ctx)
		if err != nil {
			_ = log.Close()

			return nil, err
		}
	}

	return env, nil
}

func (e *environment) serveMetrics(ctx context.Context) error {
	provider, err := metrics.NewProvider()
	if err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)

	go func() {
		serveErr := provider.Serve(serveCtx, e.cfg.Metrics.ListenAddr, e.log)
		if serveErr != nil {
			e.log.Error("Metrics endpoint stopped: %v", serveErr)
		}
	}()

	e.provider = provider
	e.metrics = provider.Metrics()
	e.stop = cancel

	return nil
}

func (e *environment) Close() {
	e.stop()

	if e.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		err := e.provider.Shutdown(ctx)
		if err != nil {
			e.log.Warn("Failed to shut down metrics: %v", err)
		}
	}

	err := e.log.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", err)
	}
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}
