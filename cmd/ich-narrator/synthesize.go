package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/batch"
	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/objectstore"
	"github.com/book-expert/ich-narrator/internal/tts"
)

func newSynthesizeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize one WAV per narrative in the input JSON",
		Args:  cobra.NoArgs,
	}

	flags := newOverrides(cmd)
	registerEngineFlags(flags)

	flags.String("input-json", "Input JSON file path", func(c *config.Config) *string { return &c.Batch.InputJSON })
	flags.String("output-dir", "Directory to save wav files", func(c *config.Config) *string { return &c.Batch.OutputDir })
	flags.Int("limit", "Optional cap on number of items to synthesize", func(c *config.Config) *int { return &c.Batch.Limit })
	flags.Bool("dry-run", "Do not synthesize audio; only process and log",
		func(c *config.Config) *bool { return &c.Batch.DryRun })
	flags.Bool("resume", "Skip items whose output files already exist",
		func(c *config.Config) *bool { return &c.Batch.Resume })
	flags.String("filename-field", "Field name in JSON item used to derive output filename",
		func(c *config.Config) *string { return &c.Batch.FilenameField })
	flags.Bool("write-metadata", "Write a JSON sidecar with metadata for each item",
		func(c *config.Config) *bool { return &c.Batch.WriteMetadata })
	flags.Bool("strip-newlines", "Normalize newlines to spaces in cleaned text",
		func(c *config.Config) *bool { return &c.Batch.StripNewlines })
	flags.Negated("no-acronym", "Disable acronym expansion (ICH -> intracerebral hemorrhage)",
		func(c *config.Config) *bool { return &c.Batch.ExpandAcronyms })
	flags.Int("retries", "Number of retries per item on synthesis failure",
		func(c *config.Config) *int { return &c.Batch.Retries })
	flags.Float64("sleep-seconds", "Seconds to sleep between items",
		func(c *config.Config) *float64 { return &c.Batch.SleepSeconds })
	flags.String("hooks-log", "Optional JSONL log for per-item telemetry",
		func(c *config.Config) *string { return &c.Batch.HooksLog })
	flags.String("run-summary", "Optional summary JSON with run aggregates",
		func(c *config.Config) *string { return &c.Batch.RunSummary })
	flags.Int("max-failures", "Abort run after this many failures (0 disables)",
		func(c *config.Config) *int { return &c.Batch.MaxFailures })
	flags.Bool("upload-audio", "Also store each WAV in the NATS object store",
		func(c *config.Config) *bool { return &c.Batch.UploadAudio })

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		env, err := a.open(cmd.Context(), "synthesize", flags)
		if err != nil {
			return err
		}
		defer env.Close()

		synth, err := tts.New(env.cfg, env.log)
		if err != nil {
			return err
		}

		opts := []batch.Option{batch.WithMetrics(env.metrics)}

		if env.cfg.Batch.UploadAudio && !env.cfg.Batch.DryRun {
			natsConnection, store, connectErr := connectObjectStore(env.cfg.NATS)
			if connectErr != nil {
				return connectErr
			}
			defer natsConnection.Close()

			opts = append(opts, batch.WithObjectStore(store))
		}

		runner, err := batch.NewRunner(env.cfg, synth, env.log, opts...)
		if err != nil {
			return err
		}

		result, err := runner.Run(cmd.Context())

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Succeeded: %d, failed: %d, skipped: %d\n", result.Successes, result.Failures, result.Skipped)

		if result.Aborted {
			fmt.Fprintln(out, "Run aborted after reaching max failures")
		}

		fmt.Fprintf(out, "%.6f seconds\n", result.Elapsed.Seconds())

		return err
	}

	return cmd
}

// registerEngineFlags adds the voice and engine options shared by synthesize
// and health.
func registerEngineFlags(flags *overrides) {
	flags.String("engine", "Synthesis engine: http, cli or heygem", func(c *config.Config) *string { return &c.TTS.Engine })
	flags.String("service-url", "Base URL of the speech server (http engine)",
		func(c *config.Config) *string { return &c.TTS.ServiceURL })
	flags.String("binary-path", "TTS command (cli engine)", func(c *config.Config) *string { return &c.TTS.BinaryPath })
	flags.String("model-name", "TTS model name", func(c *config.Config) *string { return &c.TTS.ModelName })
	flags.String("speaker-wav", "Reference speaker wav path", func(c *config.Config) *string { return &c.TTS.SpeakerWAV })
	flags.String("language", "Language code", func(c *config.Config) *string { return &c.TTS.Language })
	flags.Negated("cpu", "Force CPU inference", func(c *config.Config) *bool { return &c.TTS.GPU })
}

func connectObjectStore(cfg config.NATSConfig) (*nats.Conn, *objectstore.NatsObjectStore, error) {
	natsConnection, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	return natsConnection, store, nil
}
