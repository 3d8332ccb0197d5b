package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/avatar"
	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/core"
	"github.com/book-expert/ich-narrator/internal/fsutil"
	"github.com/book-expert/ich-narrator/internal/narrative"
	"github.com/book-expert/ich-narrator/internal/normalize"
	"github.com/book-expert/ich-narrator/internal/tts"
)

func newVideoCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Submit one avatar lip-sync job per narrative",
		Args:  cobra.NoArgs,
	}

	flags := newOverrides(cmd)
	flags.String("text-file", "Input JSON file path used for iteration",
		func(c *config.Config) *string { return &c.Batch.InputJSON })
	flags.Int("limit", "Optional cap on number of jobs", func(c *config.Config) *int { return &c.Batch.Limit })
	flags.String("ref-video-path", "Reference video path", func(c *config.Config) *string { return &c.Video.RefVideoPath })
	flags.String("submit-url", "Submit endpoint URL", func(c *config.Config) *string { return &c.Video.SubmitURL })
	flags.String("query-url-base", "Query endpoint base URL", func(c *config.Config) *string { return &c.Video.QueryURLBase })
	flags.String("audio-base-url", "If provided, prefix to audio filenames like 001.wav",
		func(c *config.Config) *string { return &c.Video.AudioBaseURL })
	flags.String("metadata-dir", "Directory for the per-job metadata JSON",
		func(c *config.Config) *string { return &c.Video.MetadataDir })
	flags.Bool("dry-run", "Log actions without submitting", func(c *config.Config) *bool { return &c.Video.DryRun })
	flags.Bool("resume", "Skip tasks that appear already processed (metadata exists)",
		func(c *config.Config) *bool { return &c.Video.Resume })
	flags.Bool("write-metadata", "Write sidecar metadata JSON per task",
		func(c *config.Config) *bool { return &c.Video.WriteMetadata })
	flags.Int("retries", "Submit retry count on failure", func(c *config.Config) *int { return &c.Video.Retries })
	flags.Float64("timeout", "HTTP timeout seconds", func(c *config.Config) *float64 { return &c.Video.TimeoutSeconds })
	flags.Float64("sleep-seconds", "Sleep seconds between tasks", func(c *config.Config) *float64 { return &c.Video.SleepSeconds })
	flags.Bool("poll-progress", "Poll task status after submission",
		func(c *config.Config) *bool { return &c.Video.PollProgress })
	flags.Float64("poll-interval", "Polling interval seconds",
		func(c *config.Config) *float64 { return &c.Video.PollIntervalSeconds })
	flags.Float64("poll-timeout", "Polling max duration seconds",
		func(c *config.Config) *float64 { return &c.Video.PollTimeoutSeconds })
	flags.Bool("synthesize-audio", "Render each narrative with the Heygem speech service before submitting",
		func(c *config.Config) *bool { return &c.Video.SynthesizeAudio })
	flags.Bool("strip-newlines", "Fold synthesized narratives onto one line",
		func(c *config.Config) *bool { return &c.Batch.StripNewlines })
	flags.Negated("no-acronym", "Do not expand ICH in synthesized narratives",
		func(c *config.Config) *bool { return &c.Batch.ExpandAcronyms })

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		env, err := a.open(cmd.Context(), "video", flags)
		if err != nil {
			return err
		}
		defer env.Close()

		cfg := env.cfg

		items, err := narrative.Load(cfg.Batch.InputJSON, cfg.Batch.Limit)
		if err != nil {
			return err
		}

		client := avatar.NewClient(cfg.Video.SubmitURL, cfg.Video.QueryURLBase, seconds(cfg.Video.TimeoutSeconds))
		opts := []avatar.Option{avatar.WithMetrics(env.metrics)}

		if cfg.Video.SynthesizeAudio {
			opts = append(opts, avatar.WithSpeech(heygemSpeech(cfg)))
		}

		if cfg.Video.WriteMetadata {
			err = fsutil.EnsureDir(cfg.Video.MetadataDir)
			if err != nil {
				return err
			}
		}

		result, err := avatar.NewOrchestrator(cfg.Video, client, env.log, opts...).Run(cmd.Context(), items)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Submitted: %d, failed: %d, skipped: %d\n", result.Submitted, result.Failed, result.Skipped)

		if cfg.Video.PollProgress {
			fmt.Fprintf(out, "Completed: %d, timed out: %d\n", result.Completed, result.TimedOut)
		}

		fmt.Fprintf(out, "%.6f seconds\n", result.Elapsed.Seconds())

		return err
	}

	return cmd
}

// heygemSpeech voices narratives with the speech service that ships with the
// avatar platform, cloning the configured reference recording.
func heygemSpeech(cfg *config.Config) *avatar.Speech {
	return &avatar.Speech{
		Synthesizer: tts.NewHeygemClient(cfg.Heygem.BaseURL, cfg.Heygem.SpeakerID, cfg.TTS.Timeout()),
		Request: func(text string) core.SynthesisRequest {
			req := tts.RequestFromConfig(cfg, text)
			req.SpeakerWAV = cfg.Heygem.ReferenceAudio

			return req
		},
		Options: normalize.Options{
			ExpandAcronyms: cfg.Batch.ExpandAcronyms,
			StripNewlines:  cfg.Batch.StripNewlines,
		},
		SaveDir: cfg.Heygem.SaveDir,
	}
}
