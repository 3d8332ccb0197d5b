package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/guideline"
	"github.com/book-expert/ich-narrator/internal/inference"
)

const llmRequestTimeout = 30 * time.Minute

var errDataPathEmpty = errors.New("--data is required")

func newNarrateCommand(a *app) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "narrate",
		Short: "Generate patient and doctor narratives for each case with the LLM",
		Args:  cobra.NoArgs,
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Patient table (.xlsx, .csv or .json)")

	flags := newOverrides(cmd)
	flags.String("base-url", "OpenAI-compatible API base URL", func(c *config.Config) *string { return &c.LLM.BaseURL })
	flags.String("api-key", "API key", func(c *config.Config) *string { return &c.LLM.APIKey })
	flags.String("model", "Served model name", func(c *config.Config) *string { return &c.LLM.Model })
	flags.Int("max-tokens", "Maximum completion tokens", func(c *config.Config) *int { return &c.LLM.MaxTokens })
	flags.Float64("temperature", "Sampling temperature", func(c *config.Config) *float64 { return &c.LLM.Temperature })
	flags.Negated("no-thinking", "Disable the model's thinking mode",
		func(c *config.Config) *bool { return &c.LLM.EnableThinking })
	flags.String("output-dir", "Directory for the result files", func(c *config.Config) *string { return &c.LLM.OutputDir })
	flags.Int("limit-rows", "Only process the first N rows (0 = all)", func(c *config.Config) *int { return &c.LLM.LimitRows })
	flags.Int("sheet-index", "Worksheet to read from an .xlsx table", func(c *config.Config) *int { return &c.LLM.SheetIndex })
	flags.Int("concurrency", "Rows processed in parallel", func(c *config.Config) *int { return &c.LLM.Concurrency })

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if dataPath == "" {
			return errDataPathEmpty
		}

		env, err := a.open(cmd.Context(), "narrate", flags)
		if err != nil {
			return err
		}
		defer env.Close()

		client, err := inference.NewClient(env.cfg.LLM, llmRequestTimeout)
		if err != nil {
			return err
		}

		prompts := inference.NewPromptBuilder(guideline.NewRepository())
		runner := inference.NewRunner(env.cfg.LLM, client, prompts, env.metrics, env.log)

		started := time.Now()

		results, err := runner.Run(cmd.Context(), dataPath)
		if err != nil {
			env.log.Error("Narrative generation failed: %v", err)

			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Saved %d patient results to %s\n",
			len(results.Patient), filepath.Join(env.cfg.LLM.OutputDir, inference.PatientResultsFile))
		fmt.Fprintf(out, "Saved %d doctor results to %s\n",
			len(results.Doctor), filepath.Join(env.cfg.LLM.OutputDir, inference.DoctorResultsFile))
		fmt.Fprintf(out, "%.6f seconds\n", time.Since(started).Seconds())

		return nil
	}

	return cmd
}
