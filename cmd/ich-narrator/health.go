package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/tts"
)

const healthCheckTimeout = 10 * time.Second

func newHealthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the configured synthesis engine is reachable",
		Args:  cobra.NoArgs,
	}

	flags := newOverrides(cmd)
	registerEngineFlags(flags)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		env, err := a.open(cmd.Context(), "health", flags)
		if err != nil {
			return err
		}
		defer env.Close()

		synth, err := tts.New(env.cfg, env.log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), healthCheckTimeout)
		defer cancel()

		err = synth.HealthCheck(ctx)
		if err != nil {
			env.log.Error("Health check failed: %v", err)

			return fmt.Errorf("%s engine is not healthy: %w", env.cfg.TTS.Engine, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s engine is healthy\n", env.cfg.TTS.Engine)

		return nil
	}

	return cmd
}
