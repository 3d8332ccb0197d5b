package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/book-expert/ich-narrator/internal/guideline"
)

const sourceAll = "all"

func newGuidelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guideline",
		Short: "Browse the embedded ICH guideline and clinical trial summaries",
	}

	cmd.AddCommand(newGuidelineSearchCommand(), newGuidelineExportCommand())

	return cmd
}

func newGuidelineSearchCommand() *cobra.Command {
	var (
		source string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Print the sections that mention QUERY",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := guideline.NewRepository()
			query := strings.Join(args, " ")

			var (
				matches []string
				err     error
			)

			if source == sourceAll {
				matches = repo.SearchAll(query)
			} else {
				matches, err = repo.Search(query, source)
				if err != nil {
					return err
				}
			}

			if limit > 0 {
				matches = guideline.Summarize(matches, limit)
			}

			out := cmd.OutOrStdout()

			if len(matches) == 0 {
				fmt.Fprintf(out, "No sections mention %q\n", query)

				return nil
			}

			fmt.Fprintln(out, strings.Join(matches, "\n\n"))

			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", sourceAll, "guideline, clinical_trials or all")
	cmd.Flags().IntVar(&limit, "limit", 0, "Print at most N sections (0 = all)")

	return cmd
}

func newGuidelineExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print both documents as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := guideline.NewRepository().ExportJSON()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			return nil
		},
	}
}
