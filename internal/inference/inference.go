// Package inference turns patient tables into patient-facing and
// doctor-facing narratives with a Qwen3 model served by vLLM.
//
// Output files:
//
//	patient_results.json  input of the batch speech synthesizer
//	doctor_results.json
//
// Each list is also saved as .xlsx and .csv next to its JSON file.
package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/fsutil"
	"github.com/book-expert/ich-narrator/internal/metrics"
)

// Output file names.
const (
	PatientResultsFile = "patient_results.json"
	DoctorResultsFile  = "doctor_results.json"
	resultsIndent      = "    "
	workbookExt        = ".xlsx"
	csvExt             = ".csv"
)

// Results holds both answer lists in input row order.
type Results struct {
	Patient []Answer
	Doctor  []Answer
}

// Runner generates narratives for every patient row.
type Runner struct {
	cfg       config.LLMConfig
	completer Completer
	prompts   *PromptBuilder
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewRunner creates a Runner. m may be nil.
func NewRunner(
	cfg config.LLMConfig,
	completer Completer,
	prompts *PromptBuilder,
	m *metrics.Metrics,
	log *logger.Logger,
) *Runner {
	return &Runner{cfg: cfg, completer: completer, prompts: prompts, metrics: m, log: log}
}

// Run reads the table at dataPath, queries the model twice per row and writes
// the result files into the configured output directory. Rows are processed
// by at most cfg.Concurrency workers; the first error cancels the rest.
func (r *Runner) Run(ctx context.Context, dataPath string) (Results, error) {
	rows, headers, err := LoadRows(dataPath, r.cfg.SheetIndex, r.cfg.LimitRows)
	if err != nil {
		return Results{}, err
	}

	cases, err := BuildCases(rows, headers)
	if err != nil {
		return Results{}, err
	}

	r.log.Info("Generating narratives for %d patients with %s", len(cases), r.cfg.Model)

	results := Results{
		Patient: make([]Answer, len(cases)),
		Doctor:  make([]Answer, len(cases)),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, r.cfg.Concurrency))

	for index, patientCase := range cases {
		group.Go(func() error {
			patient, err := r.complete(groupCtx, RolePatient, index, r.prompts.Patient(patientCase))
			if err != nil {
				return err
			}

			doctor, err := r.complete(groupCtx, RoleDoctor, index, r.prompts.Doctor(patientCase))
			if err != nil {
				return err
			}

			results.Patient[index] = patient
			results.Doctor[index] = doctor

			r.log.Info("Row %d/%d done", index+1, len(cases))

			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return Results{}, err
	}

	err = r.write(results)
	if err != nil {
		return Results{}, err
	}

	return results, nil
}

func (r *Runner) complete(ctx context.Context, role string, index int, prompt string) (Answer, error) {
	started := time.Now()

	answer, err := r.completer.Complete(ctx, prompt)
	r.metrics.RecordLLM(ctx, role, time.Since(started), err)

	if err != nil {
		return Answer{}, fmt.Errorf("%s prompt for row %d: %w", role, index+1, err)
	}

	return answer, nil
}

func (r *Runner) write(results Results) error {
	err := fsutil.EnsureDir(r.cfg.OutputDir)
	if err != nil {
		return err
	}

	patientPath := filepath.Join(r.cfg.OutputDir, PatientResultsFile)

	err = writeResults(patientPath, results.Patient)
	if err != nil {
		return err
	}

	doctorPath := filepath.Join(r.cfg.OutputDir, DoctorResultsFile)

	err = writeResults(doctorPath, results.Doctor)
	if err != nil {
		return err
	}

	r.log.Info("Saved patient results to %s", patientPath)
	r.log.Info("Saved doctor results to %s", doctorPath)

	return nil
}

// writeResults writes answers to jsonPath and to .xlsx and .csv siblings.
func writeResults(jsonPath string, answers []Answer) error {
	err := fsutil.WriteJSONIndent(jsonPath, answers, resultsIndent)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath))

	err = writeWorkbook(base+workbookExt, answers)
	if err != nil {
		return err
	}

	return writeCSV(base+csvExt, answers)
}
