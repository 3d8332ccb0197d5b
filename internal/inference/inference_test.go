package inference_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/book-expert/ich-narrator/internal/guideline"
	"github.com/book-expert/ich-narrator/internal/inference"
)

var errModelDown = errors.New("model down")

// echoCompleter answers with the case's imaging findings so order can be checked.
type echoCompleter struct {
	mu          sync.Mutex
	prompts     int
	failOn      string
	noReasoning bool
}

func (e *echoCompleter) Complete(_ context.Context, prompt string) (inference.Answer, error) {
	e.mu.Lock()
	e.prompts++
	e.mu.Unlock()

	if e.failOn != "" && strings.Contains(prompt, e.failOn) {
		return inference.Answer{}, errModelDown
	}

	role := "patient"
	if strings.HasPrefix(prompt, "As a medical agent") {
		role = "doctor"
	}

	findings := ""

	for _, line := range strings.Split(prompt, "\n") {
		if value, ok := strings.CutPrefix(line, "Imaging findings: "); ok {
			findings = value
		}
	}

	if e.noReasoning {
		return inference.Answer{Content: role + ":" + findings}, nil
	}

	reasoning := "thinking about " + findings

	return inference.Answer{ReasoningContent: &reasoning, Content: role + ":" + findings}, nil
}

func newInferenceRunner(t *testing.T, outputDir string, concurrency int, completer inference.Completer) *inference.Runner {
	t.Helper()

	log, err := logger.New(t.TempDir(), "inference-test.log")
	require.NoError(t, err)

	cfg := llmConfig("http://unused")
	cfg.OutputDir = outputDir
	cfg.Concurrency = concurrency

	return inference.NewRunner(cfg, completer, inference.NewPromptBuilder(guideline.NewRepository()), nil, log)
}

func patientCSV(t *testing.T, rows int) string {
	t.Helper()

	var builder strings.Builder

	builder.WriteString("Imaging findings,Impression,Medical history,Laboratory Tests," +
		"label_1_volume_mL,label_2_volume_mL,label_3_volume_mL\n")

	for i := range rows {
		builder.WriteString("finding-")
		builder.WriteString(string(rune('A' + i)))
		builder.WriteString(",ICH,none,normal,10,0,2\n")
	}

	return writeFile(t, "patients.csv", builder.String())
}

func TestRunner_WritesOrderedResults(t *testing.T) {
	t.Parallel()

	outputDir := filepath.Join(t.TempDir(), "results")
	completer := &echoCompleter{}

	results, err := newInferenceRunner(t, outputDir, 3, completer).Run(context.Background(), patientCSV(t, 5))
	require.NoError(t, err)

	assert.Equal(t, 10, completer.prompts)
	require.Len(t, results.Patient, 5)

	for i := range 5 {
		finding := "finding-" + string(rune('A'+i))
		assert.Equal(t, "patient:"+finding, results.Patient[i].Content)
		assert.Equal(t, "doctor:"+finding, results.Doctor[i].Content)
	}

	raw, err := os.ReadFile(filepath.Join(outputDir, inference.PatientResultsFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "[\n    {\n        \"reasoning_content\""))

	var written []inference.Answer
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Equal(t, results.Patient, written)

	assert.FileExists(t, filepath.Join(outputDir, inference.DoctorResultsFile))
}

func TestRunner_WritesWorkbookAndCSVCopies(t *testing.T) {
	t.Parallel()

	outputDir := filepath.Join(t.TempDir(), "results")

	_, err := newInferenceRunner(t, outputDir, 2, &echoCompleter{}).Run(context.Background(), patientCSV(t, 2))
	require.NoError(t, err)

	book, err := excelize.OpenFile(filepath.Join(outputDir, "patient_results.xlsx"))
	require.NoError(t, err)

	defer book.Close()

	sheetRows, err := book.GetRows(book.GetSheetList()[0])
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"reasoning_content", "content"},
		{"thinking about finding-A", "patient:finding-A"},
		{"thinking about finding-B", "patient:finding-B"},
	}, sheetRows)

	file, err := os.Open(filepath.Join(outputDir, "doctor_results.csv"))
	require.NoError(t, err)

	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"reasoning_content", "content"},
		{"thinking about finding-A", "doctor:finding-A"},
		{"thinking about finding-B", "doctor:finding-B"},
	}, records)

	assert.FileExists(t, filepath.Join(outputDir, "doctor_results.xlsx"))
	assert.FileExists(t, filepath.Join(outputDir, "patient_results.csv"))
}

func TestRunner_MissingReasoningLeavesEmptyCells(t *testing.T) {
	t.Parallel()

	outputDir := filepath.Join(t.TempDir(), "results")

	_, err := newInferenceRunner(t, outputDir, 1, &echoCompleter{noReasoning: true}).
		Run(context.Background(), patientCSV(t, 1))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(outputDir, "patient_results.csv"))
	require.NoError(t, err)
	assert.Equal(t, "reasoning_content,content\n,patient:finding-A\n", string(raw))

	book, err := excelize.OpenFile(filepath.Join(outputDir, "patient_results.xlsx"))
	require.NoError(t, err)

	defer book.Close()

	reasoning, err := book.GetCellValue(book.GetSheetList()[0], "A2")
	require.NoError(t, err)
	assert.Empty(t, reasoning)

	content, err := book.GetCellValue(book.GetSheetList()[0], "B2")
	require.NoError(t, err)
	assert.Equal(t, "patient:finding-A", content)
}

func TestRunner_StopsOnError(t *testing.T) {
	t.Parallel()

	outputDir := filepath.Join(t.TempDir(), "results")
	completer := &echoCompleter{failOn: "finding-B"}

	_, err := newInferenceRunner(t, outputDir, 1, completer).Run(context.Background(), patientCSV(t, 3))
	require.ErrorIs(t, err, errModelDown)
	assert.Contains(t, err.Error(), "row 2")
	assert.NoFileExists(t, filepath.Join(outputDir, inference.PatientResultsFile))
}
