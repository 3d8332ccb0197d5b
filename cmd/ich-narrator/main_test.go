package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/ich-narrator/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCommand()

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "project.toml")
	content := fmt.Sprintf("[paths]\nbase_logs_dir = %q\n\n%s", filepath.Join(dir, "logs"), body)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func writeNarratives(t *testing.T, dir string, count int) string {
	t.Helper()

	entries := make([]string, count)
	for i := range entries {
		entries[i] = fmt.Sprintf(`{"content": "Narrative %d: ICH volume 12 mL."}`, i+1)
	}

	path := filepath.Join(dir, "patient_results.json")
	require.NoError(t, os.WriteFile(path, []byte("["+strings.Join(entries, ",")+"]"), 0o600))

	return path
}

func TestOverrides_OnlyChangedFlags(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{Use: "test"}
	flags := newOverrides(cmd)
	flags.Int("retries", "", func(c *config.Config) *int { return &c.Batch.Retries })
	flags.Float64("sleep-seconds", "", func(c *config.Config) *float64 { return &c.Batch.SleepSeconds })
	flags.Negated("no-acronym", "", func(c *config.Config) *bool { return &c.Batch.ExpandAcronyms })
	flags.Negated("cpu", "", func(c *config.Config) *bool { return &c.TTS.GPU })

	require.NoError(t, cmd.ParseFlags([]string{"--retries", "3", "--no-acronym"}))

	cfg := config.Default()
	cfg.Batch.SleepSeconds = 1.5
	flags.apply(cfg)

	assert.Equal(t, 3, cfg.Batch.Retries)
	assert.InDelta(t, 1.5, cfg.Batch.SleepSeconds, 1e-9)
	assert.False(t, cfg.Batch.ExpandAcronyms)
	assert.True(t, cfg.TTS.GPU)
}

func TestSynthesizeCommand(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		texts []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		texts = append(texts, string(body))
		mu.Unlock()

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFtest"))
	}))
	defer server.Close()

	dir := t.TempDir()
	outputDir := filepath.Join(dir, "audio")
	configPath := writeConfig(t, dir, fmt.Sprintf("[tts]\nservice_url = %q\n\n[batch]\noutput_dir = %q\n",
		server.URL, outputDir))

	out, err := execute(t, "synthesize",
		"--config", configPath,
		"--input-json", writeNarratives(t, dir, 3),
		"--limit", "2",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Succeeded: 2, failed: 0, skipped: 0")
	assert.Regexp(t, `\d+\.\d{6} seconds`, out)
	assert.FileExists(t, filepath.Join(outputDir, "001.wav"))
	assert.FileExists(t, filepath.Join(outputDir, "002.wav"))
	assert.NoFileExists(t, filepath.Join(outputDir, "003.wav"))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "intracerebral hemorrhage volume 12 milliliters")
}

func TestHealthCommand(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()

	out, err := execute(t, "health", "--config", writeConfig(t, dir, ""), "--service-url", server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "http engine is healthy")
}

func TestVideoCommand_DryRunWritesMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	metadataDir := filepath.Join(dir, "meta")

	out, err := execute(t, "video",
		"--config", writeConfig(t, dir, ""),
		"--text-file", writeNarratives(t, dir, 2),
		"--metadata-dir", metadataDir,
		"--audio-base-url", "http://files/audio",
		"--dry-run",
		"--write-metadata",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Submitted: 2, failed: 0, skipped: 0")

	raw, err := os.ReadFile(filepath.Join(metadataDir, "002.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"audio": "http://files/audio/002.wav"`)
}

func TestNarrateCommand_RequiresData(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "narrate", "--model", "Qwen3-30B-A3B")
	require.ErrorIs(t, err, errDataPathEmpty)
}

func TestGuidelineSearchCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "guideline", "search", "hematoma", "--source", "guideline", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "hematoma")

	_, err = execute(t, "guideline", "search", "hematoma", "--source", "textbook")
	require.Error(t, err)
}
