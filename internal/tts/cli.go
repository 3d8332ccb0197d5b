package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"

	"github.com/book-expert/ich-narrator/internal/core"
)

// ErrBinaryPathEmpty is returned when no TTS command is configured.
var ErrBinaryPathEmpty = errors.New("tts binary path cannot be empty")

// CLISynthesizer implements core.Synthesizer by calling the Coqui TTS command
// line, one process per utterance.
type CLISynthesizer struct {
	binaryPath string
	log        *logger.Logger
}

// NewCLISynthesizer creates a new CLISynthesizer.
func NewCLISynthesizer(binaryPath string, log *logger.Logger) (*CLISynthesizer, error) {
	if binaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	return &CLISynthesizer{
		binaryPath: binaryPath,
		log:        log,
	}, nil
}

// HealthCheck verifies that the TTS binary can be found.
func (p *CLISynthesizer) HealthCheck(_ context.Context) error {
	_, err := exec.LookPath(p.binaryPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnhealthy, err)
	}

	return nil
}

// Synthesize runs the TTS binary and returns the WAV it wrote.
func (p *CLISynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	tempFile, err := os.CreateTemp("", "tts-output-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !os.IsNotExist(removeErr) && p.log != nil {
			p.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	// #nosec G204 -- the binary path comes from the operator's configuration
	cmd := exec.CommandContext(ctx, p.binaryPath, buildCLIArgs(req, tempFile.Name())...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("tts binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

func buildCLIArgs(req core.SynthesisRequest, outPath string) []string {
	args := []string{"--text", req.Text, "--out_path", outPath}

	if req.ModelName != "" {
		args = append(args, "--model_name", req.ModelName)
	}

	if req.SpeakerWAV != "" {
		args = append(args, "--speaker_wav", req.SpeakerWAV)
	}

	if req.Language != "" {
		args = append(args, "--language_idx", req.Language)
	}

	if req.GPU {
		args = append(args, "--use_cuda", "true")
	}

	return args
}
