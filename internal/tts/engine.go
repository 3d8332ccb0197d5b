package tts

import (
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/core"
)

// New returns the synthesis engine selected by the configuration.
func New(cfg *config.Config, log *logger.Logger) (core.Synthesizer, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid tts configuration: %w", err)
	}

	switch cfg.TTS.Engine {
	case config.EngineCLI:
		return NewCLISynthesizer(cfg.TTS.BinaryPath, log)
	case config.EngineHeygem:
		return NewHeygemClient(cfg.Heygem.BaseURL, cfg.Heygem.SpeakerID, cfg.TTS.Timeout()), nil
	default:
		return NewHTTPClient(cfg.TTS.ServiceURL, cfg.TTS.Timeout()), nil
	}
}

// RequestFromConfig builds the per-utterance request for the configured voice.
func RequestFromConfig(cfg *config.Config, text string) core.SynthesisRequest {
	speaker := cfg.TTS.SpeakerWAV
	if cfg.TTS.Engine == config.EngineHeygem && cfg.Heygem.ReferenceAudio != "" {
		speaker = cfg.Heygem.ReferenceAudio
	}

	return core.SynthesisRequest{
		Text:        text,
		SpeakerWAV:  speaker,
		Language:    cfg.TTS.Language,
		ModelName:   cfg.TTS.ModelName,
		Temperature: cfg.TTS.Temperature,
		GPU:         cfg.TTS.GPU,
	}
}
