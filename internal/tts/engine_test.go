package tts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/tts"
)

func TestNew_SelectsEngine(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	synth, err := tts.New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &tts.HTTPClient{}, synth)

	cfg.TTS.Engine = config.EngineCLI
	synth, err = tts.New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &tts.CLISynthesizer{}, synth)

	cfg.TTS.Engine = config.EngineHeygem
	synth, err = tts.New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &tts.HeygemClient{}, synth)

	cfg.TTS.Engine = "festival"
	_, err = tts.New(cfg, nil)
	require.ErrorIs(t, err, config.ErrUnknownEngine)
}

func TestRequestFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.TTS.SpeakerWAV = "local.wav"
	cfg.TTS.GPU = false

	req := tts.RequestFromConfig(cfg, "text")
	assert.Equal(t, "local.wav", req.SpeakerWAV)
	assert.Equal(t, "text", req.Text)
	assert.False(t, req.GPU)

	cfg.TTS.Engine = config.EngineHeygem
	cfg.Heygem.ReferenceAudio = "/code/data/ref.wav"
	assert.Equal(t, "/code/data/ref.wav", tts.RequestFromConfig(cfg, "x").SpeakerWAV)
}
