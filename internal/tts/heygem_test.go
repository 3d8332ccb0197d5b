package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/ich-narrator/internal/core"
	"github.com/book-expert/ich-narrator/internal/tts"
)

type fakeHeygem struct {
	preprocessCalls atomic.Int32
	invokeCalls     atomic.Int32
	lastInvoke      map[string]any
}

func (f *fakeHeygem) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/v1/preprocess_and_tran", func(w http.ResponseWriter, r *http.Request) {
		f.preprocessCalls.Add(1)

		var body map[string]any

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wav", body["format"])
		assert.Equal(t, "/refs/doctor.wav", body["reference_audio"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"asr_format_audio_url":"/tmp/ref_asr.wav","reference_audio_text":"hello there"}`))
	})

	mux.HandleFunc("/v1/invoke", func(w http.ResponseWriter, r *http.Request) {
		f.invokeCalls.Add(1)

		var body map[string]any

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastInvoke = body

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFheygem"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return mux
}

func TestHeygemClient_SynthesizePreprocessesOnce(t *testing.T) {
	t.Parallel()

	fake := &fakeHeygem{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client := tts.NewHeygemClient(server.URL, "speaker-1", 5*time.Second)
	req := core.SynthesisRequest{Text: "First line.", SpeakerWAV: "/refs/doctor.wav", Language: "zh"}

	audio, err := client.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "RIFFheygem", string(audio))

	req.Text = "Second line."
	_, err = client.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), fake.preprocessCalls.Load())
	assert.Equal(t, int32(2), fake.invokeCalls.Load())
	assert.Equal(t, "speaker-1", fake.lastInvoke["speaker"])
	assert.Equal(t, "Second line.", fake.lastInvoke["text"])
	assert.Equal(t, "/tmp/ref_asr.wav", fake.lastInvoke["reference_audio"])
	assert.Equal(t, "hello there", fake.lastInvoke["reference_text"])
	assert.InDelta(t, 0.7, fake.lastInvoke["topP"], 1e-9)
	assert.InDelta(t, 1024, fake.lastInvoke["max_new_tokens"], 1e-9)
}

func TestHeygemClient_RequiresReferenceAudio(t *testing.T) {
	t.Parallel()

	client := tts.NewHeygemClient("http://127.0.0.1:1", "", time.Second)

	_, err := client.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi"})
	require.ErrorIs(t, err, tts.ErrReferenceAudioEmpty)

	_, err = client.Synthesize(context.Background(), core.SynthesisRequest{SpeakerWAV: "/refs/a.wav"})
	require.ErrorIs(t, err, tts.ErrTextEmpty)
}

func TestHeygemClient_HealthCheck(t *testing.T) {
	t.Parallel()

	fake := &fakeHeygem{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	// A 404 at the root still means the service is up.
	client := tts.NewHeygemClient(server.URL, "", time.Second)
	require.NoError(t, client.HealthCheck(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	client = tts.NewHeygemClient(broken.URL, "", time.Second)
	require.ErrorIs(t, client.HealthCheck(context.Background()), tts.ErrServiceUnhealthy)
}
