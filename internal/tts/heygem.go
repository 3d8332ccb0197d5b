package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/book-expert/ich-narrator/internal/core"
)

// Heygem speech endpoints.
const (
	apiHeygemPreprocess = "/v1/preprocess_and_tran"
	apiHeygemInvoke     = "/v1/invoke"
	heygemAudioFormat   = "wav"
)

// Fixed sampling parameters of the Heygem speech model.
const (
	heygemTopP              = 0.7
	heygemMaxNewTokens      = 1024
	heygemChunkLength       = 100
	heygemRepetitionPenalty = 1.2
	heygemTemperature       = 0.7
)

// ErrReferenceAudioEmpty is returned when no reference audio is configured.
var ErrReferenceAudioEmpty = errors.New("heygem reference audio cannot be empty")

// HeygemReference is the result of preprocessing a reference recording.
type HeygemReference struct {
	AudioURL string `json:"asr_format_audio_url"`
	Text     string `json:"reference_audio_text"`
}

type heygemPreprocessRequest struct {
	Format         string `json:"format"`
	ReferenceAudio string `json:"reference_audio"`
	Lang           string `json:"lang"`
}

type heygemInvokeRequest struct {
	Speaker           string  `json:"speaker"`
	Text              string  `json:"text"`
	Format            string  `json:"format"`
	TopP              float64 `json:"topP"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	ChunkLength       int     `json:"chunk_length"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Temperature       float64 `json:"temperature"`
	NeedASR           bool    `json:"need_asr"`
	Streaming         bool    `json:"streaming"`
	IsFixedSeed       int     `json:"is_fixed_seed"`
	IsNorm            int     `json:"is_norm"`
	ReferenceAudio    string  `json:"reference_audio"`
	ReferenceText     string  `json:"reference_text"`
}

// HeygemClient synthesizes speech through the Heygem (fish-speech) service that
// ships with the avatar platform. The reference recording is preprocessed once
// per distinct speaker path and reused for every utterance.
type HeygemClient struct {
	httpClient *http.Client
	baseURL    string
	speakerID  string

	mu         sync.Mutex
	references map[string]HeygemReference
}

// NewHeygemClient creates a client for the Heygem speech service. An empty
// speakerID gets a random one.
func NewHeygemClient(baseURL, speakerID string, timeout time.Duration) *HeygemClient {
	if speakerID == "" {
		speakerID = uuid.NewString()
	}

	return &HeygemClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		speakerID:  speakerID,
		references: make(map[string]HeygemReference),
	}
}

// Preprocess registers a reference recording with the service.
func (c *HeygemClient) Preprocess(ctx context.Context, referenceAudio, language string) (HeygemReference, error) {
	if referenceAudio == "" {
		return HeygemReference{}, ErrReferenceAudioEmpty
	}

	c.mu.Lock()
	cached, ok := c.references[referenceAudio]
	c.mu.Unlock()

	if ok {
		return cached, nil
	}

	if language == "" {
		language = defaultLanguage
	}

	var reference HeygemReference

	body, err := c.postJSON(ctx, apiHeygemPreprocess, heygemPreprocessRequest{
		Format:         heygemAudioFormat,
		ReferenceAudio: referenceAudio,
		Lang:           language,
	})
	if err != nil {
		return HeygemReference{}, fmt.Errorf("preprocess failed: %w", err)
	}

	err = json.Unmarshal(body, &reference)
	if err != nil {
		return HeygemReference{}, fmt.Errorf("failed to decode preprocess response: %w", err)
	}

	c.mu.Lock()
	c.references[referenceAudio] = reference
	c.mu.Unlock()

	return reference, nil
}

// Synthesize implements core.Synthesizer.
func (c *HeygemClient) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	reference, err := c.Preprocess(ctx, req.SpeakerWAV, req.Language)
	if err != nil {
		return nil, err
	}

	audioData, err := c.postJSON(ctx, apiHeygemInvoke, heygemInvokeRequest{
		Speaker:           c.speakerID,
		Text:              req.Text,
		Format:            heygemAudioFormat,
		TopP:              heygemTopP,
		MaxNewTokens:      heygemMaxNewTokens,
		ChunkLength:       heygemChunkLength,
		RepetitionPenalty: heygemRepetitionPenalty,
		Temperature:       heygemTemperature,
		ReferenceAudio:    reference.AudioURL,
		ReferenceText:     reference.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize audio failed: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the service answers at its base URL.
func (c *HeygemClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %s", ErrServiceUnhealthy, resp.Status)
	}

	return nil
}

func (c *HeygemClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}
