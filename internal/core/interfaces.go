// Package core defines the interfaces shared by the synthesis engines, the batch
// runner and the NATS service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisRequest describes a single voice-cloned utterance.
type SynthesisRequest struct {
	Text        string
	SpeakerWAV  string
	Language    string
	ModelName   string
	Temperature float64
	GPU         bool
}

// Synthesizer turns text into WAV audio using a speech engine.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
	HealthCheck(ctx context.Context) error
}
