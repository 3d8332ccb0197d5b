// Package worker provides a NATS worker that narrates text stored in the
// object store and publishes the resulting audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/ich-narrator/internal/config"
	"github.com/book-expert/ich-narrator/internal/core"
	"github.com/book-expert/ich-narrator/internal/metrics"
	"github.com/book-expert/ich-narrator/internal/normalize"
	"github.com/book-expert/ich-narrator/internal/tts"
)

const defaultHandleTimeout = 5 * time.Minute

var (
	// ErrTextKeyEmpty indicates that the event does not reference any text.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrBlankText indicates that the stored narrative is empty after cleaning.
	ErrBlankText = errors.New("narrative text is blank")
	// ErrTemperatureRange indicates a negative sampling temperature.
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
)

// NatsWorker listens for narrative text events on a NATS subject and turns
// each one into a WAV in the object store.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            *config.Config
	store          core.ObjectStore
	synthesizer    core.Synthesizer
	normalizer     *normalize.Normalizer
	metrics        *metrics.Metrics
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. The subjects come from
// cfg.NATS; the voice defaults from cfg.TTS.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg *config.Config,
	store core.ObjectStore,
	synthesizer core.Synthesizer,
	m *metrics.Metrics,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		store:          store,
		synthesizer:    synthesizer,
		normalizer:     normalize.New(),
		metrics:        m,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	subject := w.cfg.NATS.NarrativeSubject

	sub, err := w.natsConnection.Subscribe(subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	w.log.Info("Listening for narratives on %s", subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	timeout := w.cfg.TTS.Timeout()
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	audioKey, err := w.narrate(ctx, event)
	if err != nil {
		w.log.Error("Failed to narrate text for workflow %s: %v", event.Header.WorkflowID, err)
		w.metrics.RecordItem(ctx, metrics.StatusFailure)

		return
	}

	w.metrics.RecordItem(ctx, metrics.StatusSuccess)

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publish(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish audio event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// narrate downloads the text, cleans and synthesizes it, and uploads the audio.
func (w *NatsWorker) narrate(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := w.normalizer.Clean(string(textData), normalize.Options{
		ExpandAcronyms: w.cfg.Batch.ExpandAcronyms,
		StripNewlines:  w.cfg.Batch.StripNewlines,
	})
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrBlankText, event.TextKey)
	}

	req, err := w.requestFor(event, text)
	if err != nil {
		return "", err
	}

	start := time.Now()

	audioData, err := w.synthesizer.Synthesize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	w.metrics.RecordSynthesis(ctx, w.cfg.TTS.Engine, time.Since(start))

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

// requestFor applies the per-event voice overrides to the configured request.
func (w *NatsWorker) requestFor(event *events.TextProcessedEvent, text string) (core.SynthesisRequest, error) {
	req := tts.RequestFromConfig(w.cfg, text)

	if event.Voice != "" {
		req.SpeakerWAV = event.Voice
	}

	if event.Temperature < 0 {
		return core.SynthesisRequest{}, fmt.Errorf("%w: got %f", ErrTemperatureRange, event.Temperature)
	}

	if event.Temperature > 0 {
		req.Temperature = event.Temperature
	}

	return req, nil
}

// publish answers a request, or announces the audio on the configured subject
// when the sender did not wait for a reply.
func (w *NatsWorker) publish(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
	} else {
		err = w.natsConnection.Publish(w.cfg.NATS.AudioChunkCreatedSubject, replyData)
	}

	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
