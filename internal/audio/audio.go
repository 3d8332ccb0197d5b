// Package audio inspects the WAV files produced by the synthesis engines.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gopxl/beep/wav"
)

// Limits accepted for synthesized speech.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Errors returned by Inspect.
var (
	ErrInvalidAudio = errors.New("invalid audio")
	ErrEmptyAudio   = errors.New("audio data is empty")
)

// Info describes a decoded WAV stream.
type Info struct {
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Precision  int           `json:"precision"`
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"-"`
	FileSize   int64         `json:"file_size"`
}

// DurationSeconds is the clip length rounded to milliseconds.
func (i Info) DurationSeconds() float64 {
	return float64(i.Duration.Milliseconds()) / 1000
}

// Inspect decodes the WAV header in data and reports its format.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyAudio
	}

	return inspect(bytes.NewReader(data), int64(len(data)))
}

// InspectFile is Inspect for a file on disk.
func InspectFile(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat audio file %s: %w", path, err)
	}

	if stat.Size() == 0 {
		return Info{}, ErrEmptyAudio
	}

	return inspect(file, stat.Size())
}

func inspect(r io.Reader, size int64) (Info, error) {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidAudio, err)
	}

	info := Info{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		Precision:  format.Precision,
		Samples:    streamer.Len(),
		Duration:   format.SampleRate.D(streamer.Len()),
		FileSize:   size,
	}

	err = validate(info)
	if err != nil {
		return Info{}, err
	}

	return info, nil
}

func validate(info Info) error {
	if info.SampleRate <= 0 || info.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrInvalidAudio, MaxSampleRate)
	}

	if info.Channels <= 0 || info.Channels > MaxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidAudio, MaxChannels)
	}

	return nil
}
