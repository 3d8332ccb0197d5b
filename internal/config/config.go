// Package config provides the configuration structure for the ich-narrator tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Supported synthesis engines.
const (
	EngineHTTP   = "http"
	EngineCLI    = "cli"
	EngineHeygem = "heygem"
)

// Defaults mirrored by Default().
const (
	DefaultModelName        = "tts_models/multilingual/multi-dataset/xtts_v2"
	DefaultLanguage         = "en"
	DefaultTemperature      = 0.75
	DefaultTTSTimeout       = 300
	DefaultLLMBaseURL       = "http://localhost:8000/v1"
	DefaultLLMAPIKey        = "EMPTY"
	DefaultSubmitURL        = "http://127.0.0.1:8383/easy/submit"
	DefaultQueryURLBase     = "http://127.0.0.1:8383"
	DefaultRefVideoPath     = "ref_face.mp4"
	DefaultHeygemURL        = "http://127.0.0.1:18180"
	DefaultHeygemSaveDir    = "/home/pc/heygem_data/face2face/temp/"
	minVideoTimeoutSeconds  = 1.0
	minPollIntervalSeconds  = 0.5
	minPollTimeoutSeconds   = 1.0
	defaultVideoTimeout     = 15.0
	defaultPollInterval     = 2.0
	defaultPollTimeout      = 300.0
	defaultLLMMaxTokens     = 32768
	defaultLLMTemperature   = 0.6
	defaultLLMTopP          = 0.95
	defaultLLMTopK          = 20
	defaultLLMOutputDir     = "./Qwen3-30B-A3B_result/eng"
	defaultBatchOutputDir   = "gen_audio_data"
	defaultBatchInputJSON   = "patient_results.json"
	defaultLogsDir          = "logs"
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultNarrativeSubject = "narrative.text.processed"
	defaultAudioBucket      = "NARRATIVE_AUDIO"
)

var (
	// ErrUnknownEngine indicates that the configured synthesis engine is not supported.
	ErrUnknownEngine = errors.New("unknown tts engine")
	// ErrServiceURLEmpty indicates that the http engine has no service URL.
	ErrServiceURLEmpty = errors.New("tts service_url cannot be empty for the http engine")
	// ErrLanguageEmpty indicates that no synthesis language is configured.
	ErrLanguageEmpty = errors.New("tts language cannot be empty")
)

// TTSConfig selects and parameterizes the speech synthesis engine.
type TTSConfig struct {
	Engine         string  `toml:"engine"`
	ServiceURL     string  `toml:"service_url"`
	BinaryPath     string  `toml:"binary_path"`
	ModelName      string  `toml:"model_name"`
	SpeakerWAV     string  `toml:"speaker_wav"`
	Language       string  `toml:"language"`
	GPU            bool    `toml:"gpu"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Timeout returns the per-request synthesis timeout.
func (t TTSConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// BatchConfig holds the options of a batch synthesis run.
type BatchConfig struct {
	InputJSON      string  `toml:"input_json"`
	OutputDir      string  `toml:"output_dir"`
	Limit          int     `toml:"limit"`
	DryRun         bool    `toml:"dry_run"`
	Resume         bool    `toml:"resume"`
	FilenameField  string  `toml:"filename_field"`
	WriteMetadata  bool    `toml:"write_metadata"`
	StripNewlines  bool    `toml:"strip_newlines"`
	ExpandAcronyms bool    `toml:"expand_acronyms"`
	Retries        int     `toml:"retries"`
	SleepSeconds   float64 `toml:"sleep_seconds"`
	HooksLog       string  `toml:"hooks_log"`
	RunSummary     string  `toml:"run_summary"`
	MaxFailures    int     `toml:"max_failures"`
	UploadAudio    bool    `toml:"upload_audio"`
}

// LLMConfig holds the OpenAI-compatible inference server settings.
type LLMConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TopP           float64 `toml:"top_p"`
	TopK           int     `toml:"top_k"`
	EnableThinking bool    `toml:"enable_thinking"`
	OutputDir      string  `toml:"output_dir"`
	LimitRows      int     `toml:"limit_rows"`
	SheetIndex     int     `toml:"sheet_index"`
	Concurrency    int     `toml:"concurrency"`
}

// VideoConfig holds the avatar video service settings.
type VideoConfig struct {
	SubmitURL           string  `toml:"submit_url"`
	QueryURLBase        string  `toml:"query_url_base"`
	RefVideoPath        string  `toml:"ref_video_path"`
	AudioBaseURL        string  `toml:"audio_base_url"`
	MetadataDir         string  `toml:"metadata_dir"`
	TimeoutSeconds      float64 `toml:"timeout_seconds"`
	Retries             int     `toml:"retries"`
	SleepSeconds        float64 `toml:"sleep_seconds"`
	PollProgress        bool    `toml:"poll_progress"`
	PollIntervalSeconds float64 `toml:"poll_interval_seconds"`
	PollTimeoutSeconds  float64 `toml:"poll_timeout_seconds"`
	DryRun              bool    `toml:"dry_run"`
	Resume              bool    `toml:"resume"`
	WriteMetadata       bool    `toml:"write_metadata"`
	SynthesizeAudio     bool    `toml:"synthesize_audio"`
}

// HeygemConfig holds the Heygem TTS endpoint settings.
type HeygemConfig struct {
	BaseURL        string `toml:"base_url"`
	ReferenceAudio string `toml:"reference_audio"`
	SpeakerID      string `toml:"speaker_id"`
	SaveDir        string `toml:"save_dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	NarrativeSubject         string `toml:"narrative_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	TTS     TTSConfig     `toml:"tts"`
	Batch   BatchConfig   `toml:"batch"`
	LLM     LLMConfig     `toml:"llm"`
	Video   VideoConfig   `toml:"video"`
	Heygem  HeygemConfig  `toml:"heygem"`
	NATS    NATSConfig    `toml:"nats"`
	Metrics MetricsConfig `toml:"metrics"`
	Paths   PathsConfig   `toml:"paths"`
}

// Default returns a configuration populated with the stock defaults.
func Default() *Config {
	return &Config{
		TTS: TTSConfig{
			Engine:         EngineHTTP,
			ServiceURL:     "http://127.0.0.1:8020",
			BinaryPath:     "tts",
			ModelName:      DefaultModelName,
			SpeakerWAV:     "speaker.wav",
			Language:       DefaultLanguage,
			GPU:            true,
			Temperature:    DefaultTemperature,
			TimeoutSeconds: DefaultTTSTimeout,
		},
		Batch: BatchConfig{
			InputJSON:      defaultBatchInputJSON,
			OutputDir:      defaultBatchOutputDir,
			ExpandAcronyms: true,
		},
		LLM: LLMConfig{
			BaseURL:        DefaultLLMBaseURL,
			APIKey:         DefaultLLMAPIKey,
			MaxTokens:      defaultLLMMaxTokens,
			Temperature:    defaultLLMTemperature,
			TopP:           defaultLLMTopP,
			TopK:           defaultLLMTopK,
			EnableThinking: true,
			OutputDir:      defaultLLMOutputDir,
			Concurrency:    1,
		},
		Video: VideoConfig{
			SubmitURL:           DefaultSubmitURL,
			QueryURLBase:        DefaultQueryURLBase,
			RefVideoPath:        DefaultRefVideoPath,
			MetadataDir:         ".",
			TimeoutSeconds:      defaultVideoTimeout,
			PollIntervalSeconds: defaultPollInterval,
			PollTimeoutSeconds:  defaultPollTimeout,
		},
		Heygem: HeygemConfig{
			BaseURL: DefaultHeygemURL,
			SaveDir: DefaultHeygemSaveDir,
		},
		NATS: NATSConfig{
			URL:                      defaultNATSURL,
			NarrativeSubject:         defaultNarrativeSubject,
			AudioChunkCreatedSubject: "narrative.audio.created",
			AudioObjectStoreBucket:   defaultAudioBucket,
		},
		Paths: PathsConfig{
			BaseLogsDir: defaultLogsDir,
		},
	}
}

// Load loads the configuration through the central configurator, layered over
// the defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.Normalize()

	return cfg, nil
}

// LoadFile reads a TOML file over the defaults. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Normalize()

	return cfg, nil
}

// Normalize clamps option values into their valid ranges.
func (c *Config) Normalize() {
	c.Batch.Retries = max(0, c.Batch.Retries)
	c.Batch.SleepSeconds = max(0, c.Batch.SleepSeconds)
	c.Batch.Limit = max(0, c.Batch.Limit)
	c.Batch.MaxFailures = max(0, c.Batch.MaxFailures)

	c.Video.Retries = max(0, c.Video.Retries)
	c.Video.SleepSeconds = max(0, c.Video.SleepSeconds)
	c.Video.TimeoutSeconds = max(minVideoTimeoutSeconds, c.Video.TimeoutSeconds)
	c.Video.PollIntervalSeconds = max(minPollIntervalSeconds, c.Video.PollIntervalSeconds)
	c.Video.PollTimeoutSeconds = max(minPollTimeoutSeconds, c.Video.PollTimeoutSeconds)

	c.LLM.Concurrency = max(1, c.LLM.Concurrency)
	c.LLM.LimitRows = max(0, c.LLM.LimitRows)
	c.LLM.SheetIndex = max(0, c.LLM.SheetIndex)

	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = DefaultTTSTimeout
	}
}

// Validate checks the synthesis engine settings.
func (c *Config) Validate() error {
	switch c.TTS.Engine {
	case EngineHTTP:
		if c.TTS.ServiceURL == "" {
			return ErrServiceURLEmpty
		}
	case EngineCLI, EngineHeygem:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.TTS.Engine)
	}

	if c.TTS.Language == "" {
		return ErrLanguageEmpty
	}

	return nil
}
