package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Engine names a recognition engine implementation.
type Engine string

const (
	EngineWebSpeech Engine = "webspeech"
	EngineDeepgram  Engine = "deepgram"
)

// Config stores runtime configuration.
type Config struct {
	Recognition RecognitionConfig
	Catalog     CatalogConfig
	Rules       RulesConfig
	Images      ImagesConfig
	HTTP        HTTPConfig
	Log         LogConfig
	Deepgram    DeepgramConfig
	Audio       AudioConfig
}

type RecognitionConfig struct {
	Engine       Engine
	Language     string
	RestartDelay time.Duration
}

type CatalogConfig struct {
	Path string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
	Watch          bool // reload the rules file when it changes on disk
}

type ImagesConfig struct {
	URLTemplate string
}

type HTTPConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

type DeepgramConfig struct {
	APIKey       string
	APIBaseURL   string
	Model        string
	SmartFormat  bool
	Endpointing  time.Duration
	KeepAlive    time.Duration
	BoostPhrases bool // send catalog phrases as recognition keywords
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ChunkSize       int
}

// Load resolves configuration from a .env file in the working directory,
// environment variables and defaults. Variables already set in the
// environment win over the .env file.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	defaultRules := filepath.Join(home, ".config", "posecall", "utterances.rules")
	rulesPath := envOrDefault("POSECALL_RULES_FILE", defaultRules)

	defaultCatalog := filepath.Join(home, ".config", "posecall", "poses.yaml")
	catalogPath := strings.TrimSpace(os.Getenv("POSECALL_CATALOG_FILE"))
	if catalogPath == "" && fileExists(defaultCatalog) {
		catalogPath = defaultCatalog
	}

	cfg := Config{
		Recognition: RecognitionConfig{
			Engine:       Engine(strings.ToLower(envOrDefault("POSECALL_ENGINE", string(EngineWebSpeech)))),
			Language:     envOrDefault("POSECALL_LANGUAGE", "en-US"),
			RestartDelay: time.Duration(envOrDefaultInt("POSECALL_RESTART_DELAY_MS", 500)) * time.Millisecond,
		},
		Catalog: CatalogConfig{Path: catalogPath},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("POSECALL_RULE_ITERATION_LIMIT", 30),
			Watch:          envOrDefaultBool("POSECALL_RULES_WATCH", true),
		},
		Images: ImagesConfig{
			URLTemplate: envOrDefault("POSECALL_IMAGE_URL_TEMPLATE", "https://picsum.photos/seed/{key}/400/600"),
		},
		HTTP: HTTPConfig{
			Addr: firstNonEmpty(os.Getenv("POSECALL_HTTP_ADDR"), portAddr(os.Getenv("PORT")), ":8080"),
		},
		Log: LogConfig{
			Level:  envOrDefault("POSECALL_LOG_LEVEL", "info"),
			Format: envOrDefault("POSECALL_LOG_FORMAT", "console"),
		},
		Deepgram: DeepgramConfig{
			APIKey:       strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:   envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:        envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			SmartFormat:  envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			Endpointing:  time.Duration(envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", 300)) * time.Millisecond,
			KeepAlive:    time.Duration(envOrDefaultInt("DEEPGRAM_KEEPALIVE_MS", 5000)) * time.Millisecond,
			BoostPhrases: envOrDefaultBool("DEEPGRAM_BOOST_PHRASES", true),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("POSECALL_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("POSECALL_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("POSECALL_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("POSECALL_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("POSECALL_CHANNELS", 1),
			ChunkSize:       envOrDefaultInt("POSECALL_AUDIO_CHUNK_SIZE", 4096),
		},
	}

	switch cfg.Recognition.Engine {
	case EngineWebSpeech, EngineDeepgram:
	default:
		cfg.Recognition.Engine = EngineWebSpeech
	}
	if cfg.Recognition.RestartDelay <= 0 {
		cfg.Recognition.RestartDelay = 500 * time.Millisecond
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Deepgram.Endpointing < 0 {
		cfg.Deepgram.Endpointing = 0
	}
	if cfg.Deepgram.KeepAlive < 0 {
		cfg.Deepgram.KeepAlive = 0
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func portAddr(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ""
	}
	return ":" + port
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
