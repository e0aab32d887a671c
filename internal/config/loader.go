package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied to CallConfig fields left at their zero value.
// These mirror the constants the call pipeline falls back to when no
// override is configured.
const (
	defaultIdleTimeout      = 30 * time.Second
	defaultBargeInMinChars  = 3
	defaultShutdownGrace    = 2 * time.Second
	defaultModelTurnTimeout = 8 * time.Second
	defaultToolCallTimeout  = 3 * time.Second
	defaultSilenceTimeout   = 6 * time.Second
	defaultMaxToolIters     = 4
	defaultMaxReprompts     = 2
	defaultCacheMax         = 100
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama"},
	"stt":         {"deepgram", "whisper", "whisper-native"},
	"tts":         {"elevenlabs", "coqui"},
	"premium_tts": {"elevenlabs"},
	"embeddings":  {"openai", "ollama", "genai"},
}

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills any zero-valued CallConfig field with its package
// default.
func applyDefaults(cfg *Config) {
	c := &cfg.Call
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.BargeInMinChars == 0 {
		c.BargeInMinChars = defaultBargeInMinChars
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.ModelTurnTimeout <= 0 {
		c.ModelTurnTimeout = defaultModelTurnTimeout
	}
	if c.ToolCallTimeout <= 0 {
		c.ToolCallTimeout = defaultToolCallTimeout
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = defaultSilenceTimeout
	}
	if c.MaxToolIters <= 0 {
		c.MaxToolIters = defaultMaxToolIters
	}
	if c.MaxReprompts <= 0 {
		c.MaxReprompts = defaultMaxReprompts
	}
	if c.CacheMax <= 0 {
		c.CacheMax = defaultCacheMax
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("premium_tts", cfg.Providers.PremiumTTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	for _, e := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", e.Name)
	}
	for _, e := range cfg.Providers.EmbeddingsFallbacks {
		validateProviderName("embeddings", e.Name)
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}
	if cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("store.embedding_dimensions is not set; defaulting to 1024")
	}

	if cfg.Server.PublicBaseURL == "" {
		errs = append(errs, errors.New("server.public_base_url is required to build the media-stream URL and artifact links"))
	}

	if cfg.Call.BargeInMinChars < 0 {
		errs = append(errs, fmt.Errorf("call.barge_in_min_chars %d must be >= 0", cfg.Call.BargeInMinChars))
	}
	if cfg.Call.MaxToolIters <= 0 {
		errs = append(errs, fmt.Errorf("call.max_tool_iters %d must be > 0", cfg.Call.MaxToolIters))
	}
	if cfg.Call.CacheMax <= 0 {
		errs = append(errs, fmt.Errorf("call.cache_max %d must be > 0", cfg.Call.CacheMax))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
