// Command atrium is the main entry point for the Atrium voice reception
// agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/atrium/internal/artifact"
	"github.com/MrWong99/atrium/internal/admin"
	"github.com/MrWong99/atrium/internal/call"
	"github.com/MrWong99/atrium/internal/config"
	"github.com/MrWong99/atrium/internal/health"
	"github.com/MrWong99/atrium/internal/observe"
	"github.com/MrWong99/atrium/internal/reasoning"
	"github.com/MrWong99/atrium/internal/resilience"
	"github.com/MrWong99/atrium/internal/retrieval"
	"github.com/MrWong99/atrium/internal/store/postgres"
	"github.com/MrWong99/atrium/internal/toolhost"

	"github.com/MrWong99/atrium/pkg/provider/embeddings"
	embgenai "github.com/MrWong99/atrium/pkg/provider/embeddings/genai"
	embollama "github.com/MrWong99/atrium/pkg/provider/embeddings/ollama"
	embopenai "github.com/MrWong99/atrium/pkg/provider/embeddings/openai"

	"github.com/MrWong99/atrium/pkg/provider/llm"
	llmanthropic "github.com/MrWong99/atrium/pkg/provider/llm/anthropic"
	llmollama "github.com/MrWong99/atrium/pkg/provider/llm/ollama"
	llmopenai "github.com/MrWong99/atrium/pkg/provider/llm/openai"

	"github.com/MrWong99/atrium/pkg/provider/stt"
	"github.com/MrWong99/atrium/pkg/provider/stt/deepgram"
	"github.com/MrWong99/atrium/pkg/provider/stt/whisper"

	"github.com/MrWong99/atrium/pkg/provider/tts"
	"github.com/MrWong99/atrium/pkg/provider/tts/coqui"
	"github.com/MrWong99/atrium/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "atrium: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "atrium: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("atrium starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Provider registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers, wrapped in resilience fallback chains ──────
	llmProvider, err := buildLLM(cfg, reg)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	sttProvider, err := buildSTT(cfg, reg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	ttsProvider, err := buildTTS(cfg, reg)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}
	embeddingsProvider, err := buildEmbeddings(cfg, reg)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Persistence ─────────────────────────────────────────────────────────
	documentStore, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, cfg.Store.EmbeddingDimensions)
	if err != nil {
		slog.Error("failed to connect to store", "err", err)
		return 1
	}
	var closers []func() error
	closers = append(closers, documentStore.Close)

	// ── Retrieval and reasoning ───────────────────────────────────────────
	retrievalEngine := retrieval.New(documentStore, embeddingsProvider)

	toolHost := toolhost.New("atrium", "1.0.0")
	if err := toolhost.RegisterRetrievalTools(toolHost, retrievalEngine); err != nil {
		slog.Error("failed to register tools", "err", err)
		return 1
	}
	if err := toolHost.Start(ctx); err != nil {
		slog.Error("failed to start tool host", "err", err)
		return 1
	}
	closers = append(closers, toolHost.Close)

	driver := reasoning.New(llmProvider, toolHost)

	// ── Audio artifact cache ───────────────────────────────────────────────
	cache, err := artifact.New(cfg.Call.CacheMax, artifact.NewProviderSynthesizer(ttsProvider, tts.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
	}))
	if err != nil {
		slog.Error("failed to build artifact cache", "err", err)
		return 1
	}

	// ── Observability ──────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "atrium",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		slog.Error("failed to init observability", "err", err)
		return 1
	}
	closers = append(closers, func() error {
		return shutdownObserve(context.Background())
	})
	metrics := observe.DefaultMetrics()

	healthHandler := health.New(
		health.Checker{Name: "store", Check: func(ctx context.Context) error {
			_, err := documentStore.NameSearchContacts(ctx, "", 1)
			return err
		}},
	)

	// ── Per-call dependency template ──────────────────────────────────────
	voice := tts.VoiceProfile{ID: cfg.Telephony.VoiceID}
	depsTemplate := call.Deps{
		STT:         sttProvider,
		TTS:         ttsProvider,
		Driver:      driver,
		Retrieval:   retrievalEngine,
		Store:       documentStore,
		Voice:       voice,
		Greeting:    cfg.Telephony.GreetingText,
		IdleTimeout: cfg.Call.IdleTimeout,
	}

	adminServer := admin.NewServer(admin.Config{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		GreetingText:  cfg.Telephony.GreetingText,
	}, depsTemplate, cache, metrics, healthHandler)

	printStartupSummary(cfg)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: adminServer.Handler(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- httpServer.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}

	// ── Graceful shutdown ───────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "err", err)
	}
	if err := adminServer.Orchestrator().HangupAll(shutdownCtx); err != nil {
		slog.Error("hangup all calls error", "err", err)
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Error("shutdown closer error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider registry wiring ────────────────────────────────────────────────

// builtinProviders names every provider factory registered at startup, used
// only for the startup debug log.
var builtinProviders = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama"},
	"stt":        {"deepgram", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama", "genai"},
}

func registerBuiltinProviders(reg *config.Registry) {
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []llmopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []llmanthropic.Option{}
		if e.BaseURL != "" {
			opts = append(opts, llmanthropic.WithBaseURL(e.BaseURL))
		}
		return llmanthropic.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []llmollama.Option{}
		if e.BaseURL != "" {
			opts = append(opts, llmollama.WithHost(e.BaseURL))
		}
		return llmollama.New(e.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{}
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang, ok := optString(e.Options, "language"); ok {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate, ok := optInt(e.Options, "sample_rate"); ok {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.NativeOption{}
		if lang, ok := optString(e.Options, "language"); ok {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if rate, ok := optInt(e.Options, "sample_rate"); ok {
			opts = append(opts, whisper.WithNativeSampleRate(rate))
		}
		if ms, ok := optInt(e.Options, "silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		if ms, ok := optInt(e.Options, "max_buffer_duration_ms"); ok {
			opts = append(opts, whisper.WithNativeMaxBufferDurationMs(ms))
		}
		return whisper.NewNative(e.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{}
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if format, ok := optString(e.Options, "output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{}
		if lang, ok := optString(e.Options, "language"); ok {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode, ok := optString(e.Options, "api_mode"); ok {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, ok := optInt(e.Options, "output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []embopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(e.BaseURL))
		}
		return embopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []embollama.Option{}
		if dims, ok := optInt(e.Options, "dimensions"); ok {
			opts = append(opts, embollama.WithDimensions(dims))
		}
		return embollama.New(e.BaseURL, e.Model, opts...)
	})
	reg.RegisterEmbeddings("genai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []embgenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, embgenai.WithBaseURL(e.BaseURL))
		}
		return embgenai.New(context.Background(), e.APIKey, e.Model, opts...)
	})
}

// ── Provider construction with fallback chains ───────────────────────────

func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm %q: %w", cfg.Providers.LLM.Name, err)
	}
	fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	return fb, nil
}

func buildSTT(cfg *config.Config, reg *config.Registry) (stt.Provider, error) {
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("stt %q: %w", cfg.Providers.STT.Name, err)
	}
	fb := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("stt fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "stt-fallback", "name", entry.Name)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	return fb, nil
}

func buildTTS(cfg *config.Config, reg *config.Registry) (tts.Provider, error) {
	entry := config.ResolveTTS(cfg.Providers)
	primary, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("tts %q: %w", entry.Name, err)
	}
	fb := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{})
	if entry.Name == cfg.Providers.PremiumTTS.Name && cfg.Providers.TTS.Name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("tts fallback %q: %w", cfg.Providers.TTS.Name, err)
		}
		fb.AddFallback(cfg.Providers.TTS.Name, p)
		slog.Info("provider created", "kind", "tts-fallback", "name", cfg.Providers.TTS.Name)
	}
	slog.Info("provider created", "kind", "tts", "name", entry.Name)
	return fb, nil
}

func buildEmbeddings(cfg *config.Config, reg *config.Registry) (embeddings.Provider, error) {
	primary, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embeddings %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	fb := resilience.NewEmbeddingsFallback(primary, cfg.Providers.Embeddings.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.EmbeddingsFallbacks {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("embeddings fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "embeddings-fallback", "name", entry.Name)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)
	return fb, nil
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Atrium — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", config.ResolveTTS(cfg.Providers).Name, config.ResolveTTS(cfg.Providers).Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Printf("║  LLM fallbacks   : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	fmt.Printf("║  STT fallbacks   : %-19d ║\n", len(cfg.Providers.STTFallbacks))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Options map helpers ──────────────────────────────────────────────────

// optString reads a string value from a ProviderEntry.Options map, reporting
// whether a non-empty value was present.
func optString(opts map[string]any, key string) (string, bool) {
	v, ok := opts[key].(string)
	return v, ok && v != ""
}

// optInt reads an integer value from a ProviderEntry.Options map. YAML
// decodes plain integer scalars as int, but values arriving via other routes
// (e.g. a JSON-sourced config) may surface as float64, so both are accepted.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, v > 0
	case float64:
		return int(v), v > 0
	default:
		return 0, false
	}
}

// ── Logger ────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
