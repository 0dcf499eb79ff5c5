package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/preboard/internal/audit"
	"github.com/hubenschmidt/preboard/internal/blob"
	"github.com/hubenschmidt/preboard/internal/config"
	"github.com/hubenschmidt/preboard/internal/events"
	"github.com/hubenschmidt/preboard/internal/orchestrator"
	"github.com/hubenschmidt/preboard/internal/pipeline"
	"github.com/hubenschmidt/preboard/internal/realtime"
	"github.com/hubenschmidt/preboard/internal/records"
	"github.com/hubenschmidt/preboard/internal/verify"
	"github.com/hubenschmidt/preboard/internal/ws"
)

const openAIEngine = "openai"

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	closeLog := setupLogging(cfg.LogLevel, cfg.LogFile)
	defer closeLog()

	httpClient := pipeline.NewPooledHTTPClient(cfg.HTTPPoolSize, 60*time.Second)
	oai := pipeline.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient)

	// Verification oracle
	oracleBackends := map[string]verify.Backend{
		openAIEngine: verify.NewOpenAIBackend(oai, cfg.OracleModel, cfg.OracleMaxTokens),
	}
	if cfg.OracleURL != "" {
		oracleBackends["http"] = verify.NewHTTPBackend(cfg.OracleURL, httpClient)
	}
	verifier := verify.NewClient(verify.Config{
		Backends: oracleBackends,
		Engine:   cfg.OracleBackend,
		Timeout:  cfg.OracleTimeout,
	})
	if err = verifier.Check(); err != nil {
		slog.Error("oracle not configured", "error", err)
		os.Exit(1)
	}

	// Fallback voice path: completion + batch TTS + transcription
	llm := pipeline.NewAgentLLM(openAIEngine, cfg.CompletionMaxTokens)
	llm.Register(openAIEngine, pipeline.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), cfg.ChatModel)
	tts := pipeline.NewTTSRouter(map[string]pipeline.TTSSynthesizer{
		openAIEngine: pipeline.NewOpenAISpeechSynthesizer(oai, cfg.TTSModel, cfg.Voice),
	}, openAIEngine)
	asr := pipeline.NewASRRouter(map[string]pipeline.ASRTranscriber{
		openAIEngine: pipeline.NewOpenAITranscriber(oai, cfg.TranscribeModel),
	}, openAIEngine)
	fallback := pipeline.NewFallback(pipeline.FallbackConfig{
		LLM:       llm,
		LLMEngine: openAIEngine,
		LLMModel:  cfg.ChatModel,
		TTS:       tts,
		TTSEngine: openAIEngine,
		TTSSpeed:  cfg.TTSSpeed,
		ASR:       asr,
		ASREngine: openAIEngine,
	})

	sessionCfg := orchestrator.Config{
		Fallback:          fallback,
		TurnTimeout:       cfg.TurnTimeout,
		UploadHoldTimeout: cfg.UploadHoldTimeout,
	}
	if cfg.OpenAIAPIKey != "" {
		sessionCfg.Open = realtimeOpener(cfg)
	} else {
		slog.Warn("no openai api key, sessions start in fallback mode")
	}

	d := deps{verifier: verifier}

	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL)
		if err != nil {
			slog.Warn("nats unavailable, onboarding events disabled", "error", err)
		} else {
			defer pub.Close()
			sessionCfg.Publisher = pub
		}
	}

	if cfg.DatabaseURL != "" {
		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		store, err := audit.Open(initCtx, cfg.DatabaseURL)
		initCancel()
		if err != nil {
			slog.Warn("audit store unavailable", "error", err)
		} else {
			defer store.Close()
			sessionCfg.Audit = store
			d.audit = store
		}
	}

	var candidates ws.CandidateLookup
	if cfg.AirtableEnabled() {
		rc := records.NewClient(records.Config{
			BaseURL:    cfg.AirtableURL,
			Token:      cfg.AirtableToken,
			BaseID:     cfg.AirtableBaseID,
			TableID:    cfg.AirtableTableID,
			HTTPClient: httpClient,
			CacheTTL:   cfg.AirtableCacheTTL,
		})
		candidates = rc
		d.records = rc
	}

	if cfg.BlobEnabled() {
		store, err := blob.NewStore(ctx, blob.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
			MaxBytes:  int64(cfg.MaxUploadMB) << 20,
		})
		if err != nil {
			slog.Warn("blob store unavailable, uploads disabled", "error", err)
		} else {
			d.blobs = store
		}
	}

	registry := orchestrator.NewRegistry()
	d.sessions = registry
	d.wsHandler = ws.NewHandler(ws.HandlerConfig{
		Session:       sessionCfg,
		Registry:      registry,
		Candidates:    candidates,
		MaxConcurrent: cfg.MaxConcurrentSessions,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, d)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		slog.Info("closing onboarding sessions", "active", registry.Count())
		registry.CloseAll()
		if err := registry.Wait(ctx); err != nil {
			slog.Warn("sessions did not drain", "error", err)
		}

		srv.Shutdown(ctx)
	}()

	slog.Info("preboard starting",
		"addr", addr,
		"max_concurrent", cfg.MaxConcurrentSessions,
		"oracle", cfg.OracleBackend,
		"airtable", cfg.AirtableEnabled(),
		"blob", d.blobs != nil,
		"audit", d.audit != nil,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("preboard stopped")
}

// realtimeOpener dials a fresh realtime conversation per session.
func realtimeOpener(cfg *config.Config) orchestrator.OpenFunc {
	dialer := &realtime.Dialer{
		URL:     cfg.RealtimeURL,
		Model:   cfg.RealtimeModel,
		APIKey:  cfg.OpenAIAPIKey,
		Timeout: cfg.ConnectTimeout,
	}
	return func(ctx context.Context, instructions, greeting string) (orchestrator.Conversation, error) {
		sc := realtime.DefaultSessionConfig()
		sc.Instructions = instructions
		sc.Voice = cfg.Voice
		sc.TranscribeModel = cfg.TranscribeModel
		t, err := realtime.Open(ctx, dialer, sc, greeting)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
