package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/preboard/internal/metrics"
)

// TTSOptions holds per-call TTS tuning parameters.
type TTSOptions struct {
	Speed float64
}

// TTSSynthesizer produces audio from text.
type TTSSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error)
	Format() string
}

// TTSResult holds synthesized audio with timing.
type TTSResult struct {
	Audio     []byte  `json:"-"`
	Format    string  `json:"format"`
	LatencyMs float64 `json:"latency_ms"`
}

// TTSRouter dispatches to the correct TTS backend based on engine name.
// Wraps the generic Router with a TTS-specific Synthesize method that adds timing/metrics.
type TTSRouter struct {
	*Router[TTSSynthesizer]
}

// NewTTSRouter creates a router with registered TTS backends and a fallback default.
func NewTTSRouter(backends map[string]TTSSynthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize routes to the correct backend, synthesizes audio, and records latency metrics.
func (r *TTSRouter) Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error) {
	start := time.Now()

	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}

	audioData, err := backend.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, err
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return &TTSResult{
		Audio:     audioData,
		Format:    backend.Format(),
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

// --- OpenAI speech backend (tts-1, mp3) ---

type openaiSpeech struct {
	client openai.Client
	model  string
	voice  string
}

// NewOpenAISpeechSynthesizer synthesizes mp3 through the OpenAI audio speech API.
func NewOpenAISpeechSynthesizer(client openai.Client, model, voice string) TTSSynthesizer {
	return &openaiSpeech{client: client, model: model, voice: voice}
}

func (o *openaiSpeech) Format() string { return "mp3" }

func (o *openaiSpeech) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}

	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai speech: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai speech returned no audio")
	}
	return data, nil
}
