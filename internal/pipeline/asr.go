package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/preboard/internal/metrics"
)

// ASRTranscriber produces transcriptions from a WAV file.
type ASRTranscriber interface {
	Transcribe(ctx context.Context, wav []byte) (*ASRResult, error)
}

// ASRResult holds the transcription output.
type ASRResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// ASRRouter dispatches to the correct ASR backend based on engine name.
type ASRRouter struct {
	*Router[ASRTranscriber]
}

// NewASRRouter creates a router with registered ASR backends and a fallback default.
func NewASRRouter(backends map[string]ASRTranscriber, fallback string) *ASRRouter {
	return &ASRRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe routes to the correct backend and transcribes the audio.
func (r *ASRRouter) Transcribe(ctx context.Context, wav []byte, engine string) (*ASRResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := backend.Transcribe(ctx, wav)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "transcribe").Inc()
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("asr").Observe(time.Since(start).Seconds())
	return res, nil
}

// --- OpenAI transcription backend (whisper-1) ---

type openaiWhisper struct {
	client openai.Client
	model  string
}

// NewOpenAITranscriber transcribes through the OpenAI audio transcription API.
func NewOpenAITranscriber(client openai.Client, model string) ASRTranscriber {
	return &openaiWhisper{client: client, model: model}
}

func (o *openaiWhisper) Transcribe(ctx context.Context, wav []byte) (*ASRResult, error) {
	start := time.Now()
	res, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "speech.wav", "audio/wav"),
		Model: openai.AudioModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}
	return &ASRResult{
		Text:      strings.TrimSpace(res.Text),
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}
