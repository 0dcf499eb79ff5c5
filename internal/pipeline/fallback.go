package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/preboard/internal/audio"
)

// minUtterance is the shortest recording worth sending for transcription.
const minUtterance = 100 * time.Millisecond

// silenceLevel is the RMS level below which a recording is treated as silence.
const silenceLevel = 0.005

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("empty completion")

// FallbackConfig wires the batch voice path used when no realtime
// conversation stream is available.
type FallbackConfig struct {
	LLM        LLMChatClient
	LLMEngine  string
	LLMModel   string
	TTS        *TTSRouter
	TTSEngine  string
	TTSSpeed   float64
	ASR        *ASRRouter
	ASREngine  string
	SampleRate int
}

// Reply is one spoken agent turn: its text and the synthesized audio.
// Audio is nil when synthesis failed; the text is still usable.
type Reply struct {
	Text   string
	Audio  []byte
	Format string
}

// Fallback answers with a completion followed by batch TTS, and transcribes
// whole user recordings.
type Fallback struct {
	cfg FallbackConfig
}

// NewFallback creates the batch voice path.
func NewFallback(cfg FallbackConfig) *Fallback {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.RealtimeSampleRate
	}
	return &Fallback{cfg: cfg}
}

// Respond runs the instructions and directive through the completion model
// and speaks the answer.
func (f *Fallback) Respond(ctx context.Context, instructions, directive string) (*Reply, error) {
	res, err := f.cfg.LLM.Chat(ctx, directive, instructions, f.cfg.LLMModel, f.cfg.LLMEngine)
	if err != nil {
		return nil, fmt.Errorf("fallback completion: %w", err)
	}
	if res.Text == "" {
		return nil, ErrEmptyCompletion
	}
	slog.Debug("fallback completion", "latency_ms", res.LatencyMs, "ttft_ms", res.TimeToFirstTokenMs)
	return f.Speak(ctx, res.Text)
}

// Speak synthesizes fixed text.
func (f *Fallback) Speak(ctx context.Context, text string) (*Reply, error) {
	reply := &Reply{Text: text}
	tts, err := f.cfg.TTS.Synthesize(ctx, text, f.cfg.TTSEngine, TTSOptions{Speed: f.cfg.TTSSpeed})
	if err != nil {
		slog.Warn("fallback tts failed, sending text only", "error", err)
		return reply, nil
	}
	slog.Debug("fallback speech", "latency_ms", tts.LatencyMs, "bytes", len(tts.Audio))
	reply.Audio = tts.Audio
	reply.Format = tts.Format
	return reply, nil
}

// Transcribe converts a pcm16 recording to text. Recordings shorter than
// minUtterance, silent recordings and transcripts of background noise yield
// an empty string.
func (f *Fallback) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if audio.PCM16Duration(pcm, f.cfg.SampleRate) < minUtterance {
		return "", nil
	}
	if level := audio.PCM16RMS(pcm); level < silenceLevel {
		slog.Debug("dropping silent recording", "rms", level)
		return "", nil
	}
	res, err := f.cfg.ASR.Transcribe(ctx, audio.PCM16ToWAV(pcm, f.cfg.SampleRate), f.cfg.ASREngine)
	if err != nil {
		return "", fmt.Errorf("fallback transcription: %w", err)
	}
	slog.Debug("fallback transcription", "latency_ms", res.LatencyMs)
	if isNoiseTranscript(res.Text) {
		slog.Debug("dropping noise transcript", "text", res.Text)
		return "", nil
	}
	return strings.TrimSpace(res.Text), nil
}
