package realtime

import (
	"encoding/base64"
)

// Stream is the wire protocol of a bidirectional speech conversation.
type Stream interface {
	Configure(cfg SessionConfig) error
	AppendAudio(pcm []byte) error
	ClearAudioBuffer() error
	CancelResponse() error
	InjectMessage(role, text string) error
	RequestResponse(tag string) error
	Events() <-chan Event
	Close() error
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// SessionConfig is the conversation behavior sent with every reconfiguration.
type SessionConfig struct {
	Instructions    string
	Voice           string
	TranscribeModel string
	Temperature     float64
	TurnDetection   TurnDetection
}

// DefaultSessionConfig returns voice alloy, pcm16 audio, whisper-1 input
// transcription and server VAD.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Voice:           "alloy",
		TranscribeModel: "whisper-1",
		Temperature:     0.9,
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			CreateResponse:    true,
			InterruptResponse: true,
		},
	}
}

var modalities = []string{"text", "audio"}

type sessionUpdate struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

type sessionBody struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions"`
	Voice                   string             `json:"voice"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *transcriptionBody `json:"input_audio_transcription,omitempty"`
	TurnDetection           TurnDetection      `json:"turn_detection"`
	Temperature             float64            `json:"temperature"`
}

type transcriptionBody struct {
	Model string `json:"model"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type responseCreate struct {
	Type     string `json:"type"`
	Response struct {
		Modalities []string          `json:"modalities"`
		Metadata   map[string]string `json:"metadata,omitempty"`
	} `json:"response"`
}

// narrationKey is the response metadata key that carries a narration tag.
const narrationKey = "narration"

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bare struct {
	Type string `json:"type"`
}

func sessionUpdateMsg(cfg SessionConfig) sessionUpdate {
	body := sessionBody{
		Modalities:        modalities,
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     cfg.TurnDetection,
		Temperature:       cfg.Temperature,
	}
	if cfg.TranscribeModel != "" {
		body.InputAudioTranscription = &transcriptionBody{Model: cfg.TranscribeModel}
	}
	return sessionUpdate{Type: "session.update", Session: body}
}

func itemCreateMsg(role, text string) itemCreate {
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []contentPart{{Type: partType, Text: text}},
		},
	}
}

func responseCreateMsg(tag string) responseCreate {
	msg := responseCreate{Type: "response.create"}
	msg.Response.Modalities = modalities
	if tag != "" {
		msg.Response.Metadata = map[string]string{narrationKey: tag}
	}
	return msg
}

func audioAppendMsg(pcm []byte) audioAppend {
	return audioAppend{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(pcm)}
}
