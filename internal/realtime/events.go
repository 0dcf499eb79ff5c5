package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one inbound occurrence on a conversation stream. The set of
// implementations is closed; consumers switch on the concrete type.
type Event interface {
	event()
}

// Ready signals that the remote session accepted the connection.
type Ready struct{}

// ResponseStarted marks the beginning of an agent response. Tag is set
// for responses requested by InjectSystemContext: "1" for the first
// injection on the transport, "2" for the second, and so on.
type ResponseStarted struct {
	ResponseID string
	Tag        string
}

// TextDelta is a fragment of the agent's spoken transcript or text output.
type TextDelta struct {
	ResponseID string
	Delta      string
}

// AudioDelta is a base64 pcm16 fragment of agent speech.
type AudioDelta struct {
	ResponseID string
	Audio      string
}

// TurnDone marks the end of an agent response. Status is "completed",
// "cancelled", "failed" or "incomplete".
type TurnDone struct {
	ResponseID string
	Status     string
	Text       string
}

// UserTranscript is the finished transcription of a user utterance.
type UserTranscript struct {
	Text string
}

// Error is an error reported by the remote session. The stream stays open.
type Error struct {
	Code    string
	Message string
}

// Closed is always the last event before the channel closes.
type Closed struct {
	Err error
}

func (Ready) event()           {}
func (ResponseStarted) event() {}
func (TextDelta) event()       {}
func (AudioDelta) event()      {}
func (TurnDone) event()        {}
func (UserTranscript) event()  {}
func (Error) event()           {}
func (Closed) event()          {}

func (e Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type serverEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Response   struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
		Output   []struct {
			Content []struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decode maps one provider JSON message onto an Event. Messages the
// orchestration does not use report ok=false.
func Decode(data []byte) (ev Event, ok bool, err error) {
	var m serverEvent
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("decode realtime event: %w", err)
	}

	switch m.Type {
	case "session.created":
		return Ready{}, true, nil
	case "response.created":
		return ResponseStarted{ResponseID: m.Response.ID, Tag: m.Response.Metadata[narrationKey]}, true, nil
	case "response.text.delta", "response.audio_transcript.delta":
		return TextDelta{ResponseID: m.ResponseID, Delta: m.Delta}, true, nil
	case "response.audio.delta":
		return AudioDelta{ResponseID: m.ResponseID, Audio: m.Delta}, true, nil
	case "response.done":
		return TurnDone{ResponseID: m.Response.ID, Status: m.Response.Status, Text: responseText(m)}, true, nil
	case "conversation.item.input_audio_transcription.completed":
		return UserTranscript{Text: strings.TrimSpace(m.Transcript)}, true, nil
	case "error":
		code := m.Error.Code
		if code == "" {
			code = m.Error.Type
		}
		return Error{Code: code, Message: m.Error.Message}, true, nil
	default:
		return nil, false, nil
	}
}

func responseText(m serverEvent) string {
	var parts []string
	for _, out := range m.Response.Output {
		for _, c := range out.Content {
			switch {
			case c.Text != "":
				parts = append(parts, c.Text)
			case c.Transcript != "":
				parts = append(parts, c.Transcript)
			}
		}
	}
	return strings.Join(parts, " ")
}
