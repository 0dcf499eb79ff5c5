package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	srv      *httptest.Server
	received chan map[string]any
	send     chan string
	header   chan http.Header
	query    chan string
}

func newFakeProvider(t *testing.T, ready bool) *fakeProvider {
	p := &fakeProvider{
		received: make(chan map[string]any, 64),
		send:     make(chan string, 16),
		header:   make(chan http.Header, 1),
		query:    make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.header <- r.Header.Clone()
		p.query <- r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		if ready {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		}
		go func() {
			for msg := range p.send {
				if conn.WriteMessage(websocket.TextMessage, []byte(msg)) != nil {
					return
				}
			}
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				p.received <- m
			}
		}
	}))
	t.Cleanup(func() {
		p.srv.Close()
	})
	return p
}

func (p *fakeProvider) dialer(timeout time.Duration) *Dialer {
	return &Dialer{
		URL:     "ws" + strings.TrimPrefix(p.srv.URL, "http"),
		Model:   "gpt-4o-realtime-preview",
		APIKey:  "sk-test",
		Timeout: timeout,
	}
}

func (p *fakeProvider) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-p.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message from client")
		return nil
	}
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestOpenConfiguresAndRequestsGreeting(t *testing.T) {
	p := newFakeProvider(t, true)

	cfg := DefaultSessionConfig()
	cfg.Instructions = "be kind"
	tr, err := Open(context.Background(), p.dialer(time.Second), cfg, "greet Jane")
	require.NoError(t, err)
	defer tr.Close()

	h := <-p.header
	assert.Equal(t, "Bearer sk-test", h.Get("Authorization"))
	assert.Equal(t, "realtime=v1", h.Get("OpenAI-Beta"))
	assert.Equal(t, "gpt-4o-realtime-preview", <-p.query)

	update := p.next(t)
	assert.Equal(t, "session.update", update["type"])
	session := update["session"].(map[string]any)
	assert.Equal(t, "be kind", session["instructions"])
	assert.Equal(t, "alloy", session["voice"])
	assert.Equal(t, "pcm16", session["input_audio_format"])
	vad := session["turn_detection"].(map[string]any)
	assert.Equal(t, "server_vad", vad["type"])
	assert.InDelta(t, 0.5, vad["threshold"], 1e-9)
	assert.InDelta(t, 500, vad["silence_duration_ms"], 1e-9)

	item := p.next(t)
	assert.Equal(t, "conversation.item.create", item["type"])
	assert.Contains(t, mustJSON(t, item), "greet Jane")

	create := p.next(t)
	assert.Equal(t, "response.create", create["type"])
	assert.NotContains(t, create["response"].(map[string]any), "metadata")
}

func TestCancelAndInject(t *testing.T) {
	p := newFakeProvider(t, true)
	tr, err := Open(context.Background(), p.dialer(time.Second), DefaultSessionConfig(), "hi")
	require.NoError(t, err)
	defer tr.Close()
	for range 3 {
		p.next(t)
	}

	require.NoError(t, tr.CancelCurrentTurn())
	assert.Equal(t, "response.cancel", p.next(t)["type"])
	assert.Equal(t, "input_audio_buffer.clear", p.next(t)["type"])

	require.NoError(t, tr.InjectSystemContext("new facts", "explain results"))
	update := p.next(t)
	assert.Equal(t, "new facts", update["session"].(map[string]any)["instructions"])
	assert.Contains(t, mustJSON(t, p.next(t)), "explain results")
	create := p.next(t)
	assert.Equal(t, "response.create", create["type"])
	assert.Equal(t, map[string]any{"narration": "1"}, create["response"].(map[string]any)["metadata"])

	require.NoError(t, tr.InjectSystemContext("more facts", "explain again"))
	p.next(t)
	p.next(t)
	create = p.next(t)
	assert.Equal(t, map[string]any{"narration": "2"}, create["response"].(map[string]any)["metadata"])

	require.NoError(t, tr.SendUserAudio([]byte{1, 2, 3, 4}))
	audio := p.next(t)
	assert.Equal(t, "input_audio_buffer.append", audio["type"])
	assert.Equal(t, "AQIDBA==", audio["audio"])
}

func TestEventsAreDecodedAndClosedIsLast(t *testing.T) {
	p := newFakeProvider(t, true)
	tr, err := Open(context.Background(), p.dialer(time.Second), DefaultSessionConfig(), "hi")
	require.NoError(t, err)

	p.send <- `{"type":"response.created","response":{"id":"r0"}}`
	p.send <- `{"type":"response.created","response":{"id":"r1","metadata":{"narration":"3"}}}`
	p.send <- `{"type":"session.updated"}`
	p.send <- `{"type":"response.audio_transcript.delta","response_id":"r1","delta":"Hel"}`
	p.send <- `{"type":"response.done","response":{"id":"r1","status":"completed","output":[{"content":[{"type":"audio","transcript":"Hello"}]}]}}`

	assert.Equal(t, ResponseStarted{ResponseID: "r0"}, nextEvent(t, tr.Events()))
	assert.Equal(t, ResponseStarted{ResponseID: "r1", Tag: "3"}, nextEvent(t, tr.Events()))
	assert.Equal(t, TextDelta{ResponseID: "r1", Delta: "Hel"}, nextEvent(t, tr.Events()))
	assert.Equal(t, TurnDone{ResponseID: "r1", Status: "completed", Text: "Hello"}, nextEvent(t, tr.Events()))

	close(p.send)
	_, ok := nextEvent(t, tr.Events()).(Closed)
	assert.True(t, ok)
	tr.Close()
}

func TestDialTimesOutWithoutReady(t *testing.T) {
	p := newFakeProvider(t, false)

	start := time.Now()
	_, err := p.dialer(100 * time.Millisecond).Dial(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDialFailsOnUnreachableEndpoint(t *testing.T) {
	d := &Dialer{URL: "ws://127.0.0.1:1/v1/realtime", Timeout: 200 * time.Millisecond}
	_, err := d.Dial(context.Background())
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	cases := map[string]Event{
		`{"type":"session.created"}`:                                                            Ready{},
		`{"type":"response.audio.delta","response_id":"r","delta":"AAA="}`:                      AudioDelta{ResponseID: "r", Audio: "AAA="},
		`{"type":"response.text.delta","response_id":"r","delta":"x"}`:                          TextDelta{ResponseID: "r", Delta: "x"},
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":" yes "}`: UserTranscript{Text: "yes"},
		`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`:             Error{Code: "invalid_request_error", Message: "bad"},
	}
	for raw, want := range cases {
		ev, ok, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, ev, raw)
	}

	_, ok, err := Decode([]byte(`{"type":"rate_limits.updated"}`))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Decode([]byte(`{`))
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
