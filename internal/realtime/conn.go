package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/preboard/internal/metrics"
)

const (
	writeTimeout = 5 * time.Second
	eventBuffer  = 256
)

// ErrNotReady is returned when the remote session closes or errors before
// announcing itself.
var ErrNotReady = errors.New("realtime session not ready")

// Dialer opens websocket conversation streams.
type Dialer struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
	WS      *websocket.Dialer
}

// Dial connects and waits for the ready event, bounded by Timeout.
func (d *Dialer) Dial(ctx context.Context) (Stream, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := d.target()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	wsDialer := d.WS
	if wsDialer == nil {
		wsDialer = websocket.DefaultDialer
	}
	conn, _, err := wsDialer.DialContext(ctx, target, header)
	if err != nil {
		metrics.Errors.WithLabelValues("realtime", "dial").Inc()
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	if err = awaitReady(ctx, conn); err != nil {
		conn.Close()
		metrics.Errors.WithLabelValues("realtime", "ready").Inc()
		return nil, err
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (d *Dialer) target() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func awaitReady(ctx context.Context, conn *websocket.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		ev, ok, err := Decode(data)
		if err != nil || !ok {
			continue
		}
		switch e := ev.(type) {
		case Ready:
			return nil
		case Error:
			return fmt.Errorf("%w: %w", ErrNotReady, e)
		}
	}
}

// wsStream is a Stream over a gorilla websocket connection.
type wsStream struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsStream) Events() <-chan Event { return s.events }

func (s *wsStream) Configure(cfg SessionConfig) error {
	return s.write(sessionUpdateMsg(cfg))
}

func (s *wsStream) AppendAudio(pcm []byte) error {
	return s.write(audioAppendMsg(pcm))
}

func (s *wsStream) ClearAudioBuffer() error {
	return s.write(bare{Type: "input_audio_buffer.clear"})
}

func (s *wsStream) CancelResponse() error {
	return s.write(bare{Type: "response.cancel"})
}

func (s *wsStream) InjectMessage(role, text string) error {
	return s.write(itemCreateMsg(role, text))
}

func (s *wsStream) RequestResponse(tag string) error {
	return s.write(responseCreateMsg(tag))
}

// Close shuts the connection; the read loop then emits Closed.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		metrics.Errors.WithLabelValues("realtime", "write").Inc()
		return fmt.Errorf("realtime write: %w", err)
	}
	return nil
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(Closed{Err: closeReason(err)})
			return
		}
		ev, ok, err := Decode(data)
		if err != nil {
			slog.Warn("realtime decode", "error", err)
			continue
		}
		if !ok {
			continue
		}
		if !s.emit(ev) {
			return
		}
	}
}

// emit delivers ev unless the stream was closed locally.
func (s *wsStream) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func closeReason(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}
