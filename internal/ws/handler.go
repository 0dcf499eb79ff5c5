package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/preboard/internal/metrics"
	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/orchestrator"
	"github.com/hubenschmidt/preboard/internal/records"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CandidateLookup resolves a record id to the candidate it belongs to.
type CandidateLookup interface {
	Candidate(ctx context.Context, recordID string) (*records.Candidate, error)
}

// HandlerConfig holds what every onboarding session shares.
type HandlerConfig struct {
	// Session is copied for each connection; SessionID and CandidateName
	// are filled from the start message.
	Session       orchestrator.Config
	Registry      *orchestrator.Registry
	Candidates    CandidateLookup
	MaxConcurrent int
}

// Handler manages onboarding WebSocket sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	if cfg.Registry == nil {
		cfg.Registry = orchestrator.NewRegistry()
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// Client → server message types.
const (
	msgStart             = "start"
	msgAudioInput        = "audio_input"
	msgAudioCommit       = "audio_commit"
	msgDocumentUploading = "document_uploading"
	msgVerification      = "verification_result"
)

// clientMessage is any text frame sent by the browser.
type clientMessage struct {
	Type             string          `json:"type"`
	RecordID         string          `json:"recordId"`
	CandidateName    string          `json:"candidateName"`
	Audio            string          `json:"audio"`
	AudioData        string          `json:"audioData"`
	DocumentType     string          `json:"documentType"`
	VerificationData json.RawMessage `json:"verificationData"`
}

// ServeHTTP upgrades the connection and runs the onboarding session.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	h.runSession(conn)
}

// connSession is the state of one browser connection.
type connSession struct {
	h    *Handler
	ctx  context.Context
	conn *websocket.Conn
	send orchestrator.EventCallback
	orch *orchestrator.Orchestrator

	unregister func()
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &connSession{h: h, ctx: ctx, conn: conn, send: newEventSender(conn)}
	defer s.end()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "error", err)
			return
		}

		if msgType == websocket.BinaryMessage {
			s.audio(data)
			continue
		}

		var msg clientMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed client message", "error", err)
			s.fail("Malformed message.")
			continue
		}
		s.handle(msg)
	}
}

func (s *connSession) handle(msg clientMessage) {
	if msg.Type != msgStart && s.orch == nil {
		s.fail("Session not started.")
		return
	}

	switch msg.Type {
	case msgStart:
		s.start(msg.RecordID, msg.CandidateName)
	case msgAudioInput:
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			slog.Debug("bad audio frame", "error", err)
			return
		}
		s.audio(pcm)
	case msgAudioCommit:
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioData)
		if err != nil {
			s.fail("Could not read the recording.")
			return
		}
		s.command(s.orch.CommitAudio(s.ctx, pcm))
	case msgDocumentUploading:
		s.command(s.orch.DocumentUploading(s.ctx))
	case msgVerification:
		s.verification(msg)
	default:
		slog.Warn("unknown client message", "type", msg.Type, "session_id", s.orch.ID())
	}
}

func (s *connSession) start(recordID, name string) {
	if s.orch != nil {
		slog.Warn("duplicate start ignored", "session_id", s.orch.ID())
		return
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		s.fail("A record id is required to start onboarding.")
		return
	}

	name = strings.TrimSpace(name)
	if name == "" && s.h.cfg.Candidates != nil {
		cand, err := s.h.cfg.Candidates.Candidate(s.ctx, recordID)
		switch {
		case errors.Is(err, records.ErrNotFound):
			s.fail("We could not find your onboarding record.")
			return
		case err != nil:
			slog.Warn("candidate lookup failed", "record_id", recordID, "error", err)
		default:
			name = cand.Name
		}
	}
	if name == "" {
		s.fail("A candidate name is required to start onboarding.")
		return
	}

	cfg := s.h.cfg.Session
	cfg.SessionID = recordID
	cfg.CandidateName = name
	s.orch = orchestrator.New(cfg, s.send)
	s.orch.Start(s.ctx)
	s.unregister = s.h.cfg.Registry.Register(s.orch)
	go s.hangUpWhenClosed()
}

// hangUpWhenClosed ends the browser connection once the session is closed
// from elsewhere (shutdown, or a newer connection for the same record), so
// the read loop returns and the session unregisters.
func (s *connSession) hangUpWhenClosed() {
	select {
	case <-s.orch.Done():
	case <-s.ctx.Done():
		return
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "onboarding session closed"),
		time.Now().Add(time.Second))
	s.conn.Close()
}

func (s *connSession) audio(pcm []byte) {
	if s.orch == nil || len(pcm) == 0 {
		return
	}
	s.orch.SendAudio(pcm)
}

func (s *connSession) verification(msg clientMessage) {
	var v onboarding.Verdict
	if err := json.Unmarshal(msg.VerificationData, &v); err != nil {
		s.fail("Could not read the verification result.")
		return
	}

	category := s.orch.Stage()
	if msg.DocumentType != "" {
		c, err := onboarding.ParseCategory(msg.DocumentType)
		if err != nil {
			s.fail("Unknown document type.")
			return
		}
		category = c
	}

	if _, err := s.orch.Submit(s.ctx, category, v.Clamp()); err != nil {
		s.command(err)
	}
}

func (s *connSession) command(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, orchestrator.ErrClosed) {
		s.fail("This onboarding session has ended.")
		return
	}
	slog.Warn("session command failed", "error", err)
}

func (s *connSession) fail(content string) {
	s.send(orchestrator.Event{Type: orchestrator.EventError, Content: content})
}

func (s *connSession) end() {
	if s.orch == nil {
		return
	}
	s.orch.Close()
	s.unregister()
	slog.Info("onboarding session ended", "session_id", s.orch.ID(), "stage", s.orch.Stage())
}

func newEventSender(conn *websocket.Conn) orchestrator.EventCallback {
	var mu sync.Mutex
	return func(ev orchestrator.Event) {
		mu.Lock()
		defer mu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			slog.Debug("write event", "type", ev.Type, "error", err)
		}
	}
}
