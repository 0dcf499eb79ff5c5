package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/preboard/internal/onboarding"
)

const (
	maxAnalysisLen = 2000
	writeTimeout   = 5 * time.Second
)

type writer interface {
	CreateSession(ctx context.Context, sess Session) error
	EndSession(ctx context.Context, id string, end Ending) error
	CreateVerdict(ctx context.Context, v Verdict) error
}

type auditMsg struct {
	kind    string // "session_start", "verdict", "session_end"
	session Session
	verdict Verdict
	end     Ending
}

// Recorder writes one session's audit trail asynchronously via a buffered
// channel. All methods are nil-safe (no-op on nil receiver).
type Recorder struct {
	store     writer
	sessionID string
	ch        chan auditMsg
	done      chan struct{}
}

// NewRecorder starts recording a session. It returns nil when store is nil.
// Must call Close when done.
func NewRecorder(store *Store, recordID, candidateName string) *Recorder {
	if store == nil {
		return nil
	}
	return newRecorder(store, recordID, candidateName)
}

func newRecorder(store writer, recordID, candidateName string) *Recorder {
	r := &Recorder{
		store:     store,
		sessionID: uuid.NewString(),
		ch:        make(chan auditMsg, 64),
		done:      make(chan struct{}),
	}
	go r.drain()
	r.ch <- auditMsg{kind: "session_start", session: Session{
		ID:            r.sessionID,
		RecordID:      recordID,
		CandidateName: candidateName,
		StartedAt:     time.Now().UTC(),
		Mode:          "realtime",
	}}
	return r
}

// SessionID is the audit id of the recorded session.
func (r *Recorder) SessionID() string {
	if r == nil {
		return ""
	}
	return r.sessionID
}

func (r *Recorder) drain() {
	defer close(r.done)
	for msg := range r.ch {
		r.handle(msg)
	}
}

func (r *Recorder) handle(m auditMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	handlers := map[string]func() error{
		"session_start": func() error { return r.store.CreateSession(ctx, m.session) },
		"verdict":       func() error { return r.store.CreateVerdict(ctx, m.verdict) },
		"session_end":   func() error { return r.store.EndSession(ctx, r.sessionID, m.end) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("audit write failed", "kind", m.kind, "session_id", r.sessionID, "error", err)
	}
}

// Verdict records one attempt for category.
func (r *Recorder) Verdict(category onboarding.Stage, v onboarding.Verdict, stale bool) {
	if r == nil {
		return
	}
	r.ch <- auditMsg{kind: "verdict", verdict: Verdict{
		ID:            uuid.NewString(),
		SessionID:     r.sessionID,
		Category:      string(category),
		Attempt:       v.AttemptNumber,
		IsValid:       v.IsValid,
		NameMatch:     v.NameMatch,
		Confidence:    v.Confidence,
		ExtractedName: v.ExtractedName,
		Issues:        v.Issues,
		ExtractedData: v.ExtractedData,
		Analysis:      truncate(v.AIAnalysis, maxAnalysisLen),
		Stale:         stale,
		RecordedAt:    v.Timestamp,
	}}
}

// End stores the final session state.
func (r *Recorder) End(end Ending) {
	if r == nil {
		return
	}
	r.ch <- auditMsg{kind: "session_end", end: end}
}

// Close drains pending writes and shuts down the background goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	close(r.ch)
	<-r.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
