// Package transcript keeps the per-session conversation log that is dumped
// once for audit when the session ends.
package transcript

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Speaker identifies who said a line.
type Speaker string

const (
	Agent Speaker = "agent"
	User  Speaker = "user"
)

// Entry is one utterance.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is what a flush produced.
type Record struct {
	SessionID string    `json:"sessionId"`
	Entries   []Entry   `json:"entries"`
	Summary   string    `json:"summary"`
	FlushedAt time.Time `json:"flushedAt"`
}

// Log is an append-only, in-memory transcript. Safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	sessionID string
	entries   []Entry
	now       func() time.Time
}

// New creates an empty log for a session.
func New(sessionID string) *Log {
	return &Log{sessionID: sessionID, now: time.Now}
}

// WithClock replaces the timestamp source.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// Append records one utterance. Blank text is ignored.
func (l *Log) Append(speaker Speaker, text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Speaker: speaker, Text: text, Timestamp: l.now().UTC()})
}

// Entries returns a copy of the log so far.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flush dumps the transcript and the knowledge summary through logger in
// one record, then empties the log.
func (l *Log) Flush(logger *slog.Logger, summary string) Record {
	l.mu.Lock()
	rec := Record{
		SessionID: l.sessionID,
		Entries:   l.entries,
		Summary:   summary,
		FlushedAt: l.now().UTC(),
	}
	l.entries = nil
	l.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("session transcript",
		"session_id", rec.SessionID,
		"turns", len(rec.Entries),
		"transcript", rec.Lines(),
		"documents", summary,
	)
	return rec
}

// Lines renders each entry as "[time] speaker: text".
func (r Record) Lines() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format(time.TimeOnly), e.Speaker, e.Text)
	}
	return out
}
