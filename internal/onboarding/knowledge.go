package onboarding

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAlreadyVerified is returned when recording an attempt for a category
// that already has a passing verdict.
var ErrAlreadyVerified = errors.New("category already verified")

// ErrDuplicateVerdict is returned when the same oracle verdict is recorded
// twice, as happens when it arrives over both the API and the socket.
var ErrDuplicateVerdict = errors.New("verdict already recorded")

// CategoryRecord is the verification history of one document category.
type CategoryRecord struct {
	Verified *Verdict  `json:"verified,omitempty"`
	Attempts []Verdict `json:"attempts"`
}

// DocumentKnowledge accumulates every verdict for a session. It is owned by
// a single orchestrator goroutine and is not safe for concurrent use.
type DocumentKnowledge struct {
	records map[Stage]*CategoryRecord
}

// NewDocumentKnowledge returns empty knowledge for all categories.
func NewDocumentKnowledge() *DocumentKnowledge {
	k := &DocumentKnowledge{records: make(map[Stage]*CategoryRecord, len(Categories))}
	for _, c := range Categories {
		k.records[c] = &CategoryRecord{}
	}
	return k
}

// Record appends v as the next attempt for category c, assigning its
// attempt number. A passing verdict becomes the category's Verified entry.
func (k *DocumentKnowledge) Record(c Stage, v Verdict) (Verdict, error) {
	rec, ok := k.records[c]
	if !ok {
		return v, fmt.Errorf("record attempt: unknown category %q", c)
	}
	if rec.Verified != nil {
		return v, ErrAlreadyVerified
	}
	if n := len(rec.Attempts); n > 0 && !v.Timestamp.IsZero() && rec.Attempts[n-1].Timestamp.Equal(v.Timestamp) {
		return v, ErrDuplicateVerdict
	}
	v.AttemptNumber = len(rec.Attempts) + 1
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}
	rec.Attempts = append(rec.Attempts, v)
	if v.Passed() {
		verified := v
		rec.Verified = &verified
	}
	return v, nil
}

// Category returns a copy of the record for c.
func (k *DocumentKnowledge) Category(c Stage) CategoryRecord {
	rec, ok := k.records[c]
	if !ok {
		return CategoryRecord{}
	}
	out := CategoryRecord{Attempts: append([]Verdict(nil), rec.Attempts...)}
	if rec.Verified != nil {
		v := *rec.Verified
		out.Verified = &v
	}
	return out
}

// IsVerified reports whether c has a passing verdict.
func (k *DocumentKnowledge) IsVerified(c Stage) bool {
	rec, ok := k.records[c]
	return ok && rec.Verified != nil
}

// Snapshot returns copies of all category records keyed by category name.
func (k *DocumentKnowledge) Snapshot() map[string]CategoryRecord {
	out := make(map[string]CategoryRecord, len(k.records))
	for _, c := range Categories {
		out[string(c)] = k.Category(c)
	}
	return out
}

// Summary renders a plain-text attempt history, one line per attempt.
func (k *DocumentKnowledge) Summary() string {
	var b strings.Builder
	for _, c := range Categories {
		rec := k.records[c]
		status := "pending"
		if rec.Verified != nil {
			status = "verified"
		}
		fmt.Fprintf(&b, "%s: %s (%d attempts)\n", c, status, len(rec.Attempts))
		for _, a := range rec.Attempts {
			fmt.Fprintf(&b, "  #%d valid=%t name_match=%t confidence=%.0f%%", a.AttemptNumber, a.IsValid, a.NameMatch, a.Confidence*100)
			if len(a.Issues) > 0 {
				fmt.Fprintf(&b, " issues=%s", strings.Join(a.Issues, "; "))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Session is the per-candidate onboarding state.
type Session struct {
	ID            string
	CandidateName string
	Stage         Stage
	Knowledge     *DocumentKnowledge
	StartedAt     time.Time
}

// NewSession starts a candidate at the identity stage.
func NewSession(id, candidateName string) *Session {
	return &Session{
		ID:            id,
		CandidateName: candidateName,
		Stage:         StageIdentity,
		Knowledge:     NewDocumentKnowledge(),
		StartedAt:     time.Now().UTC(),
	}
}

// Advance moves the session to the stage after the current one.
func (s *Session) Advance() Stage {
	s.Stage = s.Stage.Next()
	return s.Stage
}
