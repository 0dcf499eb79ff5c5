package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/transcript"
)

type fakeWriter struct {
	mu       sync.Mutex
	calls    []string
	sessions []Session
	verdicts []Verdict
	ends     []Ending
	fail     error
}

func (f *fakeWriter) CreateSession(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "session_start")
	f.sessions = append(f.sessions, s)
	return f.fail
}

func (f *fakeWriter) EndSession(_ context.Context, _ string, e Ending) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "session_end")
	f.ends = append(f.ends, e)
	return f.fail
}

func (f *fakeWriter) CreateVerdict(_ context.Context, v Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "verdict")
	f.verdicts = append(f.verdicts, v)
	return f.fail
}

func TestRecorderWritesInOrder(t *testing.T) {
	w := &fakeWriter{}
	r := newRecorder(w, "rec1", "Jane Doe")

	r.Verdict(onboarding.StageIdentity, onboarding.Verdict{
		AttemptNumber: 1, IsValid: true, NameMatch: true, Confidence: 0.9,
		Timestamp: time.Now(), Issues: []string{},
	}, false)
	r.End(Ending{FinalStage: "address", Mode: "realtime", Record: transcript.Record{Summary: "identity: verified"}})
	r.Close()

	assert.Equal(t, []string{"session_start", "verdict", "session_end"}, w.calls)
	require.Len(t, w.sessions, 1)
	assert.Equal(t, "rec1", w.sessions[0].RecordID)
	assert.Equal(t, r.SessionID(), w.sessions[0].ID)
	assert.Equal(t, r.SessionID(), w.verdicts[0].SessionID)
	assert.Equal(t, "identity", w.verdicts[0].Category)
	assert.Equal(t, "address", w.ends[0].FinalStage)
}

func TestRecorderSurvivesWriteErrors(t *testing.T) {
	w := &fakeWriter{fail: errors.New("connection refused")}
	r := newRecorder(w, "rec1", "Jane")
	r.Verdict(onboarding.StageOffer, onboarding.Verdict{}, true)
	r.Close()
	assert.Len(t, w.calls, 2)
	assert.True(t, w.verdicts[0].Stale)
}

func TestNilRecorderIsNoop(t *testing.T) {
	r := NewRecorder(nil, "rec1", "Jane")
	assert.Nil(t, r)
	r.Verdict(onboarding.StageIdentity, onboarding.Verdict{}, false)
	r.End(Ending{})
	r.Close()
	assert.Empty(t, r.SessionID())
}

func TestMigrationsAreOrdered(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "000_sessions.sql", entries[0].Name())
	assert.Equal(t, "001_verdicts.sql", entries[1].Name())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
