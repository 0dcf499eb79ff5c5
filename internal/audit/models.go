package audit

import (
	"time"

	"github.com/hubenschmidt/preboard/internal/transcript"
)

// Session is one onboarding conversation.
type Session struct {
	ID            string             `json:"id"`
	RecordID      string             `json:"record_id"`
	CandidateName string             `json:"candidate_name"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       *time.Time         `json:"ended_at,omitempty"`
	FinalStage    string             `json:"final_stage"`
	Completed     bool               `json:"completed"`
	Mode          string             `json:"mode"`
	Transcript    []transcript.Entry `json:"transcript,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	VerdictCount  int                `json:"verdict_count,omitempty"`
}

// Verdict is one recorded verification attempt, stale ones included.
type Verdict struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	Category      string            `json:"category"`
	Attempt       int               `json:"attempt"`
	IsValid       bool              `json:"is_valid"`
	NameMatch     bool              `json:"name_match"`
	Confidence    float64           `json:"confidence"`
	ExtractedName string            `json:"extracted_name,omitempty"`
	Issues        []string          `json:"issues"`
	ExtractedData map[string]string `json:"extracted_data,omitempty"`
	Analysis      string            `json:"analysis,omitempty"`
	Stale         bool              `json:"stale"`
	RecordedAt    time.Time         `json:"recorded_at"`
}

// Ending is the final state written when a session closes.
type Ending struct {
	FinalStage string
	Completed  bool
	Mode       string
	Record     transcript.Record
}
