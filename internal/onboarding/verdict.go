package onboarding

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PassConfidence is the minimum oracle confidence for a document to pass.
const PassConfidence = 0.7

// TechnicalErrorIssue is the single issue carried by a synthetic verdict
// produced when the oracle could not be reached or answered garbage.
const TechnicalErrorIssue = "technical error"

// Verdict is the oracle's judgment on one uploaded document.
type Verdict struct {
	AttemptNumber int       `json:"attemptNumber"`
	Timestamp     time.Time `json:"timestamp"`
	IsValid       bool      `json:"isValid"`
	Confidence    float64   `json:"confidence"`
	NameMatch     bool      `json:"nameMatch"`
	ExtractedName string    `json:"extractedName"`
	ExtractedData Fields    `json:"extractedData"`
	Issues        []string  `json:"issues"`
	AIAnalysis    string    `json:"aiAnalysis"`
}

// Passed reports whether the verdict clears the stage: the name matches,
// the document is valid and confidence is at least PassConfidence.
func (v Verdict) Passed() bool {
	return v.NameMatch && v.IsValid && v.Confidence >= PassConfidence
}

// IsTechnicalFailure reports whether v was synthesized from an oracle error.
func (v Verdict) IsTechnicalFailure() bool {
	return len(v.Issues) == 1 && v.Issues[0] == TechnicalErrorIssue && v.Confidence == 0
}

// Clamp forces Confidence into [0,1].
func (v Verdict) Clamp() Verdict {
	v.Confidence = max(0, min(1, v.Confidence))
	return v
}

// TechnicalFailure builds the failing verdict used when the oracle is
// unavailable. The cause is kept in the analysis for logs, never retried.
func TechnicalFailure(cause error) Verdict {
	analysis := "The document could not be analyzed."
	if cause != nil {
		analysis = fmt.Sprintf("The document could not be analyzed: %v", cause)
	}
	return Verdict{
		IsValid:       false,
		Confidence:    0,
		NameMatch:     false,
		ExtractedData: Fields{},
		Issues:        []string{TechnicalErrorIssue},
		AIAnalysis:    analysis,
	}
}

// Fields holds the values the oracle extracted from a document. Scalar
// values of any JSON type are kept as strings; nulls are dropped.
type Fields map[string]string

// UnmarshalJSON accepts an object with arbitrary scalar or nested values.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		if s, ok := stringify(v); ok {
			out[k] = s
		}
	}
	*f = out
	return nil
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case float64, bool:
		return fmt.Sprint(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
