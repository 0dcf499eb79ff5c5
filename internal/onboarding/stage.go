package onboarding

import "fmt"

// Stage is a step of the onboarding flow. Stages advance strictly in order
// and never move backwards.
type Stage string

const (
	StageIdentity Stage = "identity"
	StageAddress  Stage = "address"
	StageOffer    Stage = "offer"
	StageComplete Stage = "complete"
)

// Categories lists the document categories in the order they are collected.
var Categories = []Stage{StageIdentity, StageAddress, StageOffer}

var stageOrder = map[Stage]int{
	StageIdentity: 0,
	StageAddress:  1,
	StageOffer:    2,
	StageComplete: 3,
}

var stageLabels = map[Stage]string{
	StageIdentity: "identity proof",
	StageAddress:  "address proof",
	StageOffer:    "offer letter",
	StageComplete: "complete",
}

// Rank returns the position of s in the flow, or -1 for an unknown stage.
func (s Stage) Rank() int {
	r, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return r
}

// Next returns the stage that follows s. Complete is terminal.
func (s Stage) Next() Stage {
	switch s {
	case StageIdentity:
		return StageAddress
	case StageAddress:
		return StageOffer
	default:
		return StageComplete
	}
}

// IsCategory reports whether s names an uploadable document category.
func (s Stage) IsCategory() bool {
	return s == StageIdentity || s == StageAddress || s == StageOffer
}

// Label is the human wording used in prompts ("identity proof").
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseCategory converts a wire value into a document category.
func ParseCategory(v string) (Stage, error) {
	s := Stage(v)
	if !s.IsCategory() {
		return "", fmt.Errorf("unknown document category %q", v)
	}
	return s, nil
}
