package onboarding

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	nameMismatchConfidence = 0.5
	noNameConfidence       = 0.4
)

// NormalizeName lowercases s, drops everything that is not a letter or
// whitespace and collapses runs of whitespace.
func NormalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NamesMatch reports whether found plausibly names the same person as
// expected. It accepts exact normalized equality, a multi-token expected
// name whose every token overlaps some token of found, or matching first
// and last tokens when both names have at least two tokens.
func NamesMatch(expected, found string) bool {
	e, f := NormalizeName(expected), NormalizeName(found)
	if e == "" || f == "" {
		return false
	}
	if e == f {
		return true
	}

	ep, fp := strings.Fields(e), strings.Fields(f)
	if len(ep) >= 2 && everyTokenOverlaps(ep, fp) {
		return true
	}
	if len(ep) >= 2 && len(fp) >= 2 {
		return overlaps(ep[0], fp[0]) && overlaps(ep[len(ep)-1], fp[len(fp)-1])
	}
	return false
}

func everyTokenOverlaps(want, have []string) bool {
	for _, w := range want {
		if !anyOverlap(w, have) {
			return false
		}
	}
	return true
}

func anyOverlap(w string, have []string) bool {
	for _, h := range have {
		if overlaps(w, h) {
			return true
		}
	}
	return false
}

func overlaps(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// NameMismatchIssue is the issue text recorded when names differ.
func NameMismatchIssue(expected, found string) string {
	return fmt.Sprintf("Name mismatch: expected %q, found %q", expected, found)
}

// NoNameIssue is the issue text recorded when the oracle found no name.
const NoNameIssue = "No name found on document"

// EnforceNamePolicy applies the name rule on top of an oracle verdict. A
// mismatch (or a missing name) always yields nameMatch=false and
// isValid=false with capped confidence, whatever the oracle concluded.
// Technical failures pass through untouched.
func EnforceNamePolicy(v Verdict, expected string) Verdict {
	if v.IsTechnicalFailure() {
		return v
	}
	v = v.Clamp()

	if strings.TrimSpace(v.ExtractedName) == "" {
		v.NameMatch = false
		v.IsValid = false
		v.Confidence = min(v.Confidence, noNameConfidence)
		v.Issues = prependOnce(v.Issues, NoNameIssue)
		return v
	}

	if !NamesMatch(expected, v.ExtractedName) {
		v.NameMatch = false
		v.IsValid = false
		v.Confidence = min(v.Confidence, nameMismatchConfidence)
		v.Issues = prependOnce(v.Issues, NameMismatchIssue(expected, v.ExtractedName))
		return v
	}

	if !v.NameMatch {
		v.IsValid = false
	}
	return v
}

func prependOnce(issues []string, issue string) []string {
	for _, i := range issues {
		if i == issue {
			return issues
		}
	}
	return append([]string{issue}, issues...)
}
