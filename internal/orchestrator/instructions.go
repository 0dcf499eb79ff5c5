package orchestrator

import (
	"fmt"
	"strings"

	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/prompts"
)

// BuildInstructions renders everything the assistant may state about the
// candidate. The output depends only on its arguments.
func BuildInstructions(name string, stage onboarding.Stage, k *onboarding.DocumentKnowledge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly HR onboarding assistant helping %s complete document verification.\n\n", name)
	fmt.Fprintf(&b, "CRITICAL: The candidate's registered name is %q. Every document MUST show this exact person's name. Never accept a document that bears a different name.\n", name)

	b.WriteString("\nVERIFIED DOCUMENTS:\n")
	verified := 0
	for _, c := range onboarding.Categories {
		rec := k.Category(c)
		if rec.Verified == nil {
			continue
		}
		verified++
		v := rec.Verified
		fmt.Fprintf(&b, "- %s (confidence %s, attempt %d)\n", c.Label(), prompts.Percent(v.Confidence), v.AttemptNumber)
		for _, key := range v.ExtractedData.Keys() {
			fmt.Fprintf(&b, "  %s: %s\n", key, v.ExtractedData[key])
		}
	}
	if verified == 0 {
		b.WriteString("- none yet\n")
	}

	failedHeader := false
	for _, c := range onboarding.Categories {
		for _, a := range k.Category(c).Attempts {
			if a.Passed() {
				continue
			}
			if !failedHeader {
				b.WriteString("\nFAILED ATTEMPTS:\n")
				failedHeader = true
			}
			fmt.Fprintf(&b, "- %s attempt %d (confidence %s", c.Label(), a.AttemptNumber, prompts.Percent(a.Confidence))
			if !a.NameMatch {
				fmt.Fprintf(&b, ", name found: %q", a.ExtractedName)
			}
			b.WriteString(")\n")
			for _, issue := range a.Issues {
				fmt.Fprintf(&b, "  issue: %s\n", issue)
			}
			if a.AIAnalysis != "" {
				fmt.Fprintf(&b, "  analysis: %s\n", a.AIAnalysis)
			}
		}
	}

	fmt.Fprintf(&b, "\nCURRENT STEP: %s\n%s\n", stage.Label(), prompts.StageCriteria[stage])

	b.WriteString("\nSTYLE:\n")
	for _, rule := range prompts.ConversationStyle {
		fmt.Fprintf(&b, "- %s\n", rule)
	}
	return b.String()
}

// directive picks the narration prompt for a recorded verdict. The stage
// is the one the verdict was recorded against.
func directive(stage onboarding.Stage, name string, v onboarding.Verdict) string {
	switch {
	case !v.NameMatch && !v.IsTechnicalFailure():
		return prompts.NameMismatch(stage, name, v)
	case !v.Passed():
		return prompts.Retry(stage, name, v)
	default:
		return prompts.Passed(stage, name, v)
	}
}
