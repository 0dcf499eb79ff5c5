package prompts

import (
	"fmt"
	"strings"

	"github.com/hubenschmidt/preboard/internal/onboarding"
)

// AnalyzingDocument is sent as soon as the candidate starts an upload.
const AnalyzingDocument = "Analyzing your document..."

// StageCriteria tells the assistant what the current stage expects.
var StageCriteria = map[onboarding.Stage]string{
	onboarding.StageIdentity: "Guide them to upload their Identity Proof (driver's license, passport, or government ID). It must include a photo, full name, and ID number. The document should be clear, not blurry, and all text must be readable.",
	onboarding.StageAddress:  "Guide them to upload their Address Proof (utility bill, bank statement, or lease agreement). It must show their complete residential address with the candidate's name, be recent (within 3 months) and clearly readable.",
	onboarding.StageOffer:    "Guide them to upload their signed Offer Letter from the company. It should include the position, company name, candidate name, and signature. All text must be clearly visible.",
	onboarding.StageComplete: "All documents have been successfully verified. Congratulate them warmly on completing the preboarding process.",
}

// ConversationStyle is appended to every instruction set.
var ConversationStyle = []string{
	"Be warm, friendly, and encouraging.",
	"Keep responses concise (under 3 sentences) unless answering specific questions or explaining verification failures.",
	"If a document has the wrong name, be firm but polite: for security reasons you cannot accept documents with a different name.",
	"When verification fails for other reasons, be empathetic but clear about the issues.",
	"Explain specifically what was wrong with failed documents and how to take a better photo or provide the correct document.",
	"When the candidate asks about their verified information, give complete and accurate details from the document information.",
	"Celebrate their progress after each successful verification.",
}

// Greeting is the opening directive for a realtime conversation.
func Greeting(name string) string {
	return fmt.Sprintf("Greet %s warmly and ask them to upload their Identity Proof document (like a driver's license, passport, or government ID). Tell them they can also speak to you.", name)
}

// FallbackGreeting is spoken verbatim when no realtime conversation is available.
func FallbackGreeting(name string) string {
	return fmt.Sprintf("Hello %s! I'm your document verification assistant. Let's get started with your onboarding. Please upload your Identity Proof, such as a driver's license, passport, or government ID. You can also speak to me.", name)
}

// NameMismatch directs the assistant to reject a document with a foreign name.
func NameMismatch(stage onboarding.Stage, expected string, v onboarding.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NAME VERIFICATION FAILED for the %s document.\n\n", stage.Label())
	fmt.Fprintf(&b, "Expected name: %q\n", expected)
	fmt.Fprintf(&b, "Name found on document: %q\n\n", foundName(v))
	fmt.Fprintf(&b, "This is a security issue. The document does not belong to %s.\n", expected)
	writeIssues(&b, v.Issues)
	fmt.Fprintf(&b, "\nExplain to %s that you cannot verify this document because the name on it does not match their registered name %q, and ask them to upload a %s that shows their own name. This is required for security and compliance.", expected, expected, stage.Label())
	return b.String()
}

// Retry directs the assistant to explain a failed document and ask again.
func Retry(stage onboarding.Stage, name string, v onboarding.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s verification just FAILED. Confidence score: %s.\n", stage.Label(), Percent(v.Confidence))
	writeIssues(&b, v.Issues)
	if v.AIAnalysis != "" {
		fmt.Fprintf(&b, "\nAnalysis: %s\n", v.AIAnalysis)
	}
	if v.IsTechnicalFailure() {
		fmt.Fprintf(&b, "\nThe document could not be analyzed because of a technical problem on our side. Apologize to %s and ask them to upload the %s again.", name, stage.Label())
		return b.String()
	}
	fmt.Fprintf(&b, "\nExplain these issues to %s in a friendly way and ask them to upload a correct %s. Be specific about what was wrong.", name, stage.Label())
	return b.String()
}

// Passed directs the assistant to congratulate the candidate and ask for
// the next document, citing what was extracted from the verified one.
func Passed(stage onboarding.Stage, name string, v onboarding.Verdict) string {
	var b strings.Builder
	d := v.ExtractedData
	switch stage {
	case onboarding.StageIdentity:
		fmt.Fprintf(&b, "Excellent! The identity document was verified with %s confidence. ", Percent(v.Confidence))
		cite(&b, "The name was confirmed as %s. ", d["name"])
		cite(&b, "ID number %s was verified. ", d["idNumber"])
		fmt.Fprintf(&b, "Congratulate %s warmly and ask them to upload their Address Proof next (like a utility bill, bank statement, or lease agreement).", name)
	case onboarding.StageAddress:
		fmt.Fprintf(&b, "Great! The address proof was verified with %s confidence. ", Percent(v.Confidence))
		cite(&b, "The address was confirmed as %s. ", d["address"])
		cite(&b, "Name on document: %s. ", d["name"])
		fmt.Fprintf(&b, "Congratulate %s and ask them to upload their signed Offer Letter as the final step.", name)
	default:
		fmt.Fprintf(&b, "Perfect! All documents are verified! The offer letter was verified with %s confidence. ", Percent(v.Confidence))
		cite(&b, "Position: %s. ", d["position"])
		cite(&b, "Company: %s. ", d["companyName"])
		fmt.Fprintf(&b, "Congratulate %s enthusiastically and tell them their preboarding is complete. Mention they will be contacted by HR within 24 hours.", name)
	}
	return b.String()
}

// Percent renders a [0,1] confidence as a whole percentage.
func Percent(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

func cite(b *strings.Builder, format, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, format, value)
}

func writeIssues(b *strings.Builder, issues []string) {
	if len(issues) == 0 {
		return
	}
	b.WriteString("\nIssues found:\n")
	for i, issue := range issues {
		fmt.Fprintf(b, "%d. %s\n", i+1, issue)
	}
}

func foundName(v onboarding.Verdict) string {
	if v.ExtractedName == "" {
		return "not found"
	}
	return v.ExtractedName
}
