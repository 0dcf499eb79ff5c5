package prompts

import (
	"fmt"

	"github.com/hubenschmidt/preboard/internal/onboarding"
)

var oracleFields = map[onboarding.Stage]string{
	onboarding.StageIdentity: `"name", "idNumber", "dateOfBirth", "expiryDate"`,
	onboarding.StageAddress:  `"name", "address", "issueDate"`,
	onboarding.StageOffer:    `"name", "companyName", "position"`,
}

var oracleAcceptance = map[onboarding.Stage]string{
	onboarding.StageIdentity: "the name matches AND the document shows a photo, the full name and an ID number",
	onboarding.StageAddress:  "the name matches AND a readable, complete residential address is shown",
	onboarding.StageOffer:    "the name matches AND the letter shows the company, the position and the candidate",
}

// OracleSystem is the system prompt used to judge one document.
func OracleSystem(category onboarding.Stage, name string) string {
	return fmt.Sprintf(`Analyze this %s document carefully.

The candidate's registered name is %q. You MUST verify that this name appears on the document.

Return ONLY a JSON object with these keys:
{
  "isValid": boolean,
  "confidence": number between 0 and 1,
  "extractedData": object with keys %s (omit what is not present),
  "issues": array of strings,
  "aiAnalysis": short analysis,
  "nameMatch": boolean (does the document name match %q?),
  "extractedName": the exact full name as printed on the document, or "" if none
}

Name rules:
- Allow minor variations (middle names, initials, order).
- If the name is different, set nameMatch=false and isValid=false and add the mismatch to issues.

Set isValid to true only if %s, and the document is clear and readable.
Confidence: 0.9+ for excellent quality, 0.8+ for good, 0.7+ for acceptable.`,
		category.Label(), name, oracleFields[category], name, oracleAcceptance[category])
}

// OracleUser accompanies the document content.
func OracleUser(category onboarding.Stage, name string) string {
	return fmt.Sprintf("Verify this %s document for candidate %q.", category.Label(), name)
}
