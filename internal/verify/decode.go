package verify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hubenschmidt/preboard/internal/onboarding"
)

// DecodeVerdict parses a verdict object, tolerating a markdown code fence
// around it.
func DecodeVerdict(content string) (onboarding.Verdict, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	var v onboarding.Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return onboarding.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.ExtractedData == nil {
		v.ExtractedData = onboarding.Fields{}
	}
	return v.Clamp(), nil
}

// DecodeDocument accepts raw base64 or a data URI and returns the bytes and
// the content type declared by the URI, if any.
func DecodeDocument(encoded string) ([]byte, string, error) {
	contentType := ""
	if strings.HasPrefix(encoded, "data:") {
		header, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: malformed data uri", ErrInvalidRequest)
		}
		contentType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, "", fmt.Errorf("%w: document is not base64: %w", ErrInvalidRequest, err)
	}
	return data, contentType, nil
}
