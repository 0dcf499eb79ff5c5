package pipeline

import "strings"

// noiseTranscripts are common transcription hallucinations on recordings of
// background noise or silence.
var noiseTranscripts = map[string]bool{
	"crunching": true, "static": true, "silence": true, "noise": true,
	"inaudible": true, "unintelligible": true, "background noise": true,
	"music": true, "typing": true, "breathing": true, "sigh": true,
	"cough": true, "sneeze": true, "laughter": true, "applause": true,
	"you": true, "the": true, "a": true, "um": true, "uh": true,
	"hmm": true, "ah": true, "oh": true, "mhm": true,
	"thank you.": true, "thanks for watching!": true,
}

// isNoiseTranscript reports whether text is likely background noise rather
// than something the candidate said.
func isNoiseTranscript(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	for _, wrap := range [][2]string{{"*", "*"}, {"[", "]"}, {"(", ")"}} {
		if strings.HasPrefix(text, wrap[0]) && strings.HasSuffix(text, wrap[1]) {
			return true
		}
	}
	return noiseTranscripts[strings.ToLower(strings.TrimRight(text, ".!"))] || noiseTranscripts[strings.ToLower(text)]
}
