package orchestrator

// Event types pushed to the browser.
const (
	EventAgentMessage     = "agent_message"
	EventTranscriptDelta  = "agent_transcript_delta"
	EventAudioDelta       = "audio_delta"
	EventAudioComplete    = "audio_complete"
	EventUserTranscript   = "user_transcript"
	EventStageUpdate      = "stage_update"
	EventComplete         = "complete"
	EventError            = "error"
	EventConnectionStatus = "connection_status"
	EventTriggerUpload    = "trigger_upload"
)

// Connection states reported with EventConnectionStatus.
const (
	StatusConnected = "connected"
	StatusFallback  = "fallback"
)

// Event is one message for the browser. Audio payloads are base64.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Audio   string `json:"audio,omitempty"`
	Format  string `json:"format,omitempty"`
	Step    string `json:"step,omitempty"`
	Status  string `json:"status,omitempty"`
}

// EventCallback delivers events to the browser. It must be safe for
// concurrent use.
type EventCallback func(Event)
