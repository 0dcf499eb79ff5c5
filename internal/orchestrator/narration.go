package orchestrator

import (
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
)

// narration buffers the one agent response that speaks a verification
// outcome. The actor arms it before each injection; the event pump claims
// the response carrying that injection's tag and collects its deltas until
// it is done. Responses the server opened on its own are never claimed.
type narration struct {
	mu       sync.Mutex
	seq      int
	armed    bool
	finished bool
	id       string
	text     strings.Builder
	final    string
	audio    []byte
	done     chan struct{}
}

func (n *narration) arm() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetLocked()
	n.seq++
	n.armed = true
	n.done = make(chan struct{})
	return n.done
}

// claim binds the armed narration to the response tagged for it.
func (n *narration) claim(responseID, tag string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if tag != strconv.Itoa(n.seq) {
		return
	}
	if n.armed && !n.finished && n.id == "" && responseID != "" {
		n.id = responseID
	}
}

func (n *narration) ownsLocked(responseID string) bool {
	return n.armed && !n.finished && n.id != "" && n.id == responseID
}

func (n *narration) appendText(responseID, delta string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ownsLocked(responseID) {
		return false
	}
	n.text.WriteString(delta)
	return true
}

func (n *narration) appendAudio(responseID, b64 string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ownsLocked(responseID) {
		return false
	}
	if pcm, err := base64.StdEncoding.DecodeString(b64); err == nil {
		n.audio = append(n.audio, pcm...)
	}
	return true
}

// finish signals the actor. It reports false for responses it does not own.
func (n *narration) finish(responseID, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ownsLocked(responseID) {
		return false
	}
	n.final = text
	n.finished = true
	close(n.done)
	return true
}

// take returns what was buffered and disarms.
func (n *narration) take() (string, []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	text := strings.TrimSpace(n.final)
	if text == "" {
		text = strings.TrimSpace(n.text.String())
	}
	audio := n.audio
	n.resetLocked()
	return text, audio
}

func (n *narration) resetLocked() {
	n.armed = false
	n.finished = false
	n.id = ""
	n.text.Reset()
	n.final = ""
	n.audio = nil
}
