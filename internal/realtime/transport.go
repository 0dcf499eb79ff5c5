package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// StreamDialer opens a Stream that has already reported ready.
type StreamDialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// Transport turns session-level intents into stream protocol messages.
// It never reads or mutates onboarding state.
type Transport struct {
	stream   Stream
	cfg      SessionConfig
	injected int
}

// Open dials, sends the initial configuration and requests the opening turn
// driven by greeting.
func Open(ctx context.Context, d StreamDialer, cfg SessionConfig, greeting string) (*Transport, error) {
	stream, err := d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	t := &Transport{stream: stream, cfg: cfg}

	if err = stream.Configure(cfg); err != nil {
		stream.Close()
		return nil, fmt.Errorf("configure: %w", err)
	}
	if err = t.say(greeting, ""); err != nil {
		stream.Close()
		return nil, err
	}
	return t, nil
}

// Events returns the inbound event channel. It closes after Closed.
func (t *Transport) Events() <-chan Event { return t.stream.Events() }

// SendUserAudio forwards one pcm16 frame into the input buffer.
func (t *Transport) SendUserAudio(pcm []byte) error {
	return t.stream.AppendAudio(pcm)
}

// CancelCurrentTurn abandons any in-flight response and the pending input.
func (t *Transport) CancelCurrentTurn() error {
	return errors.Join(t.stream.CancelResponse(), t.stream.ClearAudioBuffer())
}

// InjectSystemContext replaces the instructions, then asks for a response
// to directive. The response is tagged with the injection's ordinal.
func (t *Transport) InjectSystemContext(instructions, directive string) error {
	t.injected++
	t.cfg.Instructions = instructions
	if err := t.stream.Configure(t.cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return t.say(directive, strconv.Itoa(t.injected))
}

func (t *Transport) Close() error {
	return t.stream.Close()
}

func (t *Transport) say(directive, tag string) error {
	if err := t.stream.InjectMessage("user", directive); err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	if err := t.stream.RequestResponse(tag); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}
