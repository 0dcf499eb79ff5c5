// Package events publishes onboarding progress to NATS JetStream so other
// services (HR tooling, record sync) can react without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hubenschmidt/preboard/internal/metrics"
	"github.com/hubenschmidt/preboard/internal/onboarding"
)

const (
	StreamName       = "ONBOARDING"
	SubjectStage     = "onboarding.stage"
	SubjectCompleted = "onboarding.completed"

	publishTimeout = 5 * time.Second
)

// StageChange is published after every recorded verification attempt.
type StageChange struct {
	SessionID  string           `json:"sessionId"`
	Category   onboarding.Stage `json:"category"`
	Attempt    int              `json:"attempt"`
	Passed     bool             `json:"passed"`
	NameMatch  bool             `json:"nameMatch"`
	Confidence float64          `json:"confidence"`
	Stage      onboarding.Stage `json:"stage"`
	At         time.Time        `json:"at"`
}

// Completion is published once when a candidate finishes all stages.
type Completion struct {
	SessionID     string                               `json:"sessionId"`
	CandidateName string                               `json:"candidateName"`
	Documents     map[string]onboarding.CategoryRecord `json:"documents"`
	StartedAt     time.Time                            `json:"startedAt"`
	CompletedAt   time.Time                            `json:"completedAt"`
}

type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher sends onboarding events. A nil Publisher drops everything.
type Publisher struct {
	nc *nats.Conn
	js streamPublisher
}

// NewPublisher connects to NATS and ensures the onboarding stream exists.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("preboard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"onboarding.>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		slog.Warn("ensure onboarding stream", "stream", StreamName, "error", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

func newPublisher(js streamPublisher) *Publisher {
	return &Publisher{js: js}
}

// StageChanged publishes one attempt outcome.
func (p *Publisher) StageChanged(ctx context.Context, msg StageChange) error {
	return p.publish(ctx, SubjectStage, msg)
}

// Completed publishes the final document summary.
func (p *Publisher) Completed(ctx context.Context, msg Completion) error {
	return p.publish(ctx, SubjectCompleted, msg)
}

func (p *Publisher) publish(ctx context.Context, subject string, v any) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if _, err = p.js.Publish(ctx, subject, data); err != nil {
		metrics.Errors.WithLabelValues("events", "publish").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
