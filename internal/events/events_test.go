package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/preboard/internal/onboarding"
)

type published struct {
	subject string
	data    []byte
}

type fakeStream struct {
	msgs []published
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{Stream: StreamName}, nil
}

func TestStageChangedSubjectAndPayload(t *testing.T) {
	fs := &fakeStream{}
	p := newPublisher(fs)

	err := p.StageChanged(context.Background(), StageChange{
		SessionID: "rec1", Category: onboarding.StageIdentity, Attempt: 1,
		Passed: true, NameMatch: true, Confidence: 0.9, Stage: onboarding.StageAddress,
		At: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, fs.msgs, 1)
	assert.Equal(t, SubjectStage, fs.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fs.msgs[0].data, &got))
	assert.Equal(t, "identity", got["category"])
	assert.Equal(t, "address", got["stage"])
}

func TestCompletedSubject(t *testing.T) {
	fs := &fakeStream{}
	require.NoError(t, newPublisher(fs).Completed(context.Background(), Completion{SessionID: "rec1"}))
	assert.Equal(t, SubjectCompleted, fs.msgs[0].subject)
}

func TestPublishErrorIsWrapped(t *testing.T) {
	boom := errors.New("no responders")
	err := newPublisher(&fakeStream{err: boom}).Completed(context.Background(), Completion{})
	assert.ErrorIs(t, err, boom)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.StageChanged(context.Background(), StageChange{}))
	p.Close()
}
