package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idle(id string) *Orchestrator {
	return New(Config{SessionID: id, CandidateName: "Jane Doe"}, func(Event) {})
}

func closed(o *Orchestrator) bool {
	select {
	case <-o.Done():
		return true
	default:
		return false
	}
}

func TestRegisterReplacesSessionWithSameID(t *testing.T) {
	reg := NewRegistry()
	old := idle("rec1")
	unregisterOld := reg.Register(old)

	newer := idle("rec1")
	unregisterNewer := reg.Register(newer)

	assert.True(t, closed(old))
	assert.False(t, closed(newer))

	unregisterOld()
	got, ok := reg.Lookup("rec1")
	require.True(t, ok)
	assert.Same(t, newer, got)

	unregisterNewer()
	unregisterNewer()
	_, ok = reg.Lookup("rec1")
	assert.False(t, ok)
	assert.Zero(t, reg.Count())
}

func TestListIsOrderedByID(t *testing.T) {
	reg := NewRegistry()
	reg.Register(idle("recB"))
	reg.Register(idle("recA"))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "recA", list[0].ID)
	assert.Equal(t, "recB", list[1].ID)
	assert.Equal(t, "identity", list[0].Stage)
	assert.Equal(t, "idle", list[0].Gate)
}

func TestCloseAllThenWaitDrains(t *testing.T) {
	reg := NewRegistry()
	sessions := []*Orchestrator{idle("rec1"), idle("rec2")}
	for _, o := range sessions {
		unregister := reg.Register(o)
		go func() {
			<-o.Done()
			unregister()
		}()
	}

	reg.CloseAll()
	for _, o := range sessions {
		assert.True(t, closed(o))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Wait(ctx))
	assert.Zero(t, reg.Count())
}

func TestWaitHonoursDeadline(t *testing.T) {
	reg := NewRegistry()
	reg.Register(idle("rec1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, reg.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, reg.Count())
}
