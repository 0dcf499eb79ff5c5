package orchestrator

import "sync/atomic"

// GateState controls whether live conversation traffic may flow.
type GateState int32

const (
	// Idle relays microphone audio and agent deltas.
	Idle GateState = iota
	// Cancelling means an in-flight turn is being abandoned.
	Cancelling
	// Narrating means a server-injected narration is being composed.
	Narrating
)

func (s GateState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cancelling:
		return "cancelling"
	case Narrating:
		return "narrating"
	default:
		return "unknown"
	}
}

// gate is written only by the session actor and read by every goroutine.
type gate struct {
	v atomic.Int32
}

func (g *gate) Load() GateState   { return GateState(g.v.Load()) }
func (g *gate) Store(s GateState) { g.v.Store(int32(s)) }
func (g *gate) Busy() bool        { return g.Load() != Idle }
