package orchestrator

import (
	"context"
	"sort"
	"sync"
)

// SessionInfo describes a live session.
type SessionInfo struct {
	ID            string `json:"id"`
	CandidateName string `json:"candidateName"`
	Stage         string `json:"stage"`
	Gate          string `json:"gate"`
	Fallback      bool   `json:"fallback"`
}

// Registry indexes live sessions by candidate record id. It is created by
// the gateway and injected into the handlers that need it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Orchestrator
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Orchestrator)}
}

// Register makes o the live session for its id. A previous session with
// the same id is closed. The returned func removes o if it is still the
// registered session for that id.
func (r *Registry) Register(o *Orchestrator) (unregister func()) {
	r.mu.Lock()
	prev := r.sessions[o.ID()]
	r.sessions[o.ID()] = o
	r.wg.Add(1)
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.sessions[o.ID()] == o {
				delete(r.sessions, o.ID())
			}
			r.mu.Unlock()
			r.wg.Done()
		})
	}
}

// Lookup returns the live session for id.
func (r *Registry) Lookup(id string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.sessions[id]
	return o, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns the live sessions ordered by id.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, o := range r.sessions {
		out = append(out, SessionInfo{
			ID:            o.ID(),
			CandidateName: o.CandidateName(),
			Stage:         string(o.Stage()),
			Gate:          o.Gate().String(),
			Fallback:      o.InFallback(),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		all = append(all, o)
	}
	r.mu.Unlock()
	for _, o := range all {
		o.Close()
	}
}

// Wait blocks until every registered session has unregistered or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
