// Package inmemory provides a process-local conversation.Store.
package inmemory

import (
	"context"
	"sync"

	"github.com/papercomputeco/taskvox/pkg/conversation"
)

// Driver keeps conversation state in a map guarded by a RWMutex.
// State is lost when the process exits.
type Driver struct {
	mu     sync.RWMutex
	states map[string]*conversation.State
}

// NewDriver creates an empty in-memory store.
func NewDriver() *Driver {
	return &Driver{
		states: make(map[string]*conversation.State),
	}
}

func (d *Driver) Get(_ context.Context, id string) (*conversation.State, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.states[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return state.Clone(), nil
}

func (d *Driver) Create(_ context.Context, state *conversation.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.states[state.ID]; ok {
		return conversation.ErrAlreadyExists
	}
	d.states[state.ID] = state.Clone()
	return nil
}

func (d *Driver) Update(_ context.Context, state *conversation.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.states[state.ID] = state.Clone()
	return nil
}

func (d *Driver) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.states, id)
	return nil
}

// Len returns the number of stored conversations.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.states)
}

func (d *Driver) Close() error {
	return nil
}
