package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no state exists for a conversation id.
	ErrNotFound = errors.New("conversation not found")

	// ErrAlreadyExists is returned by Create for an id that is already stored.
	ErrAlreadyExists = errors.New("conversation already exists")
)

// Store persists conversation state. Implementations hand out copies: a
// *State returned by Get is never shared with the store or other callers.
type Store interface {
	// Get returns the state for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*State, error)

	// Create stores a new state, or returns ErrAlreadyExists.
	Create(ctx context.Context, state *State) error

	// Update replaces the stored state for state.ID, creating it if needed.
	Update(ctx context.Context, state *State) error

	// Delete removes the state for id. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// GetOrCreate returns the state for id, lazily creating it on first reference.
// Existing state is returned unmodified.
func GetOrCreate(ctx context.Context, store Store, id, systemPrompt string, now time.Time) (*State, error) {
	state, err := store.Get(ctx, id)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}

	state = NewState(id, systemPrompt, now)
	if err := store.Create(ctx, state); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("create conversation %s: %w", id, err)
		}
		// Another writer created it between our lookup and insert
		state, err = store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load conversation %s after create race: %w", id, err)
		}
	}

	return state, nil
}
