// Package conversation implements the multi-turn task-completion dialogue:
// per-conversation state, follow-up question extraction, answered-question
// filtering, and the turn decision procedure that ties them together.
package conversation

import (
	"time"

	"github.com/papercomputeco/taskvox/pkg/llm"
)

// DefaultSystemPrompt is the fixed instruction every transcript starts with.
const DefaultSystemPrompt = "You are a friendly, natural-sounding assistant that helps users complete tasks like creating emails, invoices, or reminders. " +
	"Ask only one clear, specific follow-up question at a time. Be concise, casual, and warm in tone. " +
	"Extract multiple answers if the user provides more than one. If all info is available, generate the final response."

// State is the mutable record of a single conversation.
type State struct {
	ID string `json:"id"`

	// Transcript is the exact context sent to the language model. The first
	// entry is always the system instruction.
	Transcript []llm.Message `json:"transcript"`

	// PendingQuestions are asked first to last.
	PendingQuestions []string `json:"pending_questions"`

	// LastPrompted is the question most recently surfaced to the user.
	LastPrompted string `json:"last_prompted,omitempty"`

	// TaskFinalized stops follow-up questions once the task result was produced.
	TaskFinalized bool `json:"task_finalized"`

	// LastIntent is only maintained when task-switch detection is enabled.
	LastIntent string `json:"last_intent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns the initial state for a conversation.
func NewState(id, systemPrompt string, now time.Time) *State {
	return &State{
		ID:               id,
		Transcript:       []llm.Message{llm.SystemMessage(systemPrompt)},
		PendingQuestions: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Transcript = llm.CloneMessages(s.Transcript)
	out.PendingQuestions = append([]string{}, s.PendingQuestions...)
	return &out
}
