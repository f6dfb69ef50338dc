package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/gateway"
	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/logger"
	"github.com/papercomputeco/taskvox/pkg/metrics"
)

// ErrMissingInput rejects a turn without a conversation id or utterance.
var ErrMissingInput = errors.New("missing conversation_id or user input")

// ReplyKind tells which branch of the turn procedure produced a reply.
type ReplyKind string

const (
	// KindFollowUp is a question freshly extracted from a model reply.
	KindFollowUp ReplyKind = "follow_up"

	// KindQueued is a pending question asked from the queue.
	KindQueued ReplyKind = "queued"

	// KindFinal is a finalized task result.
	KindFinal ReplyKind = "final"
)

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	ConversationID string    `json:"conversation_id"`
	ShortReply     string    `json:"short_reply"`
	DetailedReply  string    `json:"detailed_reply"`
	Kind           ReplyKind `json:"kind"`

	// Intent and Reset are set when task-switch detection is enabled.
	Intent string `json:"intent,omitempty"`
	Reset  bool   `json:"reset,omitempty"`
}

// Settings are the tunable parts of the turn procedure. They can be swapped
// at runtime with Manager.SetSettings.
type Settings struct {
	SystemPrompt string
	TaskSwitch   TaskSwitchPolicy

	// MaxContextTurns bounds how many non-system turns are sent to the model.
	// Zero sends the whole transcript.
	MaxContextTurns int

	// MaxPendingQuestions caps the queue built from one reply. Zero is unbounded.
	MaxPendingQuestions int
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		SystemPrompt: DefaultSystemPrompt,
		TaskSwitch:   TaskSwitchOff,
	}
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.SystemPrompt) == "" {
		return errors.New("system prompt is required")
	}
	if _, err := ParseTaskSwitchPolicy(string(s.TaskSwitch)); err != nil {
		return err
	}
	if s.MaxContextTurns < 0 || s.MaxPendingQuestions < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// Dependencies are the collaborators of a Manager. Gateway and Store are
// required; the rest have defaults.
type Dependencies struct {
	Gateway   gateway.Gateway
	Store     Store
	Locker    Locker
	Sink      LogSink
	Collector *metrics.Collector

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager runs the turn decision procedure for every conversation.
type Manager struct {
	gateway   gateway.Gateway
	store     Store
	locker    Locker
	sink      LogSink
	filter    *AnswerFilter
	intents   *IntentDetector
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	settings atomic.Pointer[Settings]
}

// NewManager creates a Manager.
func NewManager(deps Dependencies, settings Settings, log *zap.Logger) (*Manager, error) {
	if deps.Gateway == nil {
		return nil, errors.New("conversation manager requires a gateway")
	}
	if deps.Store == nil {
		return nil, errors.New("conversation manager requires a store")
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedLocker()
	}
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &Manager{
		gateway:   deps.Gateway,
		store:     deps.Store,
		locker:    deps.Locker,
		sink:      deps.Sink,
		filter:    NewAnswerFilter(deps.Gateway, deps.Collector, log),
		intents:   NewIntentDetector(deps.Gateway, log),
		collector: deps.Collector,
		logger:    log.With(zap.String("component", "conversation")),
		now:       deps.Now,
	}
	if err := m.SetSettings(settings); err != nil {
		return nil, err
	}

	return m, nil
}

// Settings returns the settings currently in effect.
func (m *Manager) Settings() Settings {
	return *m.settings.Load()
}

// SetSettings replaces the settings for subsequent turns.
func (m *Manager) SetSettings(settings Settings) error {
	policy, err := ParseTaskSwitchPolicy(string(settings.TaskSwitch))
	if err != nil {
		return err
	}
	settings.TaskSwitch = policy
	if err := settings.validate(); err != nil {
		return fmt.Errorf("invalid conversation settings: %w", err)
	}
	m.settings.Store(&settings)
	return nil
}

// State returns a copy of the stored state for conversationID.
func (m *Manager) State(ctx context.Context, conversationID string) (*State, error) {
	return m.store.Get(ctx, conversationID)
}

// Reset discards the state for conversationID. The next turn starts over.
func (m *Manager) Reset(ctx context.Context, conversationID string) error {
	unlock, err := m.locker.Lock(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("lock conversation %s: %w", conversationID, err)
	}
	defer unlock()

	if err := m.store.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	m.logger.Info("conversation reset", zap.String("conversation_id", conversationID))
	return nil
}

// HandleTurn processes one user utterance and returns the short and detailed
// replies. Only gateway failures of the reply-generating call are returned as
// *gateway.Error; answer filter problems are absorbed.
func (m *Manager) HandleTurn(ctx context.Context, conversationID, utterance string) (*TurnResult, error) {
	start := m.now()

	result, err := m.handleTurn(ctx, strings.TrimSpace(conversationID), utterance)

	kind := "error"
	if err == nil {
		kind = string(result.Kind)
	}
	m.collector.ObserveTurn(kind, m.now().Sub(start))

	return result, err
}

func (m *Manager) handleTurn(ctx context.Context, conversationID, utterance string) (*TurnResult, error) {
	if conversationID == "" || strings.TrimSpace(utterance) == "" {
		return nil, ErrMissingInput
	}

	settings := m.Settings()

	unlock, err := m.locker.Lock(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation %s: %w", conversationID, err)
	}
	defer unlock()

	state, err := GetOrCreate(ctx, m.store, conversationID, settings.SystemPrompt, m.now())
	if err != nil {
		return nil, err
	}

	// All changes go to next; the stored state is only replaced on commit.
	next := state.Clone()
	result := &TurnResult{ConversationID: conversationID}

	if settings.TaskSwitch == TaskSwitchReset {
		next, result.Reset = m.applyTaskSwitch(ctx, next, utterance, settings)
		result.Intent = next.LastIntent
	}

	next.Transcript = append(next.Transcript, llm.UserMessage(utterance))
	next.PendingQuestions = m.filter.Filter(ctx, next.PendingQuestions, utterance)

	m.logger.Debug("handling turn",
		zap.String("conversation_id", conversationID),
		zap.String("utterance_preview", logger.Truncate(utterance, 80)),
		zap.Int("pending", len(next.PendingQuestions)),
		zap.Bool("finalized", next.TaskFinalized),
	)

	switch {
	case len(next.PendingQuestions) == 0 && !next.TaskFinalized:
		reply, err := m.complete(ctx, next, settings)
		if err != nil {
			return nil, m.abort(ctx, next, err)
		}
		next.Transcript = append(next.Transcript, llm.AssistantMessage(reply))

		if head, rest, ok := ExtractQuestions(reply); ok {
			next.PendingQuestions = capQuestions(rest, settings.MaxPendingQuestions)
			next.LastPrompted = head
			result.set(KindFollowUp, head, head)
		} else {
			next.TaskFinalized = true
			result.set(KindFinal, FirstLine(reply), reply)
		}

	case len(next.PendingQuestions) > 0:
		question := next.PendingQuestions[0]
		next.PendingQuestions = next.PendingQuestions[1:]
		next.LastPrompted = question
		result.set(KindQueued, question, question)

	default:
		reply, err := m.complete(ctx, next, settings)
		if err != nil {
			return nil, m.abort(ctx, next, err)
		}
		next.Transcript = append(next.Transcript, llm.AssistantMessage(reply))
		next.TaskFinalized = true
		result.set(KindFinal, FirstLine(reply), reply)
	}

	if err := m.commit(ctx, next); err != nil {
		return nil, err
	}

	m.sink.Append(conversationID, llm.CloneMessages(next.Transcript))

	m.logger.Info("turn handled",
		zap.String("conversation_id", conversationID),
		zap.String("kind", string(result.Kind)),
		zap.Int("pending", len(next.PendingQuestions)),
		zap.String("reply_preview", logger.Truncate(result.ShortReply, 80)),
	)

	return result, nil
}

// applyTaskSwitch records the detected intent, replacing state with a fresh
// one when the user moved on to a different task. Detection failures leave
// state untouched.
func (m *Manager) applyTaskSwitch(ctx context.Context, state *State, utterance string, settings Settings) (*State, bool) {
	intent, err := m.intents.Detect(ctx, utterance)
	if err != nil {
		m.logger.Warn("intent detection failed, keeping conversation",
			zap.String("conversation_id", state.ID),
			zap.Error(err),
		)
		return state, false
	}

	if state.LastIntent != "" && intent != state.LastIntent {
		m.collector.ConversationReset()
		m.logger.Info("task switch detected, starting over",
			zap.String("conversation_id", state.ID),
			zap.String("previous_intent", state.LastIntent),
			zap.String("intent", intent),
		)
		fresh := NewState(state.ID, settings.SystemPrompt, m.now())
		fresh.LastIntent = intent
		return fresh, true
	}

	state.LastIntent = intent
	return state, false
}

func (m *Manager) complete(ctx context.Context, state *State, settings Settings) (string, error) {
	reply, err := m.gateway.Complete(ctx, contextWindow(state.Transcript, settings.MaxContextTurns))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// abort commits the state as it was right before the failed gateway call and
// returns the gateway error.
func (m *Manager) abort(ctx context.Context, state *State, cause error) error {
	m.logger.Error("language model call failed",
		zap.String("conversation_id", state.ID),
		zap.Error(cause),
	)
	if err := m.commit(ctx, state); err != nil {
		m.logger.Error("failed to save conversation after gateway failure",
			zap.String("conversation_id", state.ID),
			zap.Error(err),
		)
	}
	return cause
}

func (m *Manager) commit(ctx context.Context, state *State) error {
	state.UpdatedAt = m.now()
	if err := m.store.Update(ctx, state); err != nil {
		return fmt.Errorf("save conversation %s: %w", state.ID, err)
	}
	return nil
}

func (r *TurnResult) set(kind ReplyKind, short, detailed string) {
	r.Kind = kind
	r.ShortReply = short
	r.DetailedReply = detailed
}

// contextWindow keeps the system turn and the last limit turns.
func contextWindow(transcript []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(transcript)-1 <= limit {
		return transcript
	}
	window := make([]llm.Message, 0, limit+1)
	window = append(window, transcript[0])
	return append(window, transcript[len(transcript)-limit:]...)
}

func capQuestions(questions []string, limit int) []string {
	if questions == nil {
		questions = []string{}
	}
	if limit > 0 && len(questions) > limit {
		return questions[:limit]
	}
	return questions
}
