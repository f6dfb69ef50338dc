package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/gateway"
	"github.com/papercomputeco/taskvox/pkg/llm"
)

// TaskSwitchPolicy decides what happens when a user changes task mid-conversation.
type TaskSwitchPolicy string

const (
	// TaskSwitchOff never classifies intent; state is never recreated.
	TaskSwitchOff TaskSwitchPolicy = "off"

	// TaskSwitchReset discards the whole conversation state when the detected
	// task label differs from the previously recorded one.
	TaskSwitchReset TaskSwitchPolicy = "reset"
)

// ParseTaskSwitchPolicy validates a configured policy name. Empty means off.
func ParseTaskSwitchPolicy(s string) (TaskSwitchPolicy, error) {
	switch TaskSwitchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TaskSwitchOff:
		return TaskSwitchOff, nil
	case TaskSwitchReset:
		return TaskSwitchReset, nil
	default:
		return "", fmt.Errorf("unknown task switch policy %q (want %q or %q)", s, TaskSwitchOff, TaskSwitchReset)
	}
}

// IntentDetector labels the task an utterance is about.
type IntentDetector struct {
	gateway gateway.Gateway
	logger  *zap.Logger
}

// NewIntentDetector creates an IntentDetector judging through gw.
func NewIntentDetector(gw gateway.Gateway, logger *zap.Logger) *IntentDetector {
	return &IntentDetector{
		gateway: gw,
		logger:  logger.With(zap.String("component", "intent_detector")),
	}
}

// Detect returns a single lower-case word naming the user's task.
func (d *IntentDetector) Detect(ctx context.Context, utterance string) (string, error) {
	prompt, err := renderPrompt(intentPrompt, struct{ Utterance string }{utterance})
	if err != nil {
		return "", fmt.Errorf("render intent prompt: %w", err)
	}

	reply, err := d.gateway.Judge(ctx, prompt)
	if err != nil {
		return "", err
	}

	intent, err := ParseIntent(reply)
	if err != nil {
		return "", err
	}

	d.logger.Debug("detected intent", zap.String("intent", intent))
	return intent, nil
}

// ParseIntent normalizes a {"task": "..."} judgment, or a bare word, into a
// lower-case label.
func ParseIntent(reply string) (string, error) {
	text := llm.StripCodeFence(reply)

	if strings.HasPrefix(text, "{") {
		var obj struct {
			Task string `json:"task"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return "", fmt.Errorf("decode intent: %w", err)
		}
		text = obj.Task
	}

	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", errors.New("empty intent")
	}

	word := strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if word == "" {
		return "", errors.New("empty intent")
	}

	return word, nil
}
