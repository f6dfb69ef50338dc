package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/gateway"
	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/logger"
	"github.com/papercomputeco/taskvox/pkg/metrics"
)

// FilterParseError reports a judgment reply that does not match the
// {"unanswered": [...]} contract.
type FilterParseError struct {
	Reply  string
	Reason string
}

func (e *FilterParseError) Error() string {
	return "malformed answer filter judgment: " + e.Reason
}

// AnswerFilter asks the language model which pending questions the user's
// latest message leaves unanswered.
type AnswerFilter struct {
	gateway   gateway.Gateway
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewAnswerFilter creates an AnswerFilter judging through gw.
func NewAnswerFilter(gw gateway.Gateway, collector *metrics.Collector, log *zap.Logger) *AnswerFilter {
	return &AnswerFilter{
		gateway:   gw,
		collector: collector,
		logger:    log.With(zap.String("component", "answer_filter")),
	}
}

// Filter returns the pending questions still unanswered after utterance.
// It is best-effort: when the judgment cannot be obtained or parsed, pending
// is returned exactly as given. It never fails.
func (f *AnswerFilter) Filter(ctx context.Context, pending []string, utterance string) []string {
	if len(pending) == 0 {
		return pending
	}

	prompt, err := renderPrompt(filterPrompt, struct {
		Utterance string
		Pending   []string
	}{utterance, pending})
	if err != nil {
		f.fallback("render prompt", err)
		return pending
	}

	reply, err := f.gateway.Judge(ctx, prompt)
	if err != nil {
		f.fallback("judge", err)
		return pending
	}

	remaining, err := ParseUnanswered(reply, pending)
	if err != nil {
		f.fallback("parse judgment", err, zap.String("reply_preview", logger.Truncate(reply, 120)))
		return pending
	}

	f.logger.Debug("filtered pending questions",
		zap.Int("before", len(pending)),
		zap.Int("after", len(remaining)),
	)
	return remaining
}

func (f *AnswerFilter) fallback(stage string, err error, fields ...zap.Field) {
	f.collector.FilterFallback()
	f.logger.Warn("keeping pending questions unchanged",
		append([]zap.Field{zap.String("stage", stage), zap.Error(err)}, fields...)...,
	)
}

// ParseUnanswered decodes a judgment reply and returns the unanswered subset of
// pending in pending's order. The reply must be a JSON object with an
// "unanswered" string array, or a bare JSON string array, optionally wrapped in
// a Markdown code fence. Every returned question must be one of pending.
func ParseUnanswered(reply string, pending []string) ([]string, error) {
	text := llm.StripCodeFence(reply)

	var listed []string
	switch {
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal([]byte(text), &listed); err != nil {
			return nil, &FilterParseError{Reply: reply, Reason: err.Error()}
		}
	case strings.HasPrefix(text, "{"):
		var obj struct {
			Unanswered *[]string `json:"unanswered"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, &FilterParseError{Reply: reply, Reason: err.Error()}
		}
		if obj.Unanswered == nil {
			return nil, &FilterParseError{Reply: reply, Reason: `missing "unanswered" field`}
		}
		listed = *obj.Unanswered
	default:
		return nil, &FilterParseError{Reply: reply, Reason: "reply is not JSON"}
	}

	known := make(map[string]struct{}, len(pending))
	for _, q := range pending {
		known[q] = struct{}{}
	}

	keep := make(map[string]struct{}, len(listed))
	for _, q := range listed {
		q = strings.TrimSpace(q)
		if _, ok := known[q]; !ok {
			return nil, &FilterParseError{Reply: reply, Reason: fmt.Sprintf("unknown question %q", q)}
		}
		keep[q] = struct{}{}
	}

	remaining := make([]string, 0, len(keep))
	for _, q := range pending {
		if _, ok := keep[q]; ok {
			remaining = append(remaining, q)
			delete(keep, q)
		}
	}

	return remaining, nil
}
