package conversation

import "github.com/papercomputeco/taskvox/pkg/llm"

// LogSink receives the full transcript after every committed turn.
// Append must not block and its failures never affect the turn.
type LogSink interface {
	Append(conversationID string, transcript []llm.Message)
}

// NopSink discards transcripts.
type NopSink struct{}

func (NopSink) Append(string, []llm.Message) {}
