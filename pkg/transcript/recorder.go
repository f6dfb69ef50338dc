// Package transcript records committed conversation transcripts into a Merkle
// DAG and reads them back as histories.
//
// Each conversation gets a root node naming its id. Every transcript message
// is a node chained under it, so re-recording the growing transcript after
// each turn only adds the new messages: the shared prefix hashes to nodes that
// already exist. A task-switch reset shows up as a branch from the root.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/logger"
	"github.com/papercomputeco/taskvox/pkg/merkle"
	"github.com/papercomputeco/taskvox/pkg/metrics"
)

// DefaultQueueSize is the number of transcripts buffered for the worker.
const DefaultQueueSize = 256

const (
	nodeTypeConversation = "conversation"
	nodeTypeMessage      = "message"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("transcript recorder closed")

type entry struct {
	conversationID string
	transcript     []llm.Message
}

// Recorder is an asynchronous conversation.LogSink writing to a merkle.Storer.
// Append never blocks: when the queue is full the transcript is dropped and
// counted.
type Recorder struct {
	storer    merkle.Storer
	collector *metrics.Collector
	logger    *zap.Logger

	queue chan entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a Recorder with a single background worker.
// A queueSize of zero uses DefaultQueueSize.
func NewRecorder(storer merkle.Storer, queueSize int, collector *metrics.Collector, log *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	r := &Recorder{
		storer:    storer,
		collector: collector,
		logger:    log.With(zap.String("component", "transcript")),
		queue:     make(chan entry, queueSize),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Append enqueues a transcript for recording.
func (r *Recorder) Append(conversationID string, transcript []llm.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- entry{conversationID: conversationID, transcript: transcript}:
	default:
		r.collector.SinkDropped()
		r.logger.Warn("transcript queue full, dropping transcript",
			zap.String("conversation_id", conversationID),
			zap.Int("messages", len(transcript)),
		)
	}
}

// Record stores a transcript synchronously and returns the head node hash.
func (r *Recorder) Record(ctx context.Context, conversationID string, transcript []llm.Message) (string, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}
	return r.store(ctx, conversationID, transcript)
}

// Close stops accepting transcripts and waits until the queue is drained.
// It does not close the storer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)

	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		head, err := r.store(ctx, e.conversationID, e.transcript)
		cancel()

		if err != nil {
			r.logger.Error("failed to record transcript",
				zap.String("conversation_id", e.conversationID),
				zap.Error(err),
			)
			continue
		}
		r.logger.Debug("transcript recorded",
			zap.String("conversation_id", e.conversationID),
			zap.String("head_hash", logger.Truncate(head, 16)),
		)
	}
}

// store chains the transcript under the conversation root. Nodes that already
// exist are no-ops in the storer.
func (r *Recorder) store(ctx context.Context, conversationID string, transcript []llm.Message) (string, error) {
	parent := RootNode(conversationID)
	if err := r.storer.Put(ctx, parent); err != nil {
		return "", fmt.Errorf("storing conversation root: %w", err)
	}

	for _, msg := range transcript {
		node := merkle.NewNode(map[string]any{
			"type":    nodeTypeMessage,
			"role":    string(msg.Role),
			"content": msg.Content,
		}, parent)
		if err := r.storer.Put(ctx, node); err != nil {
			return "", fmt.Errorf("storing message node: %w", err)
		}
		parent = node
	}

	return parent.Hash, nil
}

// RootNode returns the root node every transcript of conversationID hangs from.
func RootNode(conversationID string) *merkle.Node {
	return merkle.NewNode(map[string]any{
		"type":            nodeTypeConversation,
		"conversation_id": conversationID,
	}, nil)
}
