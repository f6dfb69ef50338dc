package transcript

import (
	"context"
	"fmt"
	"sort"

	"github.com/papercomputeco/taskvox/pkg/merkle"
)

// History is one recorded transcript, from the first message to HeadHash.
type History struct {
	ConversationID string    `json:"conversation_id"`
	HeadHash       string    `json:"head_hash"`
	Messages       []Message `json:"messages"`
	Depth          int       `json:"depth"`
}

// Message is a transcript entry as stored in the DAG.
type Message struct {
	Hash       string  `json:"hash"`
	ParentHash *string `json:"parent_hash,omitempty"`
	Role       string  `json:"role"`
	Content    string  `json:"content"`
}

// Stats summarizes a transcript DAG.
type Stats struct {
	TotalNodes    int `json:"total_nodes"`
	Conversations int `json:"conversations"`
	Transcripts   int `json:"transcripts"`
}

// BuildHistory returns the transcript ending at hash in chronological order.
func BuildHistory(ctx context.Context, storer merkle.Storer, hash string) (*History, error) {
	path, err := storer.Descendants(ctx, hash)
	if err != nil {
		return nil, err
	}

	history := &History{HeadHash: hash, Messages: []Message{}}
	for _, node := range path {
		content, ok := node.Content.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node %s has unexpected content %T", node.Hash, node.Content)
		}

		if content["type"] == nodeTypeConversation {
			history.ConversationID, _ = content["conversation_id"].(string)
			continue
		}

		msg := Message{Hash: node.Hash, ParentHash: node.ParentHash}
		msg.Role, _ = content["role"].(string)
		msg.Content, _ = content["content"].(string)
		history.Messages = append(history.Messages, msg)
	}

	history.Depth = len(history.Messages)
	return history, nil
}

// ListHistories returns one history per leaf, optionally restricted to a
// single conversation. Leaves that fail to load are skipped.
func ListHistories(ctx context.Context, storer merkle.Storer, conversationID string) ([]History, error) {
	leaves, err := storer.Leaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaves: %w", err)
	}

	histories := make([]History, 0, len(leaves))
	for _, leaf := range leaves {
		history, err := BuildHistory(ctx, storer, leaf.Hash)
		if err != nil {
			continue
		}
		if conversationID != "" && history.ConversationID != conversationID {
			continue
		}
		histories = append(histories, *history)
	}

	sort.SliceStable(histories, func(i, j int) bool {
		return histories[i].ConversationID < histories[j].ConversationID
	})
	return histories, nil
}

// ComputeStats counts nodes, conversations and distinct transcripts.
func ComputeStats(ctx context.Context, storer merkle.Storer) (*Stats, error) {
	nodes, err := storer.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	roots, err := storer.Roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get roots: %w", err)
	}

	leaves, err := storer.Leaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaves: %w", err)
	}

	return &Stats{
		TotalNodes:    len(nodes),
		Conversations: len(roots),
		Transcripts:   len(leaves),
	}, nil
}
