package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/logger"
)

// OllamaConfig configures an Ollama-compatible /api/chat upstream.
type OllamaConfig struct {
	// BaseURL of the upstream (e.g., "http://localhost:11434")
	BaseURL string

	// Model used for replies, and JudgeModel for judgments (defaults to Model).
	Model      string
	JudgeModel string

	Timeout time.Duration
}

// Ollama is a Gateway backed by a non-streaming Ollama /api/chat endpoint.
type Ollama struct {
	config     OllamaConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllama creates an Ollama gateway.
func NewOllama(config OllamaConfig, log *zap.Logger) *Ollama {
	if config.Timeout == 0 {
		// LLM requests can be slow, especially on local hardware
		config.Timeout = 5 * time.Minute
	}
	if config.JudgeModel == "" {
		config.JudgeModel = config.Model
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Ollama{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log.With(zap.String("component", "gateway"), zap.String("provider", "ollama")),
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Complete(ctx context.Context, transcript []llm.Message) (string, error) {
	return o.chat(ctx, OpComplete, &llm.ChatRequest{
		Model:    o.config.Model,
		Messages: transcript,
	})
}

func (o *Ollama) Judge(ctx context.Context, prompt string) (string, error) {
	return o.chat(ctx, OpJudge, &llm.ChatRequest{
		Model:    o.config.JudgeModel,
		Messages: []llm.Message{llm.SystemMessage(prompt)},
		Format:   "json",
	})
}

func (o *Ollama) chat(ctx context.Context, op string, req *llm.ChatRequest) (string, error) {
	// Ensure non-streaming
	streaming := false
	req.Stream = &streaming

	upstreamURL := o.config.BaseURL + "/api/chat"
	o.logger.Debug("forwarding request to upstream",
		zap.String("op", op),
		zap.String("url", upstreamURL),
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	var resp llm.ChatResponse
	status, err := postJSON(ctx, o.httpClient, upstreamURL, nil, req, &resp)
	if err != nil {
		return "", &Error{Provider: o.Name(), Op: op, StatusCode: status, Err: err}
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", &Error{Provider: o.Name(), Op: op, StatusCode: status, Err: errors.New("empty reply")}
	}

	o.logger.Debug("received response from upstream",
		zap.String("op", op),
		zap.String("model", resp.Model),
		zap.Int("eval_count", resp.EvalCount),
		zap.String("content_preview", logger.Truncate(content, 100)),
	)

	return content, nil
}
