package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/pkg/logger"
)

// DefaultOpenAIBaseURL is used when OpenAIConfig.BaseURL is empty.
const DefaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIConfig configures an OpenAI-compatible chat completions upstream.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	JudgeModel string
	Timeout    time.Duration
}

// OpenAI is a Gateway backed by /v1/chat/completions.
type OpenAI struct {
	config     OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAI creates an OpenAI gateway.
func NewOpenAI(config OpenAIConfig, log *zap.Logger) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOpenAIBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.JudgeModel == "" {
		config.JudgeModel = config.Model
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &OpenAI{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log.With(zap.String("component", "gateway"), zap.String("provider", "openai")),
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, transcript []llm.Message) (string, error) {
	return o.chat(ctx, OpComplete, &llm.OpenAIChatRequest{
		Model:    o.config.Model,
		Messages: transcript,
	})
}

func (o *OpenAI) Judge(ctx context.Context, prompt string) (string, error) {
	return o.chat(ctx, OpJudge, &llm.OpenAIChatRequest{
		Model:          o.config.JudgeModel,
		Messages:       []llm.Message{llm.SystemMessage(prompt)},
		ResponseFormat: &llm.OpenAIResponseFormat{Type: "json_object"},
	})
}

func (o *OpenAI) chat(ctx context.Context, op string, req *llm.OpenAIChatRequest) (string, error) {
	url := o.config.BaseURL + "/v1/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + o.config.APIKey}

	o.logger.Debug("sending chat completion",
		zap.String("op", op),
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	var resp llm.OpenAIChatResponse
	status, err := postJSON(ctx, o.httpClient, url, headers, req, &resp)
	if err != nil {
		return "", &Error{Provider: o.Name(), Op: op, StatusCode: status, Err: describeOpenAIError(err)}
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Provider: o.Name(), Op: op, StatusCode: status, Err: errors.New("no choices in response")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{Provider: o.Name(), Op: op, StatusCode: status, Err: errors.New("empty reply")}
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("model", resp.Model),
		zap.String("content_preview", logger.Truncate(content, 100)),
	}
	if resp.Usage != nil {
		fields = append(fields, zap.Int("total_tokens", resp.Usage.TotalTokens))
	}
	o.logger.Debug("received chat completion", fields...)

	return content, nil
}

// describeOpenAIError replaces a raw error body with the API's message when
// the body is a recognizable error envelope.
func describeOpenAIError(err error) error {
	msg := err.Error()
	idx := strings.Index(msg, "{")
	if idx < 0 {
		return err
	}
	var body llm.OpenAIErrorBody
	if jsonErr := json.Unmarshal([]byte(msg[idx:]), &body); jsonErr != nil || body.Error.Message == "" {
		return err
	}
	return fmt.Errorf("%s: %s", strings.TrimSpace(msg[:idx]), body.Error.Message)
}
