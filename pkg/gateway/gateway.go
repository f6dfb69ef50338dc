// Package gateway talks to the language model providers that generate
// conversation replies and judgments. Every provider failure surfaces as an
// *Error so the conversation layer can tell gateway failures from its own.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/papercomputeco/taskvox/pkg/llm"
)

// Gateway generates text from a language model.
type Gateway interface {
	// Complete returns the model's reply to the ordered transcript.
	Complete(ctx context.Context, transcript []llm.Message) (string, error)

	// Judge sends a single instruction prompt and returns the model's reply.
	// Providers are asked for JSON output; the prompt describes the shape.
	Judge(ctx context.Context, prompt string) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// Operation names used in errors, logs and metrics.
const (
	OpComplete = "complete"
	OpJudge    = "judge"
)

// Error is returned for any network, auth, quota or decoding failure of a
// provider call.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// postJSON marshals body, POSTs it to url and decodes a 200 response into out.
// Non-200 responses are returned as an error carrying the status code and body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) (int, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return httpResp.StatusCode, fmt.Errorf("upstream returned %d: %s", httpResp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return httpResp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
	}

	return httpResp.StatusCode, nil
}
