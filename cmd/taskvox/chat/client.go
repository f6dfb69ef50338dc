package chatcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/taskvox/pkg/llm"
	"github.com/papercomputeco/taskvox/server"
)

// session talks to one conversation on a taskvox server.
type session struct {
	baseURL        string
	conversationID string
	language       string
	httpClient     *http.Client
}

func newSession(baseURL, conversationID, language string) *session {
	return &session{
		baseURL:        strings.TrimRight(baseURL, "/"),
		conversationID: conversationID,
		language:       language,
		// Replies wait on the language model and speech synthesis
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s *session) assist(ctx context.Context, text string) (*server.AssistResponse, error) {
	body, err := json.Marshal(server.TextAssistRequest{
		ConversationID: s.conversationID,
		UserInputText:  text,
		LanguageCode:   s.language,
	})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/text-assist", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var out server.AssistResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}
	return &out, nil
}

func (s *session) reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/conversations/"+s.conversationID, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return serverError(resp)
	}
	return nil
}

func serverError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var body llm.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
