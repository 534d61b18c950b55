package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client talks to an OpenAI-compatible completion API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// No client-side timeout on completion calls; the platform's
		// outer request deadline bounds them.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// UpstreamError is a non-2xx reply from the completion API. It is fatal to
// the request that caused it; the upstream body is surfaced to the caller.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion API error %d: %s", e.StatusCode, e.Body)
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []Turn           `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature float64          `json:"temperature"`
	Modalities  []string         `json:"modalities,omitempty"`
}

type legacyFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// assistantMessage is the raw message inside choices[0]. Content is kept
// raw because providers return a plain string, an array of typed parts, or
// a structured object.
type assistantMessage struct {
	Role             string              `json:"role"`
	Content          json.RawMessage     `json:"content"`
	Images           []json.RawMessage   `json:"images,omitempty"`
	ToolCalls        []ToolCall          `json:"tool_calls,omitempty"`
	FunctionCall     *legacyFunctionCall `json:"function_call,omitempty"`
	Reasoning        json.RawMessage     `json:"reasoning,omitempty"`
	ReasoningDetails json.RawMessage     `json:"reasoning_details,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message assistantMessage `json:"message"`
	} `json:"choices"`
}

// invocations returns the message's tool calls, folding the legacy
// function_call field into the same shape and guaranteeing every call has
// an id so tool-result turns can be correlated.
func (m *assistantMessage) invocations() []ToolCall {
	calls := m.ToolCalls
	if len(calls) == 0 && m.FunctionCall != nil {
		var call ToolCall
		call.Function.Name = m.FunctionCall.Name
		call.Function.Arguments = m.FunctionCall.Arguments
		calls = []ToolCall{call}
	}
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
		if calls[i].Type == "" {
			calls[i].Type = "function"
		}
	}
	return calls
}

// ChatCompletion posts one completion request and returns the first
// choice's message. A non-2xx status is returned as *UpstreamError.
func (c *Client) ChatCompletion(ctx context.Context, req completionRequest) (*assistantMessage, error) {
	body, err := c.post(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion response contained no choices")
	}
	return &resp.Choices[0].Message, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("upstream API error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
