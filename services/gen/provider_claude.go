package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	claudeBaseURL    = "https://api.anthropic.com/v1"
	claudeAPIVersion = "2023-06-01"
)

// ClaudeProvider implements Provider for the Anthropic messages API.
type ClaudeProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient HTTPDoer
}

// ClaudeOption configures a ClaudeProvider.
type ClaudeOption func(*ClaudeProvider)

// WithClaudeHTTPClient overrides the HTTP client, mainly for tests.
func WithClaudeHTTPClient(c HTTPDoer) ClaudeOption {
	return func(p *ClaudeProvider) {
		p.httpClient = c
	}
}

// WithClaudeBaseURL overrides the API base URL.
func WithClaudeBaseURL(url string) ClaudeOption {
	return func(p *ClaudeProvider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// NewClaudeProvider creates an Anthropic adapter.
func NewClaudeProvider(apiKey, model string, opts ...ClaudeOption) *ClaudeProvider {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	p := &ClaudeProvider{
		apiKey:     apiKey,
		baseURL:    claudeBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ClaudeProvider) ID() ProviderID {
	return ProviderClaude
}

func (p *ClaudeProvider) DefaultModel() string {
	return p.model
}

func (p *ClaudeProvider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

func (p *ClaudeProvider) Close() error {
	if c, ok := p.httpClient.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// Anthropic wire types.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string      `json:"model"`
	StopReason string      `json:"stop_reason"`
	Usage      claudeUsage `json:"usage"`
}

type claudeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest splits out system messages, which the messages API takes as a
// top-level field rather than a conversation turn.
func (p *ClaudeProvider) buildRequest(ctx context.Context, params GenerateParams, stream bool) (*http.Request, string, error) {
	model := params.Model
	if model == "" {
		model = p.model
	}

	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var system string
	messages := make([]claudeMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, claudeMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(claudeRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      system,
		Temperature: params.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)
	req.Header.Set("Content-Type", "application/json")
	return req, model, nil
}

func (p *ClaudeProvider) apiError(statusCode int, respBody []byte) error {
	var apiErr claudeError
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("claude API error: %s", apiErr.Error.Message)
	}
	return fmt.Errorf("claude API error: status %d", statusCode)
}

// normalizeStopReason maps Anthropic's stop-reason vocabulary onto the
// common finish-reason tags.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func (p *ClaudeProvider) Generate(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
	req, model, err := p.buildRequest(ctx, params, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp.StatusCode, respBody)
	}

	var apiResp claudeResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("no content blocks in response")
	}

	var content string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	id := apiResp.ID
	if id == "" {
		id = uuid.New().String()
	}
	respModel := apiResp.Model
	if respModel == "" {
		respModel = model
	}

	return &GenerationResponse{
		ID:       id,
		Content:  content,
		Provider: ProviderClaude,
		Model:    respModel,
		Usage: TokenUsage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		FinishReason: normalizeStopReason(apiResp.StopReason),
		Metadata:     map[string]string{},
		CreatedAt:    time.Now(),
	}, nil
}

func (p *ClaudeProvider) GenerateStream(ctx context.Context, params GenerateParams) (<-chan StreamChunk, error) {
	req, model, err := p.buildRequest(ctx, params, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.apiError(resp.StatusCode, respBody)
	}

	ch := make(chan StreamChunk, 100)
	go p.streamResponse(ctx, resp, model, ch)
	return ch, nil
}

// Anthropic streaming event payloads.
type claudeMessageStart struct {
	Message struct {
		ID    string      `json:"id"`
		Usage claudeUsage `json:"usage"`
	} `json:"message"`
}

type claudeContentBlockDelta struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type claudeMessageDelta struct {
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *ClaudeProvider) streamResponse(ctx context.Context, resp *http.Response, model string, ch chan<- StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	events := make(chan SSEEvent, 100)
	go ParseSSE(resp.Body, events)

	var inputTokens, outputTokens int

	for event := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if event.Err != nil {
			ch <- StreamChunk{Err: fmt.Errorf("stream read error: %w", event.Err), Done: true, Provider: ProviderClaude, Model: model}
			return
		}

		switch event.Event {
		case "message_start":
			var msg claudeMessageStart
			if err := json.Unmarshal([]byte(event.Data), &msg); err != nil {
				ch <- StreamChunk{Err: fmt.Errorf("failed to parse message_start: %w", err), Provider: ProviderClaude, Model: model}
				continue
			}
			inputTokens = msg.Message.Usage.InputTokens

		case "content_block_delta":
			var delta claudeContentBlockDelta
			if err := json.Unmarshal([]byte(event.Data), &delta); err != nil {
				ch <- StreamChunk{Err: fmt.Errorf("failed to parse content_block_delta: %w", err), Provider: ProviderClaude, Model: model}
				continue
			}
			if delta.Delta.Text != "" {
				ch <- StreamChunk{Delta: delta.Delta.Text, Provider: ProviderClaude, Model: model}
			}

		case "message_delta":
			var delta claudeMessageDelta
			if err := json.Unmarshal([]byte(event.Data), &delta); err == nil {
				outputTokens = delta.Usage.OutputTokens
			}

		case "message_stop":
			ch <- StreamChunk{
				Done:     true,
				Provider: ProviderClaude,
				Model:    model,
				Usage: &TokenUsage{
					PromptTokens:     inputTokens,
					CompletionTokens: outputTokens,
					TotalTokens:      inputTokens + outputTokens,
				},
			}
			return
		}
	}

	// Stream ended without message_stop.
	ch <- StreamChunk{
		Done:     true,
		Provider: ProviderClaude,
		Model:    model,
		Usage: &TokenUsage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
	}
}
