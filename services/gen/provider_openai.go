package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICompatProvider implements Provider for any OpenAI-compatible chat
// completion API. It serves the "openai" identity as well as vendors that
// speak the same wire format (DeepSeek, most self-hosted gateways), so one
// adapter covers the whole family.
type OpenAICompatProvider struct {
	id         ProviderID
	apiKey     string
	baseURL    string
	model      string
	httpClient HTTPDoer
}

// OpenAIOption configures an OpenAICompatProvider.
type OpenAIOption func(*OpenAICompatProvider)

// WithOpenAIHTTPClient overrides the HTTP client, mainly for tests.
func WithOpenAIHTTPClient(c HTTPDoer) OpenAIOption {
	return func(p *OpenAICompatProvider) {
		p.httpClient = c
	}
}

// NewOpenAICompatProvider creates an adapter for an OpenAI-compatible API.
// An empty baseURL targets api.openai.com.
func NewOpenAICompatProvider(id ProviderID, apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	p := &OpenAICompatProvider{
		id:         id,
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAICompatProvider) ID() ProviderID {
	return p.id
}

func (p *OpenAICompatProvider) DefaultModel() string {
	return p.model
}

func (p *OpenAICompatProvider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

func (p *OpenAICompatProvider) Close() error {
	if c, ok := p.httpClient.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// OpenAI wire types.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAICompatProvider) buildRequest(ctx context.Context, params GenerateParams, stream bool) (*http.Request, error) {
	model := params.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openAIMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OpenAICompatProvider) apiError(statusCode int, respBody []byte) error {
	var apiErr openAIError
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s API error: %s", p.id, apiErr.Error.Message)
	}
	return fmt.Errorf("%s API error: status %d", p.id, statusCode)
}

func (p *OpenAICompatProvider) Generate(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
	req, err := p.buildRequest(ctx, params, false)
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

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := apiResp.Choices[0]
	id := apiResp.ID
	if id == "" {
		id = uuid.New().String()
	}
	model := apiResp.Model
	if model == "" {
		model = params.Model
		if model == "" {
			model = p.model
		}
	}

	return &GenerationResponse{
		ID:       id,
		Content:  choice.Message.Content,
		Provider: p.id,
		Model:    model,
		Usage: TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		FinishReason: choice.FinishReason,
		Metadata:     map[string]string{},
		CreatedAt:    time.Now(),
	}, nil
}

func (p *OpenAICompatProvider) GenerateStream(ctx context.Context, params GenerateParams) (<-chan StreamChunk, error) {
	req, err := p.buildRequest(ctx, params, true)
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

	model := params.Model
	if model == "" {
		model = p.model
	}

	ch := make(chan StreamChunk, 100)
	go p.streamResponse(ctx, resp, model, ch)
	return ch, nil
}

type openAIStreamResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
}

func (p *OpenAICompatProvider) streamResponse(ctx context.Context, resp *http.Response, model string, ch chan<- StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	events := make(chan SSEEvent, 100)
	go ParseSSE(resp.Body, events)

	var usage *TokenUsage

	for event := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if event.Err != nil {
			ch <- StreamChunk{Err: fmt.Errorf("stream read error: %w", event.Err), Done: true, Provider: p.id, Model: model}
			return
		}
		if event.Data == "[DONE]" {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal([]byte(event.Data), &streamResp); err != nil {
			ch <- StreamChunk{Err: fmt.Errorf("failed to parse stream chunk: %w", err), Provider: p.id, Model: model}
			continue
		}

		if len(streamResp.Choices) > 0 {
			if delta := streamResp.Choices[0].Delta.Content; delta != "" {
				ch <- StreamChunk{Delta: delta, Provider: p.id, Model: model}
			}
		}
		if streamResp.Usage != nil {
			usage = &TokenUsage{
				PromptTokens:     streamResp.Usage.PromptTokens,
				CompletionTokens: streamResp.Usage.CompletionTokens,
				TotalTokens:      streamResp.Usage.TotalTokens,
			}
		}
	}

	ch <- StreamChunk{Done: true, Provider: p.id, Model: model, Usage: usage}
}
