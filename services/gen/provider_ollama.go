package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider implements Provider for Ollama local inference. It needs
// no credential; availability means the daemon answers on its base URL.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient HTTPDoer

	mu        sync.Mutex
	lastCheck time.Time
	reachable bool
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithOllamaHTTPClient overrides the HTTP client, mainly for tests.
func WithOllamaHTTPClient(c HTTPDoer) OllamaOption {
	return func(p *OllamaProvider) {
		p.httpClient = c
	}
}

// NewOllamaProvider creates an Ollama adapter. An empty baseURL targets the
// local daemon's default port.
func NewOllamaProvider(baseURL, model string, opts ...OllamaOption) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = "llama3.1"
	}
	p := &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		// Long timeout for local inference.
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OllamaProvider) ID() ProviderID {
	return ProviderOllama
}

func (p *OllamaProvider) DefaultModel() string {
	return p.model
}

// Available pings the daemon, caching the result for a minute so rotation
// does not hammer a dead socket.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	p.mu.Lock()
	if time.Since(p.lastCheck) < time.Minute {
		reachable := p.reachable
		p.mu.Unlock()
		return reachable
	}
	p.mu.Unlock()

	reachable := p.ping(ctx)

	p.mu.Lock()
	p.lastCheck = time.Now()
	p.reachable = reachable
	p.mu.Unlock()
	return reachable
}

func (p *OllamaProvider) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (p *OllamaProvider) Close() error {
	if c, ok := p.httpClient.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// Ollama wire types.
type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	// done_reason is "stop" or "length" in recent daemons.
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *OllamaProvider) buildRequest(ctx context.Context, params GenerateParams, stream bool) (*http.Request, string, error) {
	model := params.Model
	if model == "" {
		model = p.model
	}

	messages := make([]ollamaMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options: &ollamaOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, model, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
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
		return nil, fmt.Errorf("ollama API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	finishReason := apiResp.DoneReason
	if finishReason == "" {
		finishReason = "stop"
	}

	return &GenerationResponse{
		ID:       uuid.New().String(),
		Content:  apiResp.Message.Content,
		Provider: ProviderOllama,
		Model:    model,
		Usage: TokenUsage{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		},
		FinishReason: finishReason,
		Metadata:     map[string]string{},
		CreatedAt:    time.Now(),
	}, nil
}

func (p *OllamaProvider) GenerateStream(ctx context.Context, params GenerateParams) (<-chan StreamChunk, error) {
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
		return nil, fmt.Errorf("ollama API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	ch := make(chan StreamChunk, 100)
	go p.streamResponse(ctx, resp, model, ch)
	return ch, nil
}

func (p *OllamaProvider) streamResponse(ctx context.Context, resp *http.Response, model string, ch chan<- StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	lines := make(chan NDJSONLine, 100)
	go ParseNDJSON(resp.Body, lines)

	var promptTokens, completionTokens int

	for line := range lines {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if line.Err != nil {
			ch <- StreamChunk{Err: fmt.Errorf("stream read error: %w", line.Err), Done: true, Provider: ProviderOllama, Model: model}
			return
		}

		var chunk ollamaResponse
		if err := json.Unmarshal([]byte(line.Data), &chunk); err != nil {
			ch <- StreamChunk{Err: fmt.Errorf("failed to parse stream chunk: %w", err), Provider: ProviderOllama, Model: model}
			continue
		}

		if chunk.Message.Content != "" {
			ch <- StreamChunk{Delta: chunk.Message.Content, Provider: ProviderOllama, Model: model}
		}
		if chunk.Done {
			promptTokens = chunk.PromptEvalCount
			completionTokens = chunk.EvalCount
			break
		}
	}

	ch <- StreamChunk{
		Done:     true,
		Provider: ProviderOllama,
		Model:    model,
		Usage: &TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}
