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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// streamFragmentSize is the fragment length used when synthesizing a stream
// from a blocking generation.
const streamFragmentSize = 8

// GeminiProvider implements Provider for the Google Gemini REST API.
// Streaming is synthesized: the adapter performs the full generation and
// emits the content in fixed-size fragments, so callers see the same
// streaming contract as with natively streaming backends.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient HTTPDoer
}

// GeminiOption configures a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithGeminiHTTPClient overrides the HTTP client, mainly for tests.
func WithGeminiHTTPClient(c HTTPDoer) GeminiOption {
	return func(p *GeminiProvider) {
		p.httpClient = c
	}
}

// WithGeminiBaseURL overrides the API base URL.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(p *GeminiProvider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// NewGeminiProvider creates a Gemini adapter.
func NewGeminiProvider(apiKey, model string, opts ...GeminiOption) *GeminiProvider {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	p := &GeminiProvider{
		apiKey:     apiKey,
		baseURL:    geminiBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GeminiProvider) ID() ProviderID {
	return ProviderGemini
}

func (p *GeminiProvider) DefaultModel() string {
	return p.model
}

func (p *GeminiProvider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

func (p *GeminiProvider) Close() error {
	if c, ok := p.httpClient.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// Gemini wire types.
type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiAPIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// normalizeGeminiFinishReason maps Gemini's finish-reason vocabulary onto
// the common tags.
func normalizeGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return reason
	}
}

func (p *GeminiProvider) Generate(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
	model := params.Model
	if model == "" {
		model = p.model
	}

	var system *geminiContent
	contents := make([]geminiContent, 0, len(params.Messages))
	for _, m := range params.Messages {
		switch m.Role {
		case "system":
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	body, err := json.Marshal(geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		var apiErr geminiAPIError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("gemini API error: %s", apiErr.Error.Message)
		}
		return nil, fmt.Errorf("gemini API error: status %d", resp.StatusCode)
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := apiResp.Candidates[0]
	var content string
	for _, part := range candidate.Content.Parts {
		content += part.Text
	}

	return &GenerationResponse{
		ID:       uuid.New().String(),
		Content:  content,
		Provider: ProviderGemini,
		Model:    model,
		Usage: TokenUsage{
			PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
		},
		FinishReason: normalizeGeminiFinishReason(candidate.FinishReason),
		Metadata:     map[string]string{},
		CreatedAt:    time.Now(),
	}, nil
}

func (p *GeminiProvider) GenerateStream(ctx context.Context, params GenerateParams) (<-chan StreamChunk, error) {
	resp, err := p.Generate(ctx, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 100)
	go func() {
		defer close(ch)
		content := []rune(resp.Content)
		for i := 0; i < len(content); i += streamFragmentSize {
			select {
			case <-ctx.Done():
				return
			default:
			}
			end := i + streamFragmentSize
			if end > len(content) {
				end = len(content)
			}
			ch <- StreamChunk{Delta: string(content[i:end]), Provider: ProviderGemini, Model: resp.Model}
		}
		usage := resp.Usage
		ch <- StreamChunk{Done: true, Provider: ProviderGemini, Model: resp.Model, Usage: &usage}
	}()
	return ch, nil
}
