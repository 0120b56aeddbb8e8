package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	openAIDefaultBaseURL   = "https://api.openai.com/v1"
	openAIDefaultModel     = "text-embedding-3-small"
	openAIDefaultDimension = 1536
	openAIHTTPTimeout      = 30 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible embedding provider. Any
// endpoint speaking the /embeddings REST shape works (LiteLLM, Ollama, etc).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
}

// OpenAIProvider generates embeddings via an OpenAI-compatible REST API.
type OpenAIProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
}

type openAIEmbedRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewOpenAIProvider builds a provider from config, filling in defaults for
// anything unset. An API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = openAIDefaultDimension
	}

	return &OpenAIProvider{
		client:     &http.Client{Timeout: openAIHTTPTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: dimensions,
	}, nil
}

func (p *OpenAIProvider) Name() string    { return p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// Embed sends a single-input embedding request.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{
		Input:          text,
		Model:          p.model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request to %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API error (model=%s, status=%d): %s",
			p.model, resp.StatusCode, strings.TrimSpace(string(bodySnippet)))
	}

	var embedResp openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embedding response from %s: %w", p.baseURL, err)
	}
	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no results for model %s", p.model)
	}
	return embedResp.Data[0].Embedding, nil
}

// Compile-time check: OpenAIProvider must satisfy Provider.
var _ Provider = (*OpenAIProvider)(nil)
