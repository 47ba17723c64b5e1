package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey     string `json:"api_key"`
	APIKeyEnv  string `json:"api_key_env"`
	BaseURL    string `json:"base_url"`
	Dimensions int    `json:"dimensions"`
	Timeout    int    `json:"timeout"`
}

type openAIClient struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	headers map[string]string
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIChatMsg `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func newOpenAIClient(name, apiKey, baseURL, fallbackURL string, timeout int) *openAIClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = fallbackURL
	}
	if timeout <= 0 {
		timeout = 60
	}
	return &openAIClient{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
		headers: map[string]string{},
	}
}

func (c *openAIClient) post(ctx context.Context, path string, in interface{}, out interface{}) error {
	if c.apiKey == "" {
		return ErrUnavailable
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrBadResponse, c.name, err)
	}
	return nil
}

func (c *openAIClient) chat(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	msgs := make([]openAIChatMsg, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openAIChatMsg{Role: "system", Content: req.System})
	}
	msgs = append(msgs, openAIChatMsg{Role: "user", Content: req.Prompt})
	var out openAIChatResponse
	if err := c.post(ctx, "/chat/completions", &openAIChatRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: %s response has no choices", ErrBadResponse, c.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

type openAIProvider struct {
	*openAIClient
}

func (p *openAIProvider) Name() string {
	return "openai"
}

func (p *openAIProvider) Generate(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	return p.chat(ctx, model, req)
}

type openAIEmbedProvider struct {
	*openAIClient
	dimensions int
}

func (p *openAIEmbedProvider) Name() string {
	return "openai"
}

// Embed sends all texts in one request. The API does not promise that
// data[] comes back in input order, so results are placed by index.
func (p *openAIEmbedProvider) Embed(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error) {
	var out openAIEmbedResponse
	if err := p.post(ctx, "/embeddings", &openAIEmbedRequest{
		Model:      model,
		Input:      texts,
		Dimensions: p.dimensions,
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs", ErrBadResponse, len(out.Data), len(texts))
	}
	sort.Slice(out.Data, func(i, j int) bool {
		return out.Data[i].Index < out.Data[j].Index
	})
	res := make([][]float32, len(texts))
	for i, item := range out.Data {
		if item.Index != i {
			return nil, fmt.Errorf("%w: openai embedding index %d out of range", ErrBadResponse, item.Index)
		}
		res[i] = item.Embedding
	}
	return res, nil
}

func createOpenAIFactory(args interface{}) (IGenerateProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	client := newOpenAIClient("openai", resolveAPIKey(cfg.APIKey, cfg.APIKeyEnv), cfg.BaseURL, defaultOpenAIBaseURL, cfg.Timeout)
	return &openAIProvider{openAIClient: client}, nil
}

func createOpenAIEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	client := newOpenAIClient("openai", resolveAPIKey(cfg.APIKey, cfg.APIKeyEnv), cfg.BaseURL, defaultOpenAIBaseURL, cfg.Timeout)
	return &openAIEmbedProvider{openAIClient: client, dimensions: cfg.Dimensions}, nil
}

func init() {
	Register("openai", createOpenAIFactory)
	RegisterEmbed("openai", createOpenAIEmbedFactory)
}
