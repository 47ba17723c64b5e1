package ai

import (
	"context"
	"strings"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

type openrouterConfig struct {
	APIKey      string `json:"api_key"`
	APIKeyEnv   string `json:"api_key_env"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
	Timeout     int    `json:"timeout"`
}

// openrouterProvider speaks the OpenAI chat protocol plus the attribution
// headers OpenRouter asks for.
type openrouterProvider struct {
	*openAIClient
}

func (p *openrouterProvider) Name() string {
	return "openrouter"
}

func (p *openrouterProvider) Generate(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	return p.chat(ctx, model, req)
}

func createOpenRouterFactory(args interface{}) (IGenerateProvider, error) {
	cfg := &openrouterConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	client := newOpenAIClient("openrouter", resolveAPIKey(cfg.APIKey, cfg.APIKeyEnv), cfg.BaseURL, defaultOpenRouterBaseURL, cfg.Timeout)
	if v := strings.TrimSpace(cfg.HTTPReferer); v != "" {
		client.headers["HTTP-Referer"] = v
	}
	if v := strings.TrimSpace(cfg.XTitle); v != "" {
		client.headers["X-Title"] = v
	}
	return &openrouterProvider{openAIClient: client}, nil
}

func init() {
	Register("openrouter", createOpenRouterFactory)
}
