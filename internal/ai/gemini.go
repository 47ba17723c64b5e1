package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey               string `json:"api_key"`
	APIKeyEnv            string `json:"api_key_env"`
	OutputDimensionality int    `json:"output_dimensionality"`
}

type geminiProvider struct {
	apiKey string
}

func newGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrUnavailable
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Generate(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	client, err := newGeminiClient(ctx, p.apiKey)
	if err != nil {
		return "", err
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	resp, err := client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}},
		config,
	)
	if err != nil {
		return "", asStatusError(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

type geminiEmbedProvider struct {
	apiKey               string
	outputDimensionality int
}

func (p *geminiEmbedProvider) Name() string {
	return "gemini"
}

func (p *geminiEmbedProvider) Embed(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error) {
	client, err := newGeminiClient(ctx, p.apiKey)
	if err != nil {
		return nil, err
	}
	config := &genai.EmbedContentConfig{TaskType: taskType}
	if p.outputDimensionality > 0 {
		config.OutputDimensionality = genai.Ptr(int32(p.outputDimensionality))
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	resp, err := client.Models.EmbedContent(ctx, model, contents, config)
	if err != nil {
		return nil, asStatusError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs", ErrBadResponse, len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, item := range resp.Embeddings {
		if item == nil || len(item.Values) == 0 {
			return nil, fmt.Errorf("%w: gemini returned an empty embedding", ErrBadResponse)
		}
		out = append(out, item.Values)
	}
	return out, nil
}

func asStatusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return err
}

func createGeminiFactory(args interface{}) (IGenerateProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: resolveAPIKey(cfg.APIKey, cfg.APIKeyEnv)}, nil
}

func createGeminiEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiEmbedProvider{
		apiKey:               resolveAPIKey(cfg.APIKey, cfg.APIKeyEnv),
		outputDimensionality: cfg.OutputDimensionality,
	}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
	RegisterEmbed("gemini", createGeminiEmbedFactory)
}
