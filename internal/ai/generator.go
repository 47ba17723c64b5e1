package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type GeneratorOptions struct {
	Timeout time.Duration
	Limiter *rate.Limiter
	Retry   RetryConfig
}

type generator struct {
	provider IGenerateProvider
	model    string
	opts     GeneratorOptions
}

func NewGenerator(p IGenerateProvider, model string, opts GeneratorOptions) IGenerator {
	return &generator{provider: p, model: model, opts: opts}
}

func (g *generator) Complete(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	req := &GenerateRequest{
		System:      systemPrompt,
		Prompt:      userPrompt,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	var text string
	err := retry(ctx, g.opts.Retry, func() error {
		if g.opts.Limiter != nil {
			if err := g.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		res, err := g.provider.Generate(ctx, g.model, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(res)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrBadResponse)
	}
	return text, nil
}
