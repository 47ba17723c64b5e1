package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/tokenutil"
)

const (
	synthesisTemperature = 0.2
	maxHistoryItems      = 6
	historyAnswerChars   = 500
	citationChars        = 200
	noSummaryText        = "No summary available."
)

const systemPrompt = `You answer questions about the user's recorded conversations.
Use only the summary, excerpts and prior exchanges provided. Each excerpt is
prefixed with its timestamp and speaker; mention them when they matter.
If the excerpts do not contain the answer, say so plainly instead of guessing.`

type SynthesizerOptions struct {
	MaxTokens int
	// USD per 1K estimated tokens.
	PromptCostPer1K     float64
	CompletionCostPer1K float64
	HistoryLimit        int
	HistoryAnswerChars  int
	Metrics             *Metrics
}

type SynthesisRequest struct {
	Scope    model.Scope
	Question string
	// Summary is only rendered for conversation scope.
	Summary string
	Chunks  []model.ScoredChunk
	History []model.QAHistoryItem
}

type Synthesizer struct {
	generator ai.IGenerator
	opts      SynthesizerOptions
}

func NewSynthesizer(generator ai.IGenerator, opts SynthesizerOptions) *Synthesizer {
	if opts.HistoryLimit <= 0 || opts.HistoryLimit > maxHistoryItems {
		opts.HistoryLimit = maxHistoryItems
	}
	if opts.HistoryAnswerChars <= 0 {
		opts.HistoryAnswerChars = historyAnswerChars
	}
	return &Synthesizer{generator: generator, opts: opts}
}

// Synthesize asks the model for an answer. Citations are built from the
// content chunks of req alone, never from the model's text.
func (s *Synthesizer) Synthesize(ctx context.Context, req *SynthesisRequest) (*model.Answer, error) {
	prompt := s.BuildPrompt(req)
	text, err := s.generator.Complete(ctx, systemPrompt, prompt, ai.GenerateOptions{
		Temperature: synthesisTemperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	usage := s.usage(systemPrompt+prompt, text)
	s.opts.Metrics.observeUsage(usage)
	logutil.GetLogger(ctx).Info("answer synthesized",
		zap.String("scope", string(req.Scope)),
		zap.Int("excerpts", len(req.Chunks)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Float64("estimated_cost", usage.EstimatedCost))
	return &model.Answer{
		Answer:    text,
		Citations: BuildCitations(req.Chunks),
		Scope:     req.Scope,
		Usage:     usage,
	}, nil
}

func (s *Synthesizer) BuildPrompt(req *SynthesisRequest) string {
	var sb strings.Builder
	if req.Scope == model.ScopeConversation {
		summary := strings.TrimSpace(req.Summary)
		if summary == "" {
			summary = noSummaryText
		}
		sb.WriteString("Conversation summary:\n")
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}
	if len(req.Chunks) > 0 {
		sb.WriteString("Relevant excerpts:\n")
		for _, c := range req.Chunks {
			sb.WriteString(formatExcerpt(&c.Payload))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	history := req.History
	if len(history) > s.opts.HistoryLimit {
		history = history[len(history)-s.opts.HistoryLimit:]
	}
	if len(history) > 0 {
		sb.WriteString("Previous questions and answers:\n")
		for _, h := range history {
			sb.WriteString("Q: ")
			sb.WriteString(strings.TrimSpace(h.Question))
			sb.WriteString("\nA: ")
			sb.WriteString(tokenutil.Truncate(strings.TrimSpace(h.Answer), s.opts.HistoryAnswerChars))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(req.Question))
	return sb.String()
}

func formatExcerpt(p *model.Payload) string {
	switch p.ChunkType {
	case model.ChunkTypeMetadata:
		title := p.ConversationTitle
		if title == "" {
			title = "untitled"
		}
		return fmt.Sprintf("[Overview of %q]: %s", title, p.Text)
	default:
		return fmt.Sprintf("[%s, %s]: \"%s\"", FormatTimestamp(p.StartTime), p.Speaker, p.Text)
	}
}

// BuildCitations maps each retrieved content chunk to one citation, in the
// order given.
func BuildCitations(chunks []model.ScoredChunk) []model.Citation {
	out := make([]model.Citation, 0, len(chunks))
	for _, c := range chunks {
		switch c.Payload.ChunkType {
		case model.ChunkTypeContent:
			out = append(out, model.Citation{
				TranscriptionID:   c.Payload.TranscriptionID,
				ConversationTitle: c.Payload.ConversationTitle,
				Speaker:           c.Payload.Speaker,
				Timestamp:         FormatTimestamp(c.Payload.StartTime),
				TimestampSeconds:  c.Payload.StartTime,
				Text:              tokenutil.Truncate(c.Payload.Text, citationChars),
				RelevanceScore:    c.Score,
			})
		case model.ChunkTypeMetadata:
			// overview text, never cited
		}
	}
	return out
}

func (s *Synthesizer) usage(prompt, completion string) model.Usage {
	u := model.Usage{
		PromptTokens:     tokenutil.Estimate(prompt),
		CompletionTokens: tokenutil.Estimate(completion),
	}
	u.EstimatedCost = float64(u.PromptTokens)/1000*s.opts.PromptCostPer1K +
		float64(u.CompletionTokens)/1000*s.opts.CompletionCostPer1K
	return u
}

// FormatTimestamp renders whole seconds as M:SS, or H:MM:SS from one hour.
// Fractions are dropped.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
