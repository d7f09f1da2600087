package score

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// AnthropicScorer implements Scorer on the Anthropic Messages API. It reads
// ANTHROPIC_API_KEY from the environment.
type AnthropicScorer struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicScorer(model string) *AnthropicScorer {
	cl := anthropic.NewClient(
		anthropicopt.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
	)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicScorer{client: &cl, model: model}
}

func (s *AnthropicScorer) ExtractTopics(ctx context.Context, text string, maxTopics int) ([]string, error) {
	raw, err := s.complete(ctx, topicsSystemPrompt+"\n\n"+text, 500)
	if err != nil {
		return nil, err
	}
	return parseTopics(raw, maxTopics), nil
}

func (s *AnthropicScorer) ScoreImportance(ctx context.Context, text, contextHint string) (float64, error) {
	raw, err := s.complete(ctx, importancePrompt(text, contextHint), 200)
	if err != nil {
		return 0, err
	}
	return parseImportance(raw)
}

func (s *AnthropicScorer) Summarize(ctx context.Context, memories []model.Memory) (string, error) {
	if text, done, err := summarizeShortcut(memories); done {
		return text, err
	}
	return s.complete(ctx, summarizeSystemPrompt+"\n\n"+summarizePrompt(memories), 1500)
}

func (s *AnthropicScorer) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: anthropic completion: %v", ErrScoring, err)
	}
	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic returned no text", ErrScoring)
	}
	return b.String(), nil
}
