package score

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// DefaultScoringModel is used for topic extraction, importance scoring and
// summarization when no model is configured.
const DefaultScoringModel = "gpt-5-mini"

func openaiClient() *openai.Client {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_KEY")
	}
	return openai.NewClient(key)
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(model string) *OpenAIEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{client: openaiClient(), model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Data[0].Embedding, nil
}

// OpenAIScorer implements Scorer on top of OpenAI chat completions.
type OpenAIScorer struct {
	client *openai.Client
	model  string
}

func NewOpenAIScorer(model string) *OpenAIScorer {
	if model == "" {
		model = DefaultScoringModel
	}
	return &OpenAIScorer{client: openaiClient(), model: model}
}

func (s *OpenAIScorer) ExtractTopics(ctx context.Context, text string, maxTopics int) ([]string, error) {
	raw, err := s.complete(ctx, topicsSystemPrompt, text, 500)
	if err != nil {
		return nil, err
	}
	return parseTopics(raw, maxTopics), nil
}

func (s *OpenAIScorer) ScoreImportance(ctx context.Context, text, contextHint string) (float64, error) {
	raw, err := s.complete(ctx, "", importancePrompt(text, contextHint), 200)
	if err != nil {
		return 0, err
	}
	return parseImportance(raw)
}

func (s *OpenAIScorer) Summarize(ctx context.Context, memories []model.Memory) (string, error) {
	if text, done, err := summarizeShortcut(memories); done {
		return text, err
	}
	return s.complete(ctx, summarizeSystemPrompt, summarizePrompt(memories), 1500)
}

func (s *OpenAIScorer) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               s.model,
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai completion: %v", ErrScoring, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrScoring)
	}
	return resp.Choices[0].Message.Content, nil
}
