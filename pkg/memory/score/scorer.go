package score

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// ErrScoring wraps every external-provider failure from a Scorer so callers
// can apply the documented degradation policy.
var ErrScoring = errors.New("scoring")

// DefaultMaxTopics bounds topic extraction when the caller passes zero.
const DefaultMaxTopics = 5

// Scorer abstracts the LLM-backed scoring capabilities: topic extraction,
// importance scoring and cluster summarization.
type Scorer interface {
	// ExtractTopics returns up to maxTopics short keywords for the text.
	ExtractTopics(ctx context.Context, text string, maxTopics int) ([]string, error)
	// ScoreImportance rates the text's significance in [0,1].
	ScoreImportance(ctx context.Context, text, contextHint string) (float64, error)
	// Summarize compresses several related memories into one gist. The
	// list must be non-empty; a single-element list returns that
	// memory's content verbatim.
	Summarize(ctx context.Context, memories []model.Memory) (string, error)
}

// AutoScorer selects a provider by name: openai|anthropic|heuristic.
// An empty provider means heuristic.
func AutoScorer(provider, model string) (Scorer, error) {
	switch provider {
	case "openai":
		return NewOpenAIScorer(model), nil
	case "anthropic", "claude":
		return NewAnthropicScorer(model), nil
	case "", "heuristic":
		return HeuristicScorer{}, nil
	}
	return nil, fmt.Errorf("unknown scoring provider %q", provider)
}

const topicsSystemPrompt = "Extract 3-5 key topics/keywords from this text. " +
	"Return ONLY a comma-separated list, no explanation."

const summarizeSystemPrompt = "You are compressing multiple related memories into one " +
	"coherent summary. Preserve key facts and context. Be concise but complete."

func importancePrompt(text, contextHint string) string {
	var b strings.Builder
	b.WriteString(`Rate the importance of this memory on a scale of 0.0 to 1.0, where:
- 0.0-0.3: Trivial/routine (weather, small talk)
- 0.4-0.6: Moderate (preferences, daily events)
- 0.7-0.9: Important (decisions, relationships, learnings)
- 1.0: Critical (life events, core beliefs, major insights)
`)
	if contextHint != "" {
		b.WriteString("\nContext: ")
		b.WriteString(contextHint)
		b.WriteString("\n")
	}
	b.WriteString("\nMemory: ")
	b.WriteString(text)
	b.WriteString("\n\nReturn ONLY a number between 0.0 and 1.0.")
	return b.String()
}

func summarizePrompt(memories []model.Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize these %d related memories:\n\n", len(memories))
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s (created: %s)\n\n", m.Content, m.CreatedAt.Format("2006-01-02"))
	}
	return b.String()
}

// summarizeShortcut handles the degenerate list sizes common to every
// provider. done is true when no provider call is needed.
func summarizeShortcut(memories []model.Memory) (text string, done bool, err error) {
	switch len(memories) {
	case 0:
		return "", true, fmt.Errorf("%w: summarize called with no memories", ErrScoring)
	case 1:
		return memories[0].Content, true, nil
	}
	return "", false, nil
}

func parseTopics(raw string, maxTopics int) []string {
	if maxTopics <= 0 {
		maxTopics = DefaultMaxTopics
	}
	var topics []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			topics = append(topics, t)
		}
		if len(topics) == maxTopics {
			break
		}
	}
	return topics
}

func parseImportance(raw string) (float64, error) {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable importance %q", ErrScoring, strings.TrimSpace(raw))
	}
	return model.Clamp(val, 0, 1), nil
}

// HeuristicScorer is a deterministic, provider-free Scorer used by tests
// and offline runs.
type HeuristicScorer struct{}

func (HeuristicScorer) ExtractTopics(_ context.Context, text string, maxTopics int) ([]string, error) {
	if maxTopics <= 0 {
		maxTopics = DefaultMaxTopics
	}
	seen := make(map[string]bool)
	var topics []string
	for _, token := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(token, ".,;:!?\"'()")
		if len(word) <= 3 || seen[word] {
			continue
		}
		seen[word] = true
		topics = append(topics, word)
		if len(topics) == maxTopics {
			break
		}
	}
	return topics, nil
}

func (HeuristicScorer) ScoreImportance(_ context.Context, text, _ string) (float64, error) {
	tokens := strings.Fields(strings.ToLower(text))
	lengthScore := float64(len(tokens)) / 60.0
	if lengthScore > 1 {
		lengthScore = 1
	}
	keywordBoost := 0.0
	for _, kw := range []string{"urgent", "critical", "deadline", "important", "alert", "error", "outage", "failure"} {
		if strings.Contains(strings.ToLower(text), kw) {
			keywordBoost += 0.25
		}
	}
	if keywordBoost > 0.6 {
		keywordBoost = 0.6
	}
	return model.Clamp(lengthScore+keywordBoost, 0, 1), nil
}

func (HeuristicScorer) Summarize(_ context.Context, memories []model.Memory) (string, error) {
	if text, done, err := summarizeShortcut(memories); done {
		return text, err
	}
	var sentences []string
	for _, m := range memories {
		sentences = append(sentences, m.Content)
	}
	summary := strings.Join(sentences, " ")
	if len(summary) > 280 {
		cut := 280
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	return summary, nil
}
