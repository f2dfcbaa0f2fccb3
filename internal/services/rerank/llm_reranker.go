package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/interfaces"
)

// rerankSystemPrompt scores each passage jointly against the question.
// Scores must be independent of any retrieval ordering, so passages are
// presented without rank information.
const rerankSystemPrompt = `You are a relevance scorer for a rules question-answering system.

You will receive a question and a numbered list of rulebook passages. For EACH passage, judge how directly it answers or constrains the answer to the question.

Score each passage from 0.0 to 1.0:
- 1.0: the passage directly states the answer
- 0.7: the passage states a rule that clearly applies
- 0.4: the passage is related but does not settle the question
- 0.1: the passage is about a different rule
- 0.0: the passage is irrelevant

Judge each passage on its own. Do not let passages influence each other's scores.

Respond with ONLY a JSON array of numbers, one per passage, in the same order. No markdown fences, no commentary. Example: [0.9, 0.1, 0.4]`

// LLMReranker implements cross-encoder style scoring with a single batched
// generation call per candidate set.
type LLMReranker struct {
	generator interfaces.GenerationProvider
	logger    arbor.ILogger
}

var _ interfaces.RerankProvider = (*LLMReranker)(nil)

func NewLLMReranker(generator interfaces.GenerationProvider, logger arbor.ILogger) *LLMReranker {
	return &LLMReranker{
		generator: generator,
		logger:    logger,
	}
}

// Score returns one relevance score per passage, aligned by index.
func (r *LLMReranker) Score(ctx context.Context, question string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nPassages:\n")
	for i, passage := range passages {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, passage)
	}

	messages := []interfaces.Message{
		{Role: "system", Content: rerankSystemPrompt},
		{Role: "user", Content: b.String()},
	}

	response, err := r.generator.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("rerank scoring call failed: %w", err)
	}

	scores, err := parseScores(response, len(passages))
	if err != nil {
		return nil, fmt.Errorf("rerank response invalid: %w", err)
	}

	return scores, nil
}

// parseScores extracts the JSON score array and validates its shape.
func parseScores(response string, want int) ([]float64, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var scores []float64
	if err := json.Unmarshal([]byte(response[start:end+1]), &scores); err != nil {
		return nil, err
	}
	if len(scores) != want {
		return nil, fmt.Errorf("got %d scores for %d passages", len(scores), want)
	}

	for i, s := range scores {
		if s < 0 {
			scores[i] = 0
		}
		if s > 1 {
			scores[i] = 1
		}
	}
	return scores, nil
}
