package interfaces

import (
	"context"

	"github.com/ternarybob/regula/internal/models"
)

// ProviderMode indicates whether provider calls leave the process.
type ProviderMode string

const (
	ProviderModeCloud   ProviderMode = "cloud"
	ProviderModeOffline ProviderMode = "offline"
)

// Message is a single message in a generation conversation.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// EmbeddingProvider converts text into fixed-length vectors. Chunk and
// query embedding use the same provider so dimensionality always matches.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// GenerationProvider produces completions for grounded prompts.
type GenerationProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	GetMode() ProviderMode
	HealthCheck(ctx context.Context) error
	Close() error
}

// ClassifierProvider decides whether leading document text is in-domain.
type ClassifierProvider interface {
	Classify(ctx context.Context, leadingText string) (*models.Classification, error)
}

// RerankProvider scores (question, passage) pairs jointly. Scores are
// independent of any earlier retrieval score.
type RerankProvider interface {
	Score(ctx context.Context, question string, passages []string) ([]float64, error)
}

// DocumentParser extracts reading-order text, headers and tables from raw
// document bytes.
type DocumentParser interface {
	Parse(ctx context.Context, data []byte, contentType string) (*models.ParsedDocument, error)
}
