package interfaces

import (
	"context"
	"time"

	"github.com/elum-utils/gatekeeper/models"
)

// Generator is a black-box text-generation service.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier turns a moderation request into raw classifier output.
type Classifier interface {
	Classify(ctx context.Context, req models.Request) (string, error)
}

// TextExtractor converts an image into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, image models.Image) (models.ExtractedText, error)
}

// Storage persists prohibited terms.
type Storage interface {
	AddTerm(ctx context.Context, term models.Term) error
	RemoveTerm(ctx context.Context, value string) error
	GetTerms(ctx context.Context) ([]models.Term, error)
	TermExists(ctx context.Context, value string) (bool, error)
}

// Metrics records observable moderation outcomes.
type Metrics interface {
	ObserveDecision(source models.Source, outcome string)
	ObserveFailOpen(reason string)
	ObserveClassifierCall(provider, status string, elapsed time.Duration)
	ObserveParseAnomaly(kind string)
	ObserveExtraction(status string, elapsed time.Duration)
}

// Logger is an optional structured logger.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}
