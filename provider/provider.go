package provider

import (
	"context"
	"errors"
)

// ErrOverloaded signals a transient overload from the generation capability.
// Callers may degrade gracefully instead of failing the request.
var ErrOverloaded = errors.New("generation service overloaded")

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	// EmbedOne embeds a single non-empty text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany embeds a batch of non-empty texts. The i-th vector in the
	// result corresponds to the i-th input text.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector dimensionality the embedder produces.
	Dimensions() int
}

// Generator produces natural-language text from a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
