package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/quaero-ai/quaero/provider"
)

// overloadedAnswer is returned verbatim when the model provider sheds load,
// so the chat surface degrades gracefully instead of erroring.
const overloadedAnswer = "I'm sorry, the AI service is currently overloaded. Please try again in a few minutes."

// Answerer turns retrieved excerpts plus a question into a grounded answer.
type Answerer struct {
	logger    *log.Logger
	generator provider.Generator
}

func NewAnswerer(logger *log.Logger, generator provider.Generator) *Answerer {
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	return &Answerer{logger: logger, generator: generator}
}

// Answer generates a completion constrained to the provided excerpts. When
// the provider reports overload, a canned apology is returned with a nil
// error; any other provider failure propagates.
func (a *Answerer) Answer(ctx context.Context, query string, excerpts []Result) (string, error) {
	prompt := buildPrompt(query, excerpts)
	a.logger.Printf("generating answer from %d excerpt(s)", len(excerpts))

	answer, err := a.generator.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, provider.ErrOverloaded) {
			a.logger.Printf("provider overloaded, returning fallback answer")
			return overloadedAnswer, nil
		}
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}

func buildPrompt(query string, excerpts []Result) string {
	labeled := make([]string, 0, len(excerpts))
	for i, ex := range excerpts {
		labeled = append(labeled, fmt.Sprintf("Excerpt %d:\n%s", i+1, ex.Content))
	}

	var b strings.Builder
	b.WriteString("Here are excerpts from a document:\n\n")
	b.WriteString(strings.Join(labeled, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nYou are a helpful assistant. Answer the user's question using only the provided excerpts.\n\n")
	b.WriteString("If the specific answer is not explicitly stated, synthesize relevant details from the text that address the core of the user's inquiry.\n\n")
	b.WriteString("If the excerpts contain absolutely no relevant information, state that you cannot answer based on the provided text.")
	return b.String()
}
