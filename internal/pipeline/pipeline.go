package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/quaero-ai/quaero/internal/chunker"
	"github.com/quaero-ai/quaero/internal/extract"
	"github.com/quaero-ai/quaero/internal/store"
	"github.com/quaero-ai/quaero/provider"
)

// StoreAPI captures the store methods required by the pipeline.
type StoreAPI interface {
	GetDocument(ctx context.Context, id int64) (store.Document, bool, error)
	MarkDocumentProcessing(ctx context.Context, id int64) (bool, error)
	MarkDocumentFailed(ctx context.Context, id int64, message string) error
	InsertChunks(ctx context.Context, documentID int64, contents []string) ([]int64, error)
	CompleteDocumentWithEmbeddings(ctx context.Context, documentID int64, chunkIDs []int64, vectors [][]float32) error
}

// Pipeline runs the extract → chunk → embed → persist flow for one document
// at a time and owns the document state machine.
type Pipeline struct {
	logger    *log.Logger
	store     StoreAPI
	embedder  provider.Embedder
	extractor extract.Extractor

	chunkSize    int
	chunkOverlap int
}

// New constructs a Pipeline.
func New(logger *log.Logger, st StoreAPI, embedder provider.Embedder, extractor extract.Extractor, chunkSize, chunkOverlap int) *Pipeline {
	return &Pipeline{
		logger:       logger,
		store:        st,
		embedder:     embedder,
		extractor:    extractor,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Process runs the full pipeline for a document. Entry requires pending
// status; completed and processing documents are rejected with state errors
// so duplicate invocations do no redundant work. Every failure past the
// guards is persisted as failed status with an error message before Process
// returns.
func (p *Pipeline) Process(ctx context.Context, documentID int64) error {
	p.logger.Printf("starting document processing: document_id=%d", documentID)

	doc, found, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return infraErr("load document %d: %w", documentID, err)
	}
	if !found {
		return stateErr("%w: id=%d", ErrDocumentNotFound, documentID)
	}

	switch doc.Status {
	case store.StatusCompleted:
		return stateErr("%w: id=%d", ErrAlreadyProcessed, documentID)
	case store.StatusProcessing:
		return stateErr("%w: id=%d", ErrAlreadyProcessing, documentID)
	case store.StatusFailed:
		return stateErr("document %d is in failed status; retry it first", documentID)
	}

	// Claim the document before doing any work so a concurrent invocation
	// observes the guard instead of repeating the extraction.
	claimed, err := p.store.MarkDocumentProcessing(ctx, documentID)
	if err != nil {
		return infraErr("mark document %d processing: %w", documentID, err)
	}
	if !claimed {
		return stateErr("%w: id=%d", ErrAlreadyProcessing, documentID)
	}

	if err := p.run(ctx, doc); err != nil {
		p.fail(ctx, documentID, err)
		return err
	}

	p.logger.Printf("processing complete: document_id=%d", documentID)
	return nil
}

func (p *Pipeline) run(ctx context.Context, doc store.Document) error {
	text, err := p.extractor.ExtractText(ctx, doc.FilePath)
	if err != nil {
		if errors.Is(err, extract.ErrTimeout) {
			return timeoutErr("extract %s: %w", doc.Filename, err)
		}
		return unexpectedErr("extract %s: %w", doc.Filename, err)
	}
	p.logger.Printf("extracted %d characters from %s", len(text), doc.Filename)

	if strings.TrimSpace(text) == "" {
		return stateErr("%w: %s", ErrEmptyText, doc.Filename)
	}

	chunks := chunker.Chunk(text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return stateErr("%w: %s", ErrEmptyText, doc.Filename)
	}
	p.logger.Printf("created %d chunks for document_id=%d", len(chunks), doc.ID)

	chunkIDs, err := p.store.InsertChunks(ctx, doc.ID, chunks)
	if err != nil {
		return infraErr("persist chunks for document %d: %w", doc.ID, err)
	}

	vectors, err := p.embedder.EmbedMany(ctx, chunks)
	if err != nil {
		return infraErr("embed chunks for document %d: %w", doc.ID, err)
	}
	if len(vectors) != len(chunks) {
		return unexpectedErr("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, vec := range vectors {
		if len(vec) != p.embedder.Dimensions() {
			return unexpectedErr("embedding %d has %d dimensions, expected %d", i, len(vec), p.embedder.Dimensions())
		}
	}

	if err := p.store.CompleteDocumentWithEmbeddings(ctx, doc.ID, chunkIDs, vectors); err != nil {
		return infraErr("complete document %d: %w", doc.ID, err)
	}
	return nil
}

// fail persists the failed status and message. It must succeed even when the
// triggering error came from a cancelled or expired context, so the write
// runs on a detached context with its own deadline.
func (p *Pipeline) fail(ctx context.Context, documentID int64, cause error) {
	p.logger.Printf("processing failed: document_id=%d: %v", documentID, cause)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.MarkDocumentFailed(writeCtx, documentID, cause.Error()); err != nil {
		p.logger.Printf("error: could not persist failed status for document_id=%d: %v", documentID, err)
	}
}
