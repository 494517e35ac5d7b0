package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/quaero-ai/quaero/internal/pipeline"
	"github.com/quaero-ai/quaero/internal/queue"
)

// interruptedMessage is recorded on documents whose processing was cut short
// by a worker restart, so the API can surface why they flipped back to pending.
const interruptedMessage = "Processing was interrupted during a restart. Ready for retry."

// DocumentProcessor runs the ingestion pipeline for a single document.
type DocumentProcessor interface {
	Process(ctx context.Context, documentID int64) error
}

// StreamConsumer reads, reclaims, and acknowledges job messages.
type StreamConsumer interface {
	Read(ctx context.Context, stream string, opts ...queue.ConsumerOption) ([]queue.Message, error)
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]queue.Message, string, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// SlotReleaser frees a document's dedup slot once its job reaches a terminal state.
type SlotReleaser interface {
	Release(ctx context.Context, documentID int64) error
}

// StaleResetter flips documents stuck in processing back to pending and
// reports which ones it touched.
type StaleResetter interface {
	ResetStaleProcessing(ctx context.Context, cutoff time.Time, message string) ([]int64, error)
}

// Worker consumes document jobs from the stream and drives the pipeline.
type Worker struct {
	logger       *log.Logger
	consumer     StreamConsumer
	releaser     SlotReleaser
	store        StaleResetter
	pipeline     DocumentProcessor
	stream       string
	readBlock    time.Duration
	readCount    int64
	claimMinIdle time.Duration
	claimCursor  string
}

// Config carries the knobs a Worker needs beyond its collaborators.
type Config struct {
	Stream    string
	ReadBlock time.Duration
	ReadCount int64
	// ClaimMinIdle is how long a delivered-but-unacked entry may sit in a
	// dead consumer's pending list before this worker claims it.
	ClaimMinIdle time.Duration
}

func New(logger *log.Logger, consumer StreamConsumer, releaser SlotReleaser, store StaleResetter, proc DocumentProcessor, cfg Config) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 16
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 5 * time.Minute
	}
	return &Worker{
		logger:       logger,
		consumer:     consumer,
		releaser:     releaser,
		store:        store,
		pipeline:     proc,
		stream:       cfg.Stream,
		readBlock:    cfg.ReadBlock,
		readCount:    cfg.ReadCount,
		claimMinIdle: cfg.ClaimMinIdle,
		claimCursor:  "0-0",
	}
}

// RecoverStale resets documents that were mid-processing when a previous
// worker died. staleAfter bounds how recent an upload may be and still count
// as abandoned. Each reset document's dedup slot is released so a fresh
// enqueue is accepted immediately instead of colliding with the dead job's
// key until its TTL lapses. Returns the number of documents reset.
func (w *Worker) RecoverStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	ids, err := w.store.ResetStaleProcessing(ctx, cutoff, interruptedMessage)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if relErr := w.releaser.Release(ctx, id); relErr != nil {
			w.logger.Printf("release slot for stale document %d: %v", id, relErr)
		}
	}
	count := int64(len(ids))
	if count > 0 {
		w.logger.Printf("reset %d stale processing document(s) to pending", count)
		recordStaleReset(ctx, count)
	}
	return count, nil
}

// Run consumes jobs until the context is cancelled. Each message is
// acknowledged exactly once regardless of outcome; the pipeline itself owns
// document state transitions, so a processing error never re-queues the entry.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Printf("consuming stream %q", w.stream)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.reclaim(ctx)
		msgs, err := w.consumer.Read(ctx, w.stream, queue.WithBlock(w.readBlock), queue.WithCount(w.readCount))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Printf("read error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

// reclaim sweeps the group's pending entries for jobs a dead consumer never
// acknowledged and runs them here. Consumers get a unique name per process,
// so without this a crashed worker's in-flight entries would sit unread
// forever. The cursor advances across calls and wraps back to the start once
// the pending list has been scanned.
func (w *Worker) reclaim(ctx context.Context) {
	msgs, next, err := w.consumer.AutoClaim(ctx, w.stream, w.claimMinIdle, w.claimCursor, w.readCount)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Printf("reclaim error: %v", err)
		}
		return
	}
	w.claimCursor = next
	for _, msg := range msgs {
		w.logger.Printf("reclaimed abandoned job %s", msg.ID)
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	defer func() {
		if err := w.consumer.Ack(ctx, w.stream, msg.ID); err != nil {
			w.logger.Printf("ack %s: %v", msg.ID, err)
		}
	}()

	var payload queue.ProcessPayload
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil || payload.DocumentID <= 0 {
		w.logger.Printf("dropping malformed job %s: %v", msg.ID, err)
		return
	}

	err := w.pipeline.Process(ctx, payload.DocumentID)
	switch {
	case err == nil:
		w.logger.Printf("document %d processed", payload.DocumentID)
		recordProcessed(ctx)
	case errors.Is(err, pipeline.ErrAlreadyProcessing):
		// Another worker holds the claim; leave its dedup slot alone.
		w.logger.Printf("document %d already claimed, skipping", payload.DocumentID)
		recordSkipped(ctx)
		return
	case pipeline.IsStateError(err):
		w.logger.Printf("document %d skipped: %v", payload.DocumentID, err)
		recordSkipped(ctx)
	default:
		w.logger.Printf("document %d failed: %v", payload.DocumentID, err)
		recordFailed(ctx, pipeline.KindOf(err).String())
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if relErr := w.releaser.Release(releaseCtx, payload.DocumentID); relErr != nil {
		w.logger.Printf("release slot for document %d: %v", payload.DocumentID, relErr)
	}
}
