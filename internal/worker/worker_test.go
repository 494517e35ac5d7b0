package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/quaero-ai/quaero/internal/pipeline"
	"github.com/quaero-ai/quaero/internal/queue"
)

type fakeConsumer struct {
	acked   []string
	claimed []queue.Message
	next    string
	claims  []string
}

func (f *fakeConsumer) Read(ctx context.Context, stream string, opts ...queue.ConsumerOption) ([]queue.Message, error) {
	return nil, nil
}

func (f *fakeConsumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]queue.Message, string, error) {
	f.claims = append(f.claims, start)
	next := f.next
	if next == "" {
		next = "0-0"
	}
	msgs := f.claimed
	f.claimed = nil
	return msgs, next, nil
}

func (f *fakeConsumer) Ack(ctx context.Context, stream string, ids ...string) error {
	f.acked = append(f.acked, ids...)
	return nil
}

type fakeReleaser struct {
	released []int64
}

func (f *fakeReleaser) Release(ctx context.Context, documentID int64) error {
	f.released = append(f.released, documentID)
	return nil
}

type fakeResetter struct {
	ids     []int64
	err     error
	cutoff  time.Time
	message string
}

func (f *fakeResetter) ResetStaleProcessing(ctx context.Context, cutoff time.Time, message string) ([]int64, error) {
	f.cutoff = cutoff
	f.message = message
	return f.ids, f.err
}

type fakePipeline struct {
	err       error
	processed []int64
}

func (f *fakePipeline) Process(ctx context.Context, documentID int64) error {
	f.processed = append(f.processed, documentID)
	return f.err
}

func testWorker(cons *fakeConsumer, rel *fakeReleaser, reset *fakeResetter, pipe *fakePipeline) *Worker {
	logger := log.New(io.Discard, "", 0)
	return New(logger, cons, rel, reset, pipe, Config{Stream: "document.process"})
}

func jobMessage(t *testing.T, documentID int64) queue.Message {
	t.Helper()
	data, err := json.Marshal(queue.ProcessPayload{DocumentID: documentID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return queue.Message{
		ID: "1-0",
		Envelope: queue.Envelope{
			EventID:    "evt-1",
			EventType:  queue.EventDocumentProcess,
			OccurredAt: time.Now().UTC(),
			Data:       data,
		},
	}
}

func TestHandleSuccessAcksAndReleases(t *testing.T) {
	cons := &fakeConsumer{}
	rel := &fakeReleaser{}
	pipe := &fakePipeline{}
	w := testWorker(cons, rel, &fakeResetter{}, pipe)

	w.handle(context.Background(), jobMessage(t, 7))

	if len(pipe.processed) != 1 || pipe.processed[0] != 7 {
		t.Fatalf("expected document 7 processed, got %v", pipe.processed)
	}
	if len(cons.acked) != 1 {
		t.Fatalf("expected one ack, got %v", cons.acked)
	}
	if len(rel.released) != 1 || rel.released[0] != 7 {
		t.Fatalf("expected slot release for document 7, got %v", rel.released)
	}
}

func TestHandleStateErrorStillReleases(t *testing.T) {
	cons := &fakeConsumer{}
	rel := &fakeReleaser{}
	pipe := &fakePipeline{err: pipeline.ErrDocumentNotFound}
	w := testWorker(cons, rel, &fakeResetter{}, pipe)

	w.handle(context.Background(), jobMessage(t, 8))

	if len(cons.acked) != 1 {
		t.Fatalf("state errors must still ack, got %v", cons.acked)
	}
	if len(rel.released) != 1 {
		t.Fatalf("state errors must release the slot, got %v", rel.released)
	}
}

func TestHandleConcurrentClaimKeepsSlot(t *testing.T) {
	cons := &fakeConsumer{}
	rel := &fakeReleaser{}
	pipe := &fakePipeline{err: pipeline.ErrAlreadyProcessing}
	w := testWorker(cons, rel, &fakeResetter{}, pipe)

	w.handle(context.Background(), jobMessage(t, 9))

	if len(cons.acked) != 1 {
		t.Fatalf("expected ack, got %v", cons.acked)
	}
	if len(rel.released) != 0 {
		t.Fatalf("slot must stay held while another worker processes, got %v", rel.released)
	}
}

func TestHandleProcessingFailureReleases(t *testing.T) {
	cons := &fakeConsumer{}
	rel := &fakeReleaser{}
	pipe := &fakePipeline{err: errors.New("embedding provider down")}
	w := testWorker(cons, rel, &fakeResetter{}, pipe)

	w.handle(context.Background(), jobMessage(t, 10))

	if len(rel.released) != 1 {
		t.Fatalf("terminal failures must release the slot, got %v", rel.released)
	}
}

func TestHandleMalformedPayloadAcked(t *testing.T) {
	cons := &fakeConsumer{}
	rel := &fakeReleaser{}
	pipe := &fakePipeline{}
	w := testWorker(cons, rel, &fakeResetter{}, pipe)

	msg := queue.Message{ID: "2-0", Envelope: queue.Envelope{Data: []byte("garbage")}}
	w.handle(context.Background(), msg)

	if len(pipe.processed) != 0 {
		t.Fatalf("malformed payloads must not reach the pipeline")
	}
	if len(cons.acked) != 1 {
		t.Fatalf("malformed payloads must be acked, got %v", cons.acked)
	}
	if len(rel.released) != 0 {
		t.Fatalf("no document id, nothing to release")
	}
}

func TestRecoverStale(t *testing.T) {
	reset := &fakeResetter{ids: []int64{4, 5, 6}}
	w := testWorker(&fakeConsumer{}, &fakeReleaser{}, reset, &fakePipeline{})

	before := time.Now().Add(-30 * time.Minute)
	count, err := w.RecoverStale(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 documents reset, got %d", count)
	}
	if reset.cutoff.After(time.Now()) || reset.cutoff.Before(before.Add(-time.Minute)) {
		t.Fatalf("cutoff not derived from staleAfter: %v", reset.cutoff)
	}
	if reset.message == "" {
		t.Fatalf("expected a retry message for affected documents")
	}
}

// A document abandoned mid-processing by a crashed worker must be enqueueable
// again right after recovery, not after its dedup key's TTL lapses: the sweep
// releases the slot of every document it flips back to pending.
func TestRecoverStaleReleasesDedupSlots(t *testing.T) {
	reset := &fakeResetter{ids: []int64{7, 12}}
	rel := &fakeReleaser{}
	w := testWorker(&fakeConsumer{}, rel, reset, &fakePipeline{})

	if _, err := w.RecoverStale(context.Background(), 30*time.Minute); err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	if len(rel.released) != 2 || rel.released[0] != 7 || rel.released[1] != 12 {
		t.Fatalf("expected slots released for documents [7 12], got %v", rel.released)
	}
}

func TestReclaimProcessesAbandonedJobs(t *testing.T) {
	cons := &fakeConsumer{claimed: []queue.Message{jobMessage(t, 21)}, next: "21-1"}
	rel := &fakeReleaser{}
	pipe := &fakePipeline{}
	w := testWorker(cons, rel, &fakeResetter{}, pipe)

	w.reclaim(context.Background())

	if len(cons.claims) != 1 || cons.claims[0] != "0-0" {
		t.Fatalf("first sweep must start from 0-0, got %v", cons.claims)
	}
	if len(pipe.processed) != 1 || pipe.processed[0] != 21 {
		t.Fatalf("expected reclaimed document 21 processed, got %v", pipe.processed)
	}
	if len(cons.acked) != 1 {
		t.Fatalf("reclaimed entries must be acked, got %v", cons.acked)
	}
	if len(rel.released) != 1 || rel.released[0] != 21 {
		t.Fatalf("expected slot release for document 21, got %v", rel.released)
	}

	w.reclaim(context.Background())
	if cons.claims[1] != "21-1" {
		t.Fatalf("next sweep must resume from the returned cursor, got %v", cons.claims)
	}
}
