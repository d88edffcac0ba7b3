package writebehind

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) flush(_ context.Context, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, keys)
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestFlushOnceAfterQuietWindow(t *testing.T) {
	clk := clock.NewMock()
	rec := &recorder{}
	q := New[string](context.Background(), time.Second, clk, rec.flush)

	q.Add("a")
	clk.Add(600 * time.Millisecond)
	q.Add("b")
	q.Add("a")
	clk.Add(600 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("new arrivals must defer the flush, got %v", got)
	}
	if p := q.Pending(); len(p) != 2 {
		t.Fatalf("duplicates must coalesce, pending = %v", p)
	}

	clk.Add(500 * time.Millisecond)
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	batch := rec.snapshot()[0]
	if len(batch) != 2 || batch[0] != "a" || batch[1] != "b" {
		t.Fatalf("unexpected batch %v", batch)
	}
	if len(q.Pending()) != 0 {
		t.Fatalf("pending set must be cleared after flush")
	}
}

func TestExplicitFlushAndClose(t *testing.T) {
	clk := clock.NewMock()
	rec := &recorder{}
	q := New[string](context.Background(), time.Second, clk, rec.flush)

	q.Flush(context.Background())
	if len(rec.snapshot()) != 0 {
		t.Fatalf("empty flush must not call the flush func")
	}

	q.Add("x")
	q.Close(context.Background())
	if got := rec.snapshot(); len(got) != 1 || got[0][0] != "x" {
		t.Fatalf("close must flush pending keys, got %v", got)
	}
	if q.Add("y") {
		t.Fatalf("closed queue must reject keys")
	}

	clk.Add(2 * time.Second)
	time.Sleep(5 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("stopped timer fired after close: %v", got)
	}
}
