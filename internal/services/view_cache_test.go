package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"estados/internal/events"
	"estados/internal/repository/repotest"
	"estados/pkg/logger"
)

func newTestViewCache(t *testing.T, store *repotest.Store, clk clock.Clock, log *logger.Logger) *ViewCache {
	t.Helper()
	c := NewViewCache(context.Background(), store.Views(), ViewCacheConfig{TTL: 45 * time.Second, FlushDelay: time.Second}, clk, log)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestRecordViewIsIdempotent(t *testing.T) {
	store := repotest.NewStore(nil)
	c := newTestViewCache(t, store, clock.NewMock(), nil)
	id, viewer := uuid.New(), uuid.New()

	if !c.RecordView(id, viewer) {
		t.Fatalf("first view must count")
	}
	once, _ := c.Get(id)
	if c.RecordView(id, viewer) {
		t.Fatalf("second view must be a no-op")
	}
	twice, ok := c.Get(id)
	if !ok || once != twice || twice.Count != 1 || !twice.Viewed {
		t.Fatalf("got %+v then %+v", once, twice)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d", c.Pending())
	}
}

func TestRecordViewWithoutViewerIsNoop(t *testing.T) {
	c := newTestViewCache(t, repotest.NewStore(nil), clock.NewMock(), nil)
	id := uuid.New()

	if c.RecordView(id, uuid.Nil) {
		t.Fatalf("anonymous view counted")
	}
	if st, ok := c.Get(id); ok || st.Count != 0 || st.Viewed {
		t.Fatalf("expected default state, got %+v", st)
	}
}

func TestConcurrentViewersFlushToExactCount(t *testing.T) {
	store := repotest.NewStore(nil)
	id := uuid.New()
	const viewers = 8

	var caches []*ViewCache
	for i := 0; i < viewers; i++ {
		viewer := uuid.New()
		c := newTestViewCache(t, store, clock.NewMock(), nil)
		c.RecordView(id, viewer)
		caches = append(caches, c)

		// A second tab of the same viewer races the first one.
		tab := newTestViewCache(t, store, clock.NewMock(), nil)
		tab.RecordView(id, viewer)
		caches = append(caches, tab)
	}

	var wg sync.WaitGroup
	for _, c := range caches {
		wg.Add(1)
		go func(c *ViewCache) {
			defer wg.Done()
			c.Flush(context.Background())
		}(c)
	}
	wg.Wait()

	n, _ := store.Views().Count(context.Background(), id)
	if n != viewers {
		t.Fatalf("remote count = %d, want %d", n, viewers)
	}
}

func TestFlushWaitsForQuietWindow(t *testing.T) {
	store := repotest.NewStore(nil)
	clk := clock.NewMock()
	c := newTestViewCache(t, store, clk, nil)
	a, b, viewer := uuid.New(), uuid.New(), uuid.New()

	c.RecordView(a, viewer)
	clk.Add(700 * time.Millisecond)
	c.RecordView(b, viewer)
	clk.Add(700 * time.Millisecond)
	if store.CallCount("view.insert") != 0 {
		t.Fatalf("flush ran before the quiet window elapsed")
	}

	clk.Add(300 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for store.CallCount("view.insert") < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := store.CallCount("view.insert"); got != 2 {
		t.Fatalf("expected one flush of 2 inserts, got %d", got)
	}
}

func TestFetchMergesUpAndKeepsViewedFlag(t *testing.T) {
	store := repotest.NewStore(nil)
	c := newTestViewCache(t, store, clock.NewMock(), nil)
	id, viewer := uuid.New(), uuid.New()
	for i := 0; i < 3; i++ {
		store.SeedView(id, uuid.New())
	}

	c.RecordView(id, viewer)
	c.Fetch(context.Background(), id)
	st, _ := c.Get(id)
	if st.Count != 3 || !st.Viewed {
		t.Fatalf("expected count 3 with viewed flag, got %+v", st)
	}

	// Fewer rows than the local count never lower it outside a refresh.
	other := uuid.New()
	c.RecordView(other, viewer)
	c.Fetch(context.Background(), other)
	if st, _ := c.Get(other); st.Count != 1 {
		t.Fatalf("background fetch lowered the count: %+v", st)
	}

	c.Refresh(context.Background(), other, viewer)
	if st, _ := c.Get(other); st.Count != 0 || !st.Viewed {
		t.Fatalf("refresh must overwrite the count and keep viewed: %+v", st)
	}
}

func TestStaleEntryKeepsViewedFlag(t *testing.T) {
	clk := clock.NewMock()
	c := newTestViewCache(t, repotest.NewStore(nil), clk, nil)
	id, viewer := uuid.New(), uuid.New()

	c.RecordView(id, viewer)
	clk.Add(46 * time.Second)

	st, fresh := c.Get(id)
	if fresh {
		t.Fatalf("entry should be stale")
	}
	if !st.Viewed {
		t.Fatalf("viewed flag must survive the TTL")
	}
	if c.RecordView(id, viewer) {
		t.Fatalf("stale entry must still block a second view")
	}
}

func TestPrefetchUsesOneRoundTrip(t *testing.T) {
	store := repotest.NewStore(nil)
	c := newTestViewCache(t, store, clock.NewMock(), nil)
	viewer := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	store.SeedView(ids[0], viewer)
	store.SeedView(ids[0], uuid.New())
	store.SeedView(ids[2], uuid.New())

	if err := c.Prefetch(context.Background(), ids, viewer); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if store.CallCount("view.stats") != 1 {
		t.Fatalf("expected a single stats query, got %d", store.CallCount("view.stats"))
	}
	want := []ViewState{{Count: 2, Viewed: true}, {}, {Count: 1}}
	for i, id := range ids {
		if st, ok := c.Get(id); !ok || st != want[i] {
			t.Fatalf("id %d: got %+v", i, st)
		}
	}
}

func TestViewFailuresAreLoggedNotSurfaced(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := repotest.NewStore(nil)
	store.Fail = func(op string) error {
		if op == "view.insert" || op == "view.stats" {
			return errors.New("connection reset")
		}
		return nil
	}
	c := newTestViewCache(t, store, clock.NewMock(), logger.Wrap(zap.New(core)))
	id, viewer := uuid.New(), uuid.New()

	c.RecordView(id, viewer)
	c.Flush(context.Background())
	c.Fetch(context.Background(), id)

	if st, _ := c.Get(id); st.Count != 1 || !st.Viewed {
		t.Fatalf("optimistic state lost after failures: %+v", st)
	}
	if c.Pending() != 0 {
		t.Fatalf("failed ids must be dropped, not retried")
	}
	if logs.FilterMessage("insert view").Len() != 1 || logs.FilterMessage("fetch views").Len() != 1 {
		t.Fatalf("failures not logged: %v", logs.All())
	}
}

func TestViewChangeTriggersFetchForCachedEstado(t *testing.T) {
	store := repotest.NewStore(nil)
	c := newTestViewCache(t, store, clock.NewMock(), nil)
	id, viewer, other := uuid.New(), uuid.New(), uuid.New()

	c.RecordView(id, viewer)
	c.Flush(context.Background())
	store.SeedView(id, other)

	ev, _ := events.NewChange(events.TableViews, events.ChangeInsert, id, other,
		map[string]string{"estado_id": id.String(), "viewer_id": other.String()})
	c.HandleChange(context.Background(), ev)

	if st, _ := c.Get(id); st.Count != 2 {
		t.Fatalf("expected count 2 after change, got %+v", st)
	}

	unknown := uuid.New()
	ev.EstadoID = unknown
	c.HandleChange(context.Background(), ev)
	if _, ok := c.Get(unknown); ok {
		t.Fatalf("changes for uncached estados must not populate the cache")
	}
}
