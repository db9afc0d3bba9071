package collab

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"docsync-server/metrics"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type schedulerEnv struct {
	clock   *testclock.Clock
	cache   *DocumentCache
	store   *fakeStore
	locks   *kmutex.Kmutex
	metrics *metrics.Collectors
	sched   *Scheduler
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()
	env := &schedulerEnv{
		clock:   testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		store:   newFakeStore(),
		locks:   kmutex.New(),
		metrics: metrics.New(nil),
	}
	env.cache = NewDocumentCache(setEngine{}, env.store)
	env.sched = NewScheduler(env.clock, DefaultFlushDelay, env.cache, env.store, env.locks, env.metrics)
	if _, err := env.cache.GetOrCreate(context.Background(), "doc-1"); err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	t.Cleanup(env.sched.Stop)
	return env
}

func TestScheduler_DebounceCoalesces(t *testing.T) {
	env := newSchedulerEnv(t)

	for _, item := range []string{"a", "b", "c"} {
		if err := env.cache.Apply("doc-1", setUpdate(item)); err != nil {
			t.Fatalf("Apply() failed: %v", err)
		}
		env.sched.Schedule("doc-1")
		env.clock.Advance(DefaultFlushDelay / 2)
	}
	if env.store.attemptCount() != 0 {
		t.Fatalf("flushed before the quiet period elapsed")
	}

	if err := env.clock.WaitAdvance(DefaultFlushDelay, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() failed: %v", err)
	}
	waitFor(t, "debounced flush", func() bool { return env.store.count("doc-1") == 1 })

	latest, _ := env.store.FetchLatestSnapshot(context.Background(), "doc-1")
	if got := decodeSet(t, latest); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("snapshot = %v, want [a b c]", got)
	}
	waitFor(t, "clean state", func() bool {
		env.locks.Lock("doc-1")
		defer env.locks.Unlock("doc-1")
		return !env.cache.Dirty("doc-1")
	})
	if env.sched.Pending("doc-1") {
		t.Error("timer should be cleared after it fires")
	}
	if got := testutil.ToFloat64(env.metrics.Flushes.WithLabelValues(triggerDebounce, "ok")); got != 1 {
		t.Errorf("debounce flushes = %v, want 1", got)
	}
}

func TestScheduler_FlushNowCancelsTimer(t *testing.T) {
	env := newSchedulerEnv(t)

	_ = env.cache.Apply("doc-1", setUpdate("a"))
	env.sched.Schedule("doc-1")

	env.locks.Lock("doc-1")
	err := env.sched.FlushNow(context.Background(), "doc-1")
	env.locks.Unlock("doc-1")
	if err != nil {
		t.Fatalf("FlushNow() failed: %v", err)
	}
	if env.sched.Pending("doc-1") {
		t.Error("FlushNow() should cancel the pending timer")
	}

	env.clock.Advance(2 * DefaultFlushDelay)
	time.Sleep(20 * time.Millisecond)
	if got := env.store.attemptCount(); got != 1 {
		t.Errorf("append attempts = %d, want 1", got)
	}
}

func TestScheduler_SkipsCleanDocument(t *testing.T) {
	env := newSchedulerEnv(t)

	env.locks.Lock("doc-1")
	err := env.sched.FlushNow(context.Background(), "doc-1")
	env.locks.Unlock("doc-1")
	if err != nil {
		t.Fatalf("FlushNow() failed: %v", err)
	}
	if got := env.store.attemptCount(); got != 0 {
		t.Errorf("append attempts = %d, want 0 for a clean document", got)
	}
}

func TestScheduler_FailureKeepsDirty(t *testing.T) {
	env := newSchedulerEnv(t)
	env.store.setAppendErr(errors.New("bucket unavailable"))

	_ = env.cache.Apply("doc-1", setUpdate("a"))
	env.sched.Schedule("doc-1")
	if err := env.clock.WaitAdvance(DefaultFlushDelay, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() failed: %v", err)
	}
	waitFor(t, "failed flush", func() bool {
		return testutil.ToFloat64(env.metrics.Flushes.WithLabelValues(triggerDebounce, "error")) == 1
	})

	env.locks.Lock("doc-1")
	dirty := env.cache.Dirty("doc-1")
	env.locks.Unlock("doc-1")
	if !dirty {
		t.Fatal("failed flush should leave the document dirty")
	}

	env.store.setAppendErr(nil)
	env.locks.Lock("doc-1")
	err := env.sched.FlushNow(context.Background(), "doc-1")
	env.locks.Unlock("doc-1")
	if err != nil {
		t.Fatalf("retry FlushNow() failed: %v", err)
	}
	if got := env.store.count("doc-1"); got != 1 {
		t.Errorf("snapshots = %d, want 1 after retry", got)
	}
}

func TestScheduler_FlushNowError(t *testing.T) {
	env := newSchedulerEnv(t)
	env.store.setAppendErr(errors.New("bucket unavailable"))
	_ = env.cache.Apply("doc-1", setUpdate("a"))

	env.locks.Lock("doc-1")
	err := env.sched.FlushNow(context.Background(), "doc-1")
	env.locks.Unlock("doc-1")

	if err == nil {
		t.Fatal("FlushNow() should report the append failure")
	}
	if got := testutil.ToFloat64(env.metrics.Flushes.WithLabelValues(triggerVacated, "error")); got != 1 {
		t.Errorf("vacated flush errors = %v, want 1", got)
	}
}
