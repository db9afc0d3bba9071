package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docsync-server/core"
	"docsync-server/metrics"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFlushDelay = 5 * time.Second
	flushTimeout      = 30 * time.Second
)

// Flush triggers, used as the metrics "trigger" label.
const (
	triggerDebounce = "debounce"
	triggerVacated  = "vacated"
	triggerShutdown = "shutdown"
)

// Locker serializes work per document id.
type Locker interface {
	Lock(key interface{})
	Unlock(key interface{})
}

type pendingFlush struct {
	timer clock.Timer
}

// Scheduler debounces snapshot appends: at most one pending timer per
// document, reset on every accepted update. The content written is always
// the cached state at fire time.
type Scheduler struct {
	clock   clock.Clock
	delay   time.Duration
	cache   *DocumentCache
	store   core.SnapshotStore
	locks   Locker
	metrics *metrics.Collectors

	mu     sync.Mutex
	timers map[string]*pendingFlush
}

func NewScheduler(clk clock.Clock, delay time.Duration, cache *DocumentCache, store core.SnapshotStore, locks Locker, m *metrics.Collectors) *Scheduler {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Scheduler{
		clock:   clk,
		delay:   delay,
		cache:   cache,
		store:   store,
		locks:   locks,
		metrics: m,
		timers:  make(map[string]*pendingFlush),
	}
}

// Schedule arms or resets the debounce timer for documentID.
func (s *Scheduler) Schedule(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[documentID]; ok {
		p.timer.Stop()
	}
	p := &pendingFlush{}
	p.timer = s.clock.AfterFunc(s.delay, func() {
		s.fire(documentID, p)
	})
	s.timers[documentID] = p
}

func (s *Scheduler) fire(documentID string, p *pendingFlush) {
	s.locks.Lock(documentID)
	defer s.locks.Unlock(documentID)

	// A newer Schedule or a FlushNow may have replaced this timer while we
	// waited for the lock.
	s.mu.Lock()
	current, ok := s.timers[documentID]
	if !ok || current != p {
		s.mu.Unlock()
		return
	}
	delete(s.timers, documentID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = s.flush(ctx, documentID, triggerDebounce)
}

// FlushNow cancels any pending timer and persists immediately. The caller
// must hold documentID's lock.
func (s *Scheduler) FlushNow(ctx context.Context, documentID string) error {
	s.Cancel(documentID)
	return s.flush(ctx, documentID, triggerVacated)
}

// Cancel stops the pending timer for documentID, if any.
func (s *Scheduler) Cancel(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.timers[documentID]; ok {
		p.timer.Stop()
		delete(s.timers, documentID)
	}
}

func (s *Scheduler) Pending(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[documentID]
	return ok
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) flush(ctx context.Context, documentID, trigger string) error {
	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"trigger":     trigger,
	})

	if !s.cache.Dirty(documentID) {
		log.Debug("Nothing to persist")
		return nil
	}
	data, err := s.cache.EncodeFull(documentID)
	if err != nil {
		log.Debug("Document evicted before flush")
		return nil
	}

	start := time.Now()
	version, err := s.store.AppendSnapshot(ctx, documentID, data)
	s.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Flushes.WithLabelValues(trigger, "error").Inc()
		log.WithError(err).Error("Failed to persist document snapshot")
		return fmt.Errorf("%w: %s: %v", core.ErrPersistence, documentID, err)
	}

	s.cache.MarkClean(documentID)
	s.metrics.Flushes.WithLabelValues(trigger, "ok").Inc()
	log.WithFields(logrus.Fields{
		"version":     version.Version,
		"data_length": len(data),
	}).Info("Document snapshot persisted")
	return nil
}
