package collab

import (
	"context"
	"fmt"
	"sync"

	"docsync-server/core"
	"docsync-server/crdt"

	"github.com/sirupsen/logrus"
)

type cacheEntry struct {
	state crdt.State
	// dirty is set by Apply and cleared once the encoded state is persisted.
	dirty bool
}

// DocumentCache holds at most one replicated state per document, lazily
// materialized from the newest persisted snapshot.
//
// The map itself is guarded internally; per-document operations must be
// serialized by the caller (the Hub's document lock).
type DocumentCache struct {
	engine crdt.Engine
	store  core.SnapshotStore

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewDocumentCache(engine crdt.Engine, store core.SnapshotStore) *DocumentCache {
	return &DocumentCache{
		engine:  engine,
		store:   store,
		entries: make(map[string]*cacheEntry),
	}
}

func (c *DocumentCache) get(documentID string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[documentID]
	return entry, ok
}

// GetOrCreate returns whether the state was already cached. A snapshot that
// fails to decode yields core.ErrStateDecode and nothing is cached.
func (c *DocumentCache) GetOrCreate(ctx context.Context, documentID string) (bool, error) {
	if _, ok := c.get(documentID); ok {
		return true, nil
	}

	log := logrus.WithField("document_id", documentID)
	data, err := c.store.FetchLatestSnapshot(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch snapshot for %s: %w", documentID, err)
	}

	var state crdt.State
	if len(data) == 0 {
		state = c.engine.New()
		log.Debug("No persisted snapshot, starting from empty state")
	} else {
		state, err = c.engine.Decode(data)
		if err != nil {
			log.WithError(err).Error("Persisted snapshot could not be decoded")
			return false, fmt.Errorf("%w: %s: %v", core.ErrStateDecode, documentID, err)
		}
		log.WithField("data_length", len(data)).Debug("Loaded document state from snapshot")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[documentID]; ok {
		return true, nil
	}
	c.entries[documentID] = &cacheEntry{state: state}
	return false, nil
}

func (c *DocumentCache) Apply(documentID string, update []byte) error {
	entry, ok := c.get(documentID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotCached, documentID)
	}
	if err := entry.state.Apply(update); err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	entry.dirty = true
	return nil
}

// EncodeFull reflects every applied update, persisted or not.
func (c *DocumentCache) EncodeFull(documentID string) ([]byte, error) {
	entry, ok := c.get(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotCached, documentID)
	}
	return entry.state.Encode(), nil
}

func (c *DocumentCache) Dirty(documentID string) bool {
	entry, ok := c.get(documentID)
	return ok && entry.dirty
}

func (c *DocumentCache) MarkClean(documentID string) {
	if entry, ok := c.get(documentID); ok {
		entry.dirty = false
	}
}

func (c *DocumentCache) Has(documentID string) bool {
	_, ok := c.get(documentID)
	return ok
}

// Evict drops the cached state; the next GetOrCreate reloads from storage.
func (c *DocumentCache) Evict(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, documentID)
}

func (c *DocumentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IDs returns the cached document ids.
func (c *DocumentCache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}
