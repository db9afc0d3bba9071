package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"docsync-server/auth"
	"docsync-server/core"
	"docsync-server/crdt"
)

// setEngine is a grow-only set CRDT: updates are JSON arrays of strings and
// merging is set union, so apply is commutative and idempotent.
type setEngine struct{}

type setState struct {
	items map[string]struct{}
}

func (setEngine) New() crdt.State {
	return &setState{items: make(map[string]struct{})}
}

func (e setEngine) Decode(data []byte) (crdt.State, error) {
	s := e.New().(*setState)
	if err := s.Apply(data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *setState) Apply(update []byte) error {
	var items []string
	if err := json.Unmarshal(update, &items); err != nil {
		return fmt.Errorf("bad set update: %w", err)
	}
	for _, item := range items {
		s.items[item] = struct{}{}
	}
	return nil
}

func (s *setState) Encode() []byte {
	items := make([]string, 0, len(s.items))
	for item := range s.items {
		items = append(items, item)
	}
	sort.Strings(items)
	data, _ := json.Marshal(items)
	return data
}

func setUpdate(items ...string) []byte {
	data, _ := json.Marshal(items)
	return data
}

type emitted struct {
	event   string
	payload map[string]any
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []emitted
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, _ := payload.(map[string]any)
	c.events = append(c.events, emitted{event: event, payload: m})
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) eventsNamed(event string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, e := range c.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (c *fakeConn) lastError() string {
	errs := c.eventsNamed(EventError)
	if len(errs) == 0 {
		return ""
	}
	msg, _ := errs[len(errs)-1]["message"].(string)
	return msg
}

type fakeAuth struct {
	tokens map[string]string // token -> subject
}

func (a *fakeAuth) Authenticate(h auth.Handshake) (*core.Identity, error) {
	subject, ok := a.tokens[h.Token]
	if !ok {
		return nil, core.ErrAuthentication
	}
	return &core.Identity{SubjectID: subject}, nil
}

type fakeDirectory struct {
	mu        sync.Mutex
	documents map[string]core.Document
	members   map[string]bool // workspace/subject -> active
	findErr   error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		documents: make(map[string]core.Document),
		members:   make(map[string]bool),
	}
}

func (d *fakeDirectory) FindDocument(ctx context.Context, documentID string) (*core.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return nil, d.findErr
	}
	doc, ok := d.documents[documentID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (d *fakeDirectory) IsActiveMember(ctx context.Context, workspaceID, subjectID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members[workspaceID+"/"+subjectID], nil
}

func (d *fakeDirectory) setMember(workspaceID, subjectID string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[workspaceID+"/"+subjectID] = active
}

type fakeStore struct {
	mu        sync.Mutex
	versions  map[string][]core.Version
	appendErr error
	fetchErr  error
	attempts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{versions: make(map[string][]core.Version)}
}

func (s *fakeStore) FetchLatestSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	versions := s.versions[documentID]
	if len(versions) == 0 {
		return nil, nil
	}
	return versions[len(versions)-1].Data, nil
}

func (s *fakeStore) AppendSnapshot(ctx context.Context, documentID string, data []byte) (*core.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	v := core.Version{
		ID:         fmt.Sprintf("v-%d", s.attempts),
		DocumentID: documentID,
		Version:    int64(len(s.versions[documentID]) + 1),
		Size:       len(data),
		CreatedAt:  time.Now(),
		Data:       append([]byte(nil), data...),
	}
	s.versions[documentID] = append(s.versions[documentID], v)
	return &v, nil
}

func (s *fakeStore) ListVersions(ctx context.Context, documentID string) ([]core.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Version(nil), s.versions[documentID]...), nil
}

func (s *fakeStore) GetVersion(ctx context.Context, documentID string, version int64) (*core.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[documentID] {
		if v.Version == version {
			return &v, nil
		}
	}
	return nil, core.ErrVersionNotFound
}

func (s *fakeStore) count(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions[documentID])
}

func (s *fakeStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeStore) setAppendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

func (s *fakeStore) seed(documentID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[documentID] = append(s.versions[documentID], core.Version{
		DocumentID: documentID,
		Version:    int64(len(s.versions[documentID]) + 1),
		Data:       data,
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// decodeSet turns a set-engine encoding into its sorted items.
func decodeSet(t *testing.T, data []byte) []string {
	t.Helper()
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("failed to decode set state %q: %v", data, err)
	}
	return items
}
