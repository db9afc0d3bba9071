package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docsync-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Store keeps the snapshot ledger and the directory in process memory.
// Nothing survives a restart.
type Store struct {
	mu        sync.RWMutex
	versions  map[string][]core.Version
	documents map[string]core.Document
	members   map[string]map[string]bool
}

func NewStore() *Store {
	return &Store{
		versions:  make(map[string][]core.Version),
		documents: make(map[string]core.Document),
		members:   make(map[string]map[string]bool),
	}
}

func (s *Store) FetchLatestSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[documentID]
	if len(versions) == 0 {
		return nil, nil
	}
	return copyBytes(versions[len(versions)-1].Data), nil
}

func (s *Store) AppendSnapshot(ctx context.Context, documentID string, data []byte) (*core.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	s.mu.Lock()
	v := core.Version{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		Version:    int64(len(s.versions[documentID]) + 1),
		Size:       len(data),
		CreatedAt:  time.Now().UTC(),
		Data:       copyBytes(data),
	}
	s.versions[documentID] = append(s.versions[documentID], v)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"version":     v.Version,
		"data_length": len(data),
	}).Debug("Snapshot appended")

	v.Data = nil
	return &v, nil
}

func (s *Store) ListVersions(ctx context.Context, documentID string) ([]core.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[documentID]
	list := make([]core.Version, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		v.Data = nil
		list = append(list, v)
	}
	return list, nil
}

func (s *Store) GetVersion(ctx context.Context, documentID string, version int64) (*core.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[documentID]
	if version < 1 || version > int64(len(versions)) {
		return nil, fmt.Errorf("%w: %s@%d", core.ErrVersionNotFound, documentID, version)
	}
	v := versions[version-1]
	v.Data = copyBytes(v.Data)
	return &v, nil
}

func (s *Store) FindDocument(ctx context.Context, documentID string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *Store) IsActiveMember(ctx context.Context, workspaceID, subjectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[workspaceID][subjectID], nil
}

func (s *Store) PutDocument(ctx context.Context, document core.Document) error {
	if document.ID == "" || document.WorkspaceID == "" {
		return fmt.Errorf("%w: document id and workspace id are required", core.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[document.ID] = document
	return nil
}

func (s *Store) PutMember(ctx context.Context, member core.Member) error {
	if member.WorkspaceID == "" || member.UserID == "" {
		return fmt.Errorf("%w: workspace id and user id are required", core.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.members[member.WorkspaceID]
	if !ok {
		ws = make(map[string]bool)
		s.members[member.WorkspaceID] = ws
	}
	ws[member.UserID] = member.Active
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}
