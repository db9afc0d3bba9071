package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"docsync-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const snapshotExt = ".snapshot"

// Store writes each version to its own file:
//
//	<base>/<documentID>/<version, zero padded>-<ulid>.snapshot
type Store struct {
	basePath string

	// mu serializes appends so version assignment is race free within the
	// process.
	mu sync.Mutex
}

func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

type entry struct {
	version int64
	id      ulid.ULID
	name    string
}

// documentPath rejects ids that would escape the base directory.
func (s *Store) documentPath(documentID string) (string, error) {
	if documentID == "" || documentID == "." || documentID == ".." ||
		filepath.Base(documentID) != documentID || strings.ContainsAny(documentID, `/\`) {
		return "", fmt.Errorf("%w: invalid document id %q", core.ErrValidation, documentID)
	}
	return filepath.Join(s.basePath, documentID), nil
}

// entries lists the document's versions, oldest first.
func (s *Store) entries(documentID string) (string, []entry, error) {
	dir, err := s.documentPath(documentID)
	if err != nil {
		return "", nil, err
	}
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return dir, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	list := make([]entry, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), snapshotExt) {
			continue
		}
		e, ok := parseName(f.Name())
		if !ok {
			logrus.WithField("file", filepath.Join(dir, f.Name())).Warn("Skipping unrecognized snapshot file")
			continue
		}
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].version < list[j].version })
	return dir, list, nil
}

func parseName(name string) (entry, bool) {
	base := strings.TrimSuffix(name, snapshotExt)
	num, id, ok := strings.Cut(base, "-")
	if !ok {
		return entry{}, false
	}
	version, err := strconv.ParseInt(num, 10, 64)
	if err != nil || version < 1 {
		return entry{}, false
	}
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return entry{}, false
	}
	return entry{version: version, id: parsed, name: name}, true
}

func (s *Store) FetchLatestSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	dir, list, err := s.entries(documentID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, list[len(list)-1].name))
	if err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Error("Failed to read latest snapshot")
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, documentID string, data []byte) (*core.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, list, err := s.entries(documentID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var next int64 = 1
	if len(list) > 0 {
		next = list[len(list)-1].version + 1
	}
	id := ulid.Make()
	name := fmt.Sprintf("%012d-%s%s", next, id, snapshotExt)
	path := filepath.Join(dir, name)
	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"file_path":   path,
	})

	// Write then rename so a crash never leaves a partial version visible.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write snapshot")
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		log.WithError(err).Error("Failed to commit snapshot")
		return nil, err
	}

	log.WithField("version", next).Debug("Snapshot appended")
	return &core.Version{
		ID:         id.String(),
		DocumentID: documentID,
		Version:    next,
		Size:       len(data),
		CreatedAt:  ulid.Time(id.Time()).UTC(),
	}, nil
}

func (s *Store) ListVersions(ctx context.Context, documentID string) ([]core.Version, error) {
	dir, list, err := s.entries(documentID)
	if err != nil {
		return nil, err
	}

	versions := make([]core.Version, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		e := list[i]
		info, err := os.Stat(filepath.Join(dir, e.name))
		if err != nil {
			return nil, err
		}
		versions = append(versions, core.Version{
			ID:         e.id.String(),
			DocumentID: documentID,
			Version:    e.version,
			Size:       int(info.Size()),
			CreatedAt:  ulid.Time(e.id.Time()).UTC(),
		})
	}
	return versions, nil
}

func (s *Store) GetVersion(ctx context.Context, documentID string, version int64) (*core.Version, error) {
	dir, list, err := s.entries(documentID)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		if e.version != version {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.name))
		if err != nil {
			return nil, err
		}
		return &core.Version{
			ID:         e.id.String(),
			DocumentID: documentID,
			Version:    e.version,
			Size:       len(data),
			CreatedAt:  ulid.Time(e.id.Time()).UTC(),
			Data:       data,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s@%d", core.ErrVersionNotFound, documentID, version)
}
