package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docsync-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		title TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (workspace_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS document_versions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (document_id, version)
	);`,
}

// Store keeps the directory and the version ledger in one SQLite database.
type Store struct {
	db *sql.DB
}

func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; lets AppendSnapshot compute latest+1 without
	// racing another connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FetchLatestSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM document_versions WHERE document_id = ? ORDER BY version DESC LIMIT 1",
		documentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Error("Failed to fetch latest snapshot")
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, documentID string, data []byte) (*core.Version, error) {
	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"data_length": len(data),
	})
	if data == nil {
		data = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var latest int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM document_versions WHERE document_id = ?",
		documentID).Scan(&latest); err != nil {
		log.WithError(err).Error("Failed to read latest version")
		return nil, err
	}

	id := ulid.Make()
	v := &core.Version{
		ID:         id.String(),
		DocumentID: documentID,
		Version:    latest + 1,
		Size:       len(data),
		CreatedAt:  time.UnixMilli(int64(id.Time())).UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO document_versions (id, document_id, version, data, created_at) VALUES (?, ?, ?, ?, ?)",
		v.ID, documentID, v.Version, data, v.CreatedAt.UnixMilli()); err != nil {
		log.WithError(err).Error("Failed to insert snapshot")
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.WithField("version", v.Version).Debug("Snapshot appended")
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, documentID string) ([]core.Version, error) {
	log := logrus.WithField("document_id", documentID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, version, length(data), created_at FROM document_versions WHERE document_id = ? ORDER BY version DESC",
		documentID)
	if err != nil {
		log.WithError(err).Error("Failed to list versions")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close version rows")
		}
	}()

	versions := []core.Version{}
	for rows.Next() {
		v := core.Version{DocumentID: documentID}
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.Version, &v.Size, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt = time.UnixMilli(createdAt).UTC()
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) GetVersion(ctx context.Context, documentID string, version int64) (*core.Version, error) {
	v := core.Version{DocumentID: documentID, Version: version}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, data, created_at FROM document_versions WHERE document_id = ? AND version = ?",
		documentID, version).Scan(&v.ID, &v.Data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%d", core.ErrVersionNotFound, documentID, version)
	}
	if err != nil {
		return nil, err
	}
	v.Size = len(v.Data)
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &v, nil
}

func (s *Store) FindDocument(ctx context.Context, documentID string) (*core.Document, error) {
	doc := core.Document{ID: documentID}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT workspace_id, title FROM documents WHERE id = ?",
		documentID).Scan(&doc.WorkspaceID, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Error("Failed to look up document")
		return nil, err
	}
	doc.Title = title.String
	return &doc, nil
}

func (s *Store) IsActiveMember(ctx context.Context, workspaceID, subjectID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		"SELECT is_active FROM workspace_members WHERE workspace_id = ? AND user_id = ?",
		workspaceID, subjectID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

func (s *Store) PutDocument(ctx context.Context, document core.Document) error {
	if document.ID == "" || document.WorkspaceID == "" {
		return fmt.Errorf("%w: document id and workspace id are required", core.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, workspace_id, title) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET workspace_id = excluded.workspace_id, title = excluded.title",
		document.ID, document.WorkspaceID, document.Title)
	return err
}

func (s *Store) PutMember(ctx context.Context, member core.Member) error {
	if member.WorkspaceID == "" || member.UserID == "" {
		return fmt.Errorf("%w: workspace id and user id are required", core.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO workspace_members (workspace_id, user_id, is_active) VALUES (?, ?, ?) ON CONFLICT(workspace_id, user_id) DO UPDATE SET is_active = excluded.is_active",
		member.WorkspaceID, member.UserID, member.Active)
	return err
}
