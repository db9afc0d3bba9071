package core

import (
	"context"
	"time"
)

type (
	// Identity is the verified subject behind a connection. It is attached
	// once at connect time and never mutated.
	Identity struct {
		SubjectID string `json:"subjectId"`
		Email     string `json:"email,omitempty"`
		Name      string `json:"name,omitempty"`
		IsAdmin   bool   `json:"isAdmin,omitempty"`
	}

	// Document is the directory entry for a collaboratively edited document.
	Document struct {
		ID          string `json:"id"`
		WorkspaceID string `json:"workspaceId"`
		Title       string `json:"title,omitempty"`
	}

	// Member records a subject's membership of a workspace.
	Member struct {
		WorkspaceID string `json:"workspaceId"`
		UserID      string `json:"userId"`
		Active      bool   `json:"active"`
	}

	// Version is one immutable entry of a document's snapshot ledger.
	Version struct {
		ID         string    `json:"id"`
		DocumentID string    `json:"documentId"`
		Version    int64     `json:"version"`
		Size       int       `json:"size"`
		CreatedAt  time.Time `json:"createdAt"`
		Data       []byte    `json:"-"`
	}

	// SnapshotStore is the append-only version ledger. Version numbers are
	// assigned by the store and are monotonic per document.
	SnapshotStore interface {
		// FetchLatestSnapshot returns the newest payload, or nil when the
		// document has never been persisted.
		FetchLatestSnapshot(ctx context.Context, documentID string) ([]byte, error)
		AppendSnapshot(ctx context.Context, documentID string, data []byte) (*Version, error)
		// ListVersions returns metadata (no Data) newest first.
		ListVersions(ctx context.Context, documentID string) ([]Version, error)
		GetVersion(ctx context.Context, documentID string, version int64) (*Version, error)
	}

	// Directory answers the two authorization questions the sync core asks.
	Directory interface {
		// FindDocument returns nil, nil when the document does not exist.
		FindDocument(ctx context.Context, documentID string) (*Document, error)
		IsActiveMember(ctx context.Context, workspaceID, subjectID string) (bool, error)
	}

	DirectoryWriter interface {
		PutDocument(ctx context.Context, document Document) error
		PutMember(ctx context.Context, member Member) error
	}

	DirectoryStore interface {
		Directory
		DirectoryWriter
	}
)
