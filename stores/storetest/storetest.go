// Package storetest holds behaviour checks shared by every snapshot store
// backend.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"docsync-server/core"
)

// RunSnapshotStoreTests exercises the ledger contract against a fresh store
// from newStore for every subtest.
func RunSnapshotStoreTests(t *testing.T, newStore func(t *testing.T) core.SnapshotStore) {
	t.Run("EmptyDocument", func(t *testing.T) {
		store := newStore(t)
		data, err := store.FetchLatestSnapshot(context.Background(), "doc-empty")
		if err != nil {
			t.Fatalf("FetchLatestSnapshot() failed: %v", err)
		}
		if data != nil {
			t.Errorf("FetchLatestSnapshot() = %q, want nil", data)
		}
		versions, err := store.ListVersions(context.Background(), "doc-empty")
		if err != nil {
			t.Fatalf("ListVersions() failed: %v", err)
		}
		if len(versions) != 0 {
			t.Errorf("ListVersions() returned %d versions, want 0", len(versions))
		}
	})

	t.Run("AppendAssignsMonotonicVersions", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			v, err := store.AppendSnapshot(ctx, "doc-1", []byte(fmt.Sprintf("state-%d", i)))
			if err != nil {
				t.Fatalf("AppendSnapshot() failed: %v", err)
			}
			if v.Version != int64(i) {
				t.Errorf("AppendSnapshot() version = %d, want %d", v.Version, i)
			}
			if len(v.ID) != 26 {
				t.Errorf("AppendSnapshot() id %q is not a ULID", v.ID)
			}
			if v.DocumentID != "doc-1" {
				t.Errorf("AppendSnapshot() documentId = %q", v.DocumentID)
			}
		}

		latest, err := store.FetchLatestSnapshot(ctx, "doc-1")
		if err != nil {
			t.Fatalf("FetchLatestSnapshot() failed: %v", err)
		}
		if string(latest) != "state-3" {
			t.Errorf("FetchLatestSnapshot() = %q, want state-3", latest)
		}
	})

	t.Run("ListVersionsNewestFirst", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, data := range []string{"a", "bb", "ccc"} {
			if _, err := store.AppendSnapshot(ctx, "doc-1", []byte(data)); err != nil {
				t.Fatalf("AppendSnapshot() failed: %v", err)
			}
		}

		versions, err := store.ListVersions(ctx, "doc-1")
		if err != nil {
			t.Fatalf("ListVersions() failed: %v", err)
		}
		if len(versions) != 3 {
			t.Fatalf("ListVersions() returned %d versions, want 3", len(versions))
		}
		for i, v := range versions {
			if want := int64(3 - i); v.Version != want {
				t.Errorf("versions[%d].Version = %d, want %d", i, v.Version, want)
			}
			if want := 3 - i; v.Size != want {
				t.Errorf("versions[%d].Size = %d, want %d", i, v.Size, want)
			}
			if v.Data != nil {
				t.Errorf("versions[%d] carries data", i)
			}
			if v.CreatedAt.IsZero() {
				t.Errorf("versions[%d] has no creation time", i)
			}
		}
	})

	t.Run("GetVersion", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		payload := []byte{0x00, 0x01, 0xfe, 0xff}
		if _, err := store.AppendSnapshot(ctx, "doc-1", []byte("first")); err != nil {
			t.Fatalf("AppendSnapshot() failed: %v", err)
		}
		if _, err := store.AppendSnapshot(ctx, "doc-1", payload); err != nil {
			t.Fatalf("AppendSnapshot() failed: %v", err)
		}

		v, err := store.GetVersion(ctx, "doc-1", 2)
		if err != nil {
			t.Fatalf("GetVersion() failed: %v", err)
		}
		if !bytes.Equal(v.Data, payload) {
			t.Errorf("GetVersion() data = %v, want %v", v.Data, payload)
		}

		if _, err := store.GetVersion(ctx, "doc-1", 9); !errors.Is(err, core.ErrVersionNotFound) {
			t.Errorf("GetVersion(missing) error = %v, want ErrVersionNotFound", err)
		}
		if _, err := store.GetVersion(ctx, "doc-other", 1); !errors.Is(err, core.ErrVersionNotFound) {
			t.Errorf("GetVersion(other doc) error = %v, want ErrVersionNotFound", err)
		}
	})

	t.Run("DocumentsAreIsolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, _ = store.AppendSnapshot(ctx, "doc-a", []byte("a1"))
		_, _ = store.AppendSnapshot(ctx, "doc-a", []byte("a2"))
		vb, err := store.AppendSnapshot(ctx, "doc-b", []byte("b1"))
		if err != nil {
			t.Fatalf("AppendSnapshot() failed: %v", err)
		}
		if vb.Version != 1 {
			t.Errorf("doc-b version = %d, want 1", vb.Version)
		}
		latest, _ := store.FetchLatestSnapshot(ctx, "doc-b")
		if string(latest) != "b1" {
			t.Errorf("doc-b latest = %q, want b1", latest)
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := store.AppendSnapshot(ctx, "doc-1", []byte(fmt.Sprintf("s%d", i))); err != nil {
					t.Errorf("concurrent AppendSnapshot() failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		versions, err := store.ListVersions(ctx, "doc-1")
		if err != nil {
			t.Fatalf("ListVersions() failed: %v", err)
		}
		if len(versions) != n {
			t.Fatalf("ListVersions() returned %d versions, want %d", len(versions), n)
		}
		seen := make(map[int64]bool)
		for _, v := range versions {
			if seen[v.Version] {
				t.Errorf("version %d assigned twice", v.Version)
			}
			seen[v.Version] = true
		}
		for i := int64(1); i <= n; i++ {
			if !seen[i] {
				t.Errorf("version %d missing", i)
			}
		}
	})
}

// RunDirectoryTests exercises the directory lookups and upserts.
func RunDirectoryTests(t *testing.T, newDirectory func(t *testing.T) core.DirectoryStore) {
	t.Run("FindDocument", func(t *testing.T) {
		dir := newDirectory(t)
		ctx := context.Background()

		doc, err := dir.FindDocument(ctx, "doc-1")
		if err != nil || doc != nil {
			t.Fatalf("FindDocument(missing) = %v, %v, want nil, nil", doc, err)
		}

		if err := dir.PutDocument(ctx, core.Document{ID: "doc-1", WorkspaceID: "ws-1", Title: "Draft"}); err != nil {
			t.Fatalf("PutDocument() failed: %v", err)
		}
		if err := dir.PutDocument(ctx, core.Document{ID: "doc-1", WorkspaceID: "ws-1", Title: "Final"}); err != nil {
			t.Fatalf("PutDocument(upsert) failed: %v", err)
		}

		doc, err = dir.FindDocument(ctx, "doc-1")
		if err != nil {
			t.Fatalf("FindDocument() failed: %v", err)
		}
		if doc == nil || doc.WorkspaceID != "ws-1" || doc.Title != "Final" {
			t.Errorf("FindDocument() = %+v", doc)
		}
	})

	t.Run("IsActiveMember", func(t *testing.T) {
		dir := newDirectory(t)
		ctx := context.Background()

		ok, err := dir.IsActiveMember(ctx, "ws-1", "alice")
		if err != nil || ok {
			t.Fatalf("IsActiveMember(unknown) = %v, %v", ok, err)
		}

		_ = dir.PutMember(ctx, core.Member{WorkspaceID: "ws-1", UserID: "alice", Active: true})
		_ = dir.PutMember(ctx, core.Member{WorkspaceID: "ws-1", UserID: "bob", Active: false})

		if ok, _ := dir.IsActiveMember(ctx, "ws-1", "alice"); !ok {
			t.Error("alice should be an active member")
		}
		if ok, _ := dir.IsActiveMember(ctx, "ws-1", "bob"); ok {
			t.Error("inactive bob should not count as a member")
		}
		if ok, _ := dir.IsActiveMember(ctx, "ws-2", "alice"); ok {
			t.Error("membership must be per workspace")
		}

		_ = dir.PutMember(ctx, core.Member{WorkspaceID: "ws-1", UserID: "alice", Active: false})
		if ok, _ := dir.IsActiveMember(ctx, "ws-1", "alice"); ok {
			t.Error("deactivated alice should no longer be a member")
		}
	})
}
