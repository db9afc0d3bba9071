package versions

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"docsync-server/core"
	"docsync-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	VersionStore interface {
		ListVersions(ctx context.Context, documentID string) ([]core.Version, error)
		GetVersion(ctx context.Context, documentID string, version int64) (*core.Version, error)
	}

	ListResponse struct {
		DocumentID string         `json:"documentId"`
		Versions   []core.Version `json:"versions"`
	}
)

// authorize applies the same rule as a document join: the caller must be an
// active member of the document's workspace.
func authorize(w http.ResponseWriter, r *http.Request, directory core.Directory, documentID string) bool {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"subject_id":  identity.SubjectID,
	})

	document, err := directory.FindDocument(r.Context(), documentID)
	if err != nil {
		log.WithError(err).Error("Failed to look up document")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return false
	}
	if document == nil {
		http.Error(w, "Document not found", http.StatusNotFound)
		return false
	}

	member, err := directory.IsActiveMember(r.Context(), document.WorkspaceID, identity.SubjectID)
	if err != nil {
		log.WithError(err).Error("Failed to check workspace membership")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return false
	}
	if !member {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// HandleList returns version metadata, newest first.
func HandleList(directory core.Directory, store VersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentId")
		if !authorize(w, r, directory, documentID) {
			return
		}

		versions, err := store.ListVersions(r.Context(), documentID)
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Error("Failed to list versions")
			http.Error(w, "Failed to list versions", http.StatusInternalServerError)
			return
		}
		if versions == nil {
			versions = []core.Version{}
		}

		render.JSON(w, r, ListResponse{DocumentID: documentID, Versions: versions})
	}
}

// HandleGet streams the raw bytes of one version.
func HandleGet(directory core.Directory, store VersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentId")
		number, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
		if err != nil || number < 1 {
			http.Error(w, "Invalid version", http.StatusBadRequest)
			return
		}
		if !authorize(w, r, directory, documentID) {
			return
		}

		version, err := store.GetVersion(r.Context(), documentID, number)
		if errors.Is(err, core.ErrVersionNotFound) {
			http.Error(w, "Version not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logrus.WithField("document_id", documentID).WithError(err).Error("Failed to get version")
			http.Error(w, "Failed to get version", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(version.Data)))
		w.Header().Set("X-Version-Id", version.ID)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(version.Data); err != nil {
			logrus.WithError(err).Warn("Failed to write version body")
		}
	}
}
