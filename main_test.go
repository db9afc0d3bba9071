package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"docsync-server/auth"
	"docsync-server/collab"
	"docsync-server/core"
	"docsync-server/stores"
	"docsync-server/stores/memory"

	"github.com/prometheus/client_golang/prometheus"
)

type shutdownRecorder struct {
	calls    []string
	hubErr   error
	closeErr error
}

type recordedTransport struct{ r *shutdownRecorder }

func (t recordedTransport) Close(fn func(error)) { t.r.calls = append(t.r.calls, "socketio") }

type recordedServer struct{ r *shutdownRecorder }

func (s recordedServer) Shutdown(ctx context.Context) error {
	s.r.calls = append(s.r.calls, "http")
	return nil
}

type recordedHub struct{ r *shutdownRecorder }

func (h recordedHub) Close(ctx context.Context) error {
	h.r.calls = append(h.r.calls, "hub")
	return h.r.hubErr
}

type recordedStorage struct{ r *shutdownRecorder }

func (s recordedStorage) Close() error {
	s.r.calls = append(s.r.calls, "storage")
	return s.r.closeErr
}

func TestShutdown_StopsIntakeBeforeFlush(t *testing.T) {
	rec := &shutdownRecorder{}
	shutdown(context.Background(), recordedTransport{rec}, recordedServer{rec}, recordedHub{rec}, recordedStorage{rec})

	want := []string{"socketio", "http", "hub", "storage"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("shutdown order = %v, want %v", rec.calls, want)
	}
}

func TestShutdown_ContinuesAfterErrors(t *testing.T) {
	rec := &shutdownRecorder{hubErr: errors.New("flush failed"), closeErr: errors.New("busy")}
	shutdown(context.Background(), recordedTransport{rec}, recordedServer{rec}, recordedHub{rec}, recordedStorage{rec})

	if len(rec.calls) != 4 || rec.calls[3] != "storage" {
		t.Errorf("storage was not closed after a failed flush: %v", rec.calls)
	}
}

func newTestRouter(t *testing.T) (http.Handler, *auth.Authenticator) {
	t.Helper()
	store := memory.NewStore()
	backend := &stores.Backend{Snapshots: store, Directory: store}
	authenticator := auth.NewAuthenticator([]byte("test-secret"), "")
	hub := collab.NewHub(collab.Config{
		Authenticator: authenticator,
		Directory:     store,
		Snapshots:     store,
	})
	return setupRouter(backend, hub, authenticator, prometheus.NewRegistry(), ""), authenticator
}

func TestSetupRouter_RoomsRequireAuth(t *testing.T) {
	r, authenticator := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous /api/rooms status = %v, want %v", rr.Code, http.StatusUnauthorized)
	}

	token, err := authenticator.IssueToken(core.Identity{SubjectID: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated /api/rooms status = %v, want %v", rr.Code, http.StatusOK)
	}
}

func TestSetupRouter_VersionsRequireAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/documents/doc-1/versions", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous versions status = %v, want %v", rr.Code, http.StatusUnauthorized)
	}
}
