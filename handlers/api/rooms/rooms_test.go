package rooms

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"docsync-server/collab"
)

type mockLister struct {
	rooms []collab.RoomInfo
}

func (m mockLister) ActiveRooms() []collab.RoomInfo {
	return m.rooms
}

func TestHandleList(t *testing.T) {
	lister := mockLister{rooms: []collab.RoomInfo{
		{DocumentID: "doc-1", Connections: 3},
		{DocumentID: "doc-2", Connections: 1},
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rr := httptest.NewRecorder()
	HandleList(lister).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var got []collab.RoomInfo
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if len(got) != 2 || got[0].DocumentID != "doc-1" || got[0].Connections != 3 {
		t.Errorf("unexpected rooms: %+v", got)
	}
}

func TestHandleList_NoRooms(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rr := httptest.NewRecorder()
	HandleList(mockLister{}).ServeHTTP(rr, req)

	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want []", body)
	}
}
