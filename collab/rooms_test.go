package collab

import (
	"reflect"
	"testing"
)

func TestRoomManager_JoinIdempotent(t *testing.T) {
	m := NewRoomManager()

	if !m.Join("c1", "doc-1") {
		t.Error("first Join() should report a new membership")
	}
	if m.Join("c1", "doc-1") {
		t.Error("second Join() should be a no-op")
	}
	if got := m.Count("doc-1"); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	if !m.HasJoined("c1", "doc-1") {
		t.Error("HasJoined() = false, want true")
	}
}

func TestRoomManager_LeaveReportsVacancy(t *testing.T) {
	m := NewRoomManager()
	m.Join("c1", "doc-1")
	m.Join("c2", "doc-1")

	if m.Leave("c1", "doc-1") {
		t.Error("Leave() reported vacancy while c2 remains")
	}
	if !m.Leave("c2", "doc-1") {
		t.Error("Leave() of last member should report vacancy")
	}
	if m.Leave("c2", "doc-1") {
		t.Error("Leave() of a non-member should not report vacancy")
	}
	if len(m.Rooms()) != 0 {
		t.Errorf("Rooms() = %v, want empty", m.Rooms())
	}
	if len(m.Joined("c1")) != 0 {
		t.Errorf("Joined(c1) = %v, want empty", m.Joined("c1"))
	}
}

func TestRoomManager_DisconnectVacatesOnce(t *testing.T) {
	m := NewRoomManager()
	m.Join("c1", "doc-b")
	m.Join("c1", "doc-a")
	m.Join("c1", "doc-shared")
	m.Join("c2", "doc-shared")

	vacated := m.Disconnect("c1")
	if want := []string{"doc-a", "doc-b"}; !reflect.DeepEqual(vacated, want) {
		t.Errorf("Disconnect() = %v, want %v", vacated, want)
	}
	if again := m.Disconnect("c1"); len(again) != 0 {
		t.Errorf("second Disconnect() = %v, want empty", again)
	}
	if got := m.Members("doc-shared"); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Errorf("Members(doc-shared) = %v, want [c2]", got)
	}
	if m.HasJoined("c1", "doc-shared") {
		t.Error("c1 should no longer be joined")
	}
}

func TestRoomManager_Rooms(t *testing.T) {
	m := NewRoomManager()
	m.Join("c1", "doc-1")
	m.Join("c2", "doc-1")
	m.Join("c2", "doc-2")

	want := map[string]int{"doc-1": 2, "doc-2": 1}
	if got := m.Rooms(); !reflect.DeepEqual(got, want) {
		t.Errorf("Rooms() = %v, want %v", got, want)
	}
	if got := m.Joined("c2"); !reflect.DeepEqual(got, []string{"doc-1", "doc-2"}) {
		t.Errorf("Joined(c2) = %v", got)
	}
}
