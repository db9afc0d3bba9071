package collab

import (
	"sort"
	"sync"
)

// RoomManager tracks which connections are subscribed to which documents,
// in both directions. It performs no I/O.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // document id -> connection ids
	joined map[string]map[string]struct{} // connection id -> document ids
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room of documentID and reports whether it was
// not already a member.
func (m *RoomManager) Join(connID, documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[documentID]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[documentID] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	docs, ok := m.joined[connID]
	if !ok {
		docs = make(map[string]struct{})
		m.joined[connID] = docs
	}
	docs[documentID] = struct{}{}
	return true
}

// Leave removes connID from documentID's room and reports whether that
// left the room empty. Leaving a room one is not in reports false.
func (m *RoomManager) Leave(connID, documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(connID, documentID)
}

func (m *RoomManager) leaveLocked(connID, documentID string) bool {
	members, ok := m.rooms[documentID]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)

	if docs, ok := m.joined[connID]; ok {
		delete(docs, documentID)
		if len(docs) == 0 {
			delete(m.joined, connID)
		}
	}

	if len(members) == 0 {
		delete(m.rooms, documentID)
		return true
	}
	return false
}

// Disconnect removes connID from every room it joined and returns the
// documents whose rooms became empty as a result, sorted.
func (m *RoomManager) Disconnect(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	vacated := make([]string, 0)
	for documentID := range m.joined[connID] {
		if m.leaveLocked(connID, documentID) {
			vacated = append(vacated, documentID)
		}
	}
	delete(m.joined, connID)
	sort.Strings(vacated)
	return vacated
}

func (m *RoomManager) HasJoined(connID, documentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[documentID][connID]
	return ok
}

// Members returns the connection ids in documentID's room, sorted.
func (m *RoomManager) Members(documentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]string, 0, len(m.rooms[documentID]))
	for connID := range m.rooms[documentID] {
		members = append(members, connID)
	}
	sort.Strings(members)
	return members
}

func (m *RoomManager) Count(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[documentID])
}

// Joined returns the documents connID has joined, sorted.
func (m *RoomManager) Joined(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]string, 0, len(m.joined[connID]))
	for documentID := range m.joined[connID] {
		docs = append(docs, documentID)
	}
	sort.Strings(docs)
	return docs
}

// Rooms returns the member count of every non-empty room.
func (m *RoomManager) Rooms() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make(map[string]int, len(m.rooms))
	for documentID, members := range m.rooms {
		rooms[documentID] = len(members)
	}
	return rooms
}
