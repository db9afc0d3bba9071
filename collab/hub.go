package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"docsync-server/auth"
	"docsync-server/core"
	"docsync-server/crdt"
	"docsync-server/metrics"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

type (
	// Conn is one live transport connection.
	Conn interface {
		ID() string
		Emit(event string, payload any) error
		Close()
	}

	Authenticator interface {
		Authenticate(h auth.Handshake) (*core.Identity, error)
	}

	Config struct {
		Authenticator Authenticator
		Directory     core.Directory
		Snapshots     core.SnapshotStore
		Engine        crdt.Engine
		Clock         clock.Clock
		FlushDelay    time.Duration
		Metrics       *metrics.Collectors
	}

	// RoomInfo describes one live room.
	RoomInfo struct {
		DocumentID  string `json:"documentId"`
		Connections int    `json:"connections"`
	}

	// ClientError is a failure that was reported to the client as doc:error.
	ClientError struct {
		Message string
		Err     error
	}

	session struct {
		conn     Conn
		identity *core.Identity
	}
)

func (e *ClientError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Hub owns the room table, the document cache and the persistence timers,
// and runs the join/update protocol on top of them. Work on one document is
// serialized by a per-document lock; different documents proceed in
// parallel.
type Hub struct {
	auth      Authenticator
	directory core.Directory
	rooms     *RoomManager
	cache     *DocumentCache
	scheduler *Scheduler
	locks     *kmutex.Kmutex
	metrics   *metrics.Collectors

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(cfg Config) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Engine == nil {
		cfg.Engine = crdt.NewAutomerge()
	}

	locks := kmutex.New()
	cache := NewDocumentCache(cfg.Engine, cfg.Snapshots)
	return &Hub{
		auth:      cfg.Authenticator,
		directory: cfg.Directory,
		rooms:     NewRoomManager(),
		cache:     cache,
		scheduler: NewScheduler(cfg.Clock, cfg.FlushDelay, cache, cfg.Snapshots, locks, cfg.Metrics),
		locks:     locks,
		metrics:   cfg.Metrics,
		sessions:  make(map[string]*session),
	}
}

// Connect authenticates a new connection. On failure the client gets
// doc:error and the transport is closed.
func (h *Hub) Connect(conn Conn, handshake auth.Handshake) error {
	log := logrus.WithField("socket_id", conn.ID())

	identity, err := h.auth.Authenticate(handshake)
	if err != nil || identity == nil {
		if err == nil {
			err = core.ErrAuthentication
		}
		log.WithError(err).Warn("Rejected unauthenticated connection")
		rejectErr := h.reject(conn, MsgUnauthorized, err)
		conn.Close()
		return rejectErr
	}

	h.mu.Lock()
	h.sessions[conn.ID()] = &session{conn: conn, identity: identity}
	h.mu.Unlock()
	h.metrics.Connections.Inc()

	log.WithField("subject_id", identity.SubjectID).Info("Connection authenticated")
	return nil
}

// Join admits conn into a document's room and sends it the full state.
// Authorization is checked on every call, including re-joins.
func (h *Hub) Join(ctx context.Context, conn Conn, payload any) error {
	sess, ok := h.session(conn.ID())
	if !ok || sess.identity == nil {
		h.metrics.Joins.WithLabelValues("unauthorized").Inc()
		return h.reject(conn, MsgUnauthorized, core.ErrAuthentication)
	}

	req, err := parseJoin(payload)
	if err != nil {
		h.metrics.Joins.WithLabelValues("invalid").Inc()
		return h.reject(conn, MsgInvalidPayload, err)
	}

	log := logrus.WithFields(logrus.Fields{
		"socket_id":    conn.ID(),
		"subject_id":   sess.identity.SubjectID,
		"document_id":  req.DocumentID,
		"workspace_id": req.WorkspaceID,
	})

	document, err := h.directory.FindDocument(ctx, req.DocumentID)
	if err != nil {
		log.WithError(err).Error("Failed to look up document")
		h.metrics.Joins.WithLabelValues("error").Inc()
		return h.reject(conn, MsgInternal, err)
	}
	if document == nil || document.WorkspaceID != req.WorkspaceID {
		h.metrics.Joins.WithLabelValues("not_found").Inc()
		return h.reject(conn, MsgDocumentNotFound, core.ErrDocumentNotFound)
	}

	member, err := h.directory.IsActiveMember(ctx, document.WorkspaceID, sess.identity.SubjectID)
	if err != nil {
		log.WithError(err).Error("Failed to check workspace membership")
	}
	if err != nil || !member {
		h.metrics.Joins.WithLabelValues("forbidden").Inc()
		return h.reject(conn, MsgForbidden, fmt.Errorf("%w: %s is not an active member of %s", core.ErrAuthorization, sess.identity.SubjectID, document.WorkspaceID))
	}

	h.locks.Lock(req.DocumentID)
	defer h.locks.Unlock(req.DocumentID)

	if _, err := h.cache.GetOrCreate(ctx, req.DocumentID); err != nil {
		h.metrics.Joins.WithLabelValues("error").Inc()
		if errors.Is(err, core.ErrStateDecode) {
			return h.reject(conn, MsgStateUnavailable, err)
		}
		log.WithError(err).Error("Failed to load document state")
		return h.reject(conn, MsgInternal, err)
	}
	h.metrics.CachedDocuments.Set(float64(h.cache.Len()))

	// The connection may have gone away while we were looking things up.
	h.mu.Lock()
	_, connected := h.sessions[conn.ID()]
	if connected {
		h.rooms.Join(conn.ID(), req.DocumentID)
	}
	h.mu.Unlock()
	if !connected {
		h.releaseIfVacant(ctx, req.DocumentID)
		return nil
	}

	full, err := h.cache.EncodeFull(req.DocumentID)
	if err != nil {
		return h.reject(conn, MsgInternal, err)
	}
	if err := conn.Emit(EventSync, SyncPayload{DocumentID: req.DocumentID, Update: full}.toMap()); err != nil {
		log.WithError(err).Warn("Failed to send document state")
	}

	h.metrics.Joins.WithLabelValues("ok").Inc()
	log.WithField("members", h.rooms.Count(req.DocumentID)).Info("Joined document")
	return nil
}

// Update applies an incremental update and relays it to the rest of the room.
func (h *Hub) Update(ctx context.Context, conn Conn, payload any) error {
	documentID, err := parseDocumentID(payload)
	if err != nil {
		return h.reject(conn, MsgInvalidPayload, err)
	}

	h.locks.Lock(documentID)
	defer h.locks.Unlock(documentID)

	if !h.rooms.HasJoined(conn.ID(), documentID) {
		return h.reject(conn, MsgNotJoined, core.ErrNotJoined)
	}
	req, err := parseUpdate(payload)
	if err != nil {
		return h.reject(conn, MsgInvalidPayload, err)
	}

	if err := h.cache.Apply(documentID, req.Update); err != nil {
		logrus.WithFields(logrus.Fields{
			"socket_id":   conn.ID(),
			"document_id": documentID,
		}).WithError(err).Warn("Rejected update")
		return h.reject(conn, MsgInvalidUpdate, err)
	}

	h.relay(documentID, conn.ID(), EventUpdate, SyncPayload{DocumentID: documentID, Update: req.Update}.toMap())
	h.scheduler.Schedule(documentID)

	h.metrics.Updates.Inc()
	h.metrics.UpdateBytes.Add(float64(len(req.Update)))
	return nil
}

// Awareness relays ephemeral presence data to the rest of the room. It is
// never applied to the document or persisted.
func (h *Hub) Awareness(ctx context.Context, conn Conn, payload any) error {
	documentID, err := parseDocumentID(payload)
	if err != nil {
		return h.reject(conn, MsgInvalidPayload, err)
	}

	h.locks.Lock(documentID)
	defer h.locks.Unlock(documentID)

	if !h.rooms.HasJoined(conn.ID(), documentID) {
		return h.reject(conn, MsgNotJoined, core.ErrNotJoined)
	}
	req, err := parseUpdate(payload)
	if err != nil {
		return h.reject(conn, MsgInvalidPayload, err)
	}

	h.relay(documentID, conn.ID(), EventAwareness, SyncPayload{DocumentID: documentID, Update: req.Update}.toMap())
	return nil
}

// Leave removes conn from one room. Leaving a room one is not in is a no-op.
func (h *Hub) Leave(ctx context.Context, conn Conn, payload any) error {
	documentID, err := parseDocumentID(payload)
	if err != nil {
		return h.reject(conn, MsgInvalidPayload, err)
	}

	h.locks.Lock(documentID)
	defer h.locks.Unlock(documentID)

	if h.rooms.Leave(conn.ID(), documentID) {
		h.releaseIfVacant(ctx, documentID)
	}
	return nil
}

// Disconnect drops the connection from every room. Rooms left empty are
// flushed and evicted before Disconnect returns.
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.mu.Lock()
	_, ok := h.sessions[connID]
	delete(h.sessions, connID)
	vacated := h.rooms.Disconnect(connID)
	h.mu.Unlock()

	if ok {
		h.metrics.Connections.Dec()
	}

	for _, documentID := range vacated {
		h.locks.Lock(documentID)
		h.releaseIfVacant(ctx, documentID)
		h.locks.Unlock(documentID)
	}
	logrus.WithFields(logrus.Fields{
		"socket_id": connID,
		"vacated":   vacated,
	}).Debug("Connection closed")
}

// Close persists every cached document with unsaved changes and stops the
// debounce timers.
func (h *Hub) Close(ctx context.Context) error {
	var errs []error
	for _, documentID := range h.cache.IDs() {
		h.locks.Lock(documentID)
		h.scheduler.Cancel(documentID)
		if err := h.scheduler.flush(ctx, documentID, triggerShutdown); err != nil {
			errs = append(errs, err)
		}
		h.locks.Unlock(documentID)
	}
	h.scheduler.Stop()
	return errors.Join(errs...)
}

// ActiveRooms lists live rooms, busiest first.
func (h *Hub) ActiveRooms() []RoomInfo {
	rooms := h.rooms.Rooms()
	list := make([]RoomInfo, 0, len(rooms))
	for id, count := range rooms {
		list = append(list, RoomInfo{DocumentID: id, Connections: count})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Connections == list[j].Connections {
			return list[i].DocumentID < list[j].DocumentID
		}
		return list[i].Connections > list[j].Connections
	})
	return list
}

// releaseIfVacant flushes and evicts documentID when its room is empty. The
// caller must hold documentID's lock. A failed flush still evicts: the last
// unpersisted delta is lost rather than leaking the state.
func (h *Hub) releaseIfVacant(ctx context.Context, documentID string) {
	if h.rooms.Count(documentID) > 0 {
		return
	}
	if !h.cache.Has(documentID) {
		h.scheduler.Cancel(documentID)
		return
	}

	if err := h.scheduler.FlushNow(ctx, documentID); err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Warn("Evicting document with unpersisted changes")
	}
	h.cache.Evict(documentID)
	h.metrics.CachedDocuments.Set(float64(h.cache.Len()))
}

func (h *Hub) relay(documentID, senderID, event string, payload map[string]any) {
	for _, member := range h.rooms.Members(documentID) {
		if member == senderID {
			continue
		}
		sess, ok := h.session(member)
		if !ok {
			continue
		}
		if err := sess.conn.Emit(event, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"socket_id":   member,
				"document_id": documentID,
				"event":       event,
			}).WithError(err).Warn("Failed to relay event")
		}
	}
}

func (h *Hub) session(connID string) (*session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[connID]
	return s, ok
}

func (h *Hub) reject(conn Conn, message string, err error) error {
	if emitErr := conn.Emit(EventError, map[string]any{"message": message}); emitErr != nil {
		logrus.WithField("socket_id", conn.ID()).WithError(emitErr).Debug("Failed to emit error event")
	}
	return &ClientError{Message: message, Err: err}
}
