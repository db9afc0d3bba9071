package collab

// Namespace is the socket.io namespace serving document sync.
const Namespace = "/documents"

const (
	EventJoin      = "doc:join"
	EventLeave     = "doc:leave"
	EventSync      = "doc:sync"
	EventUpdate    = "doc:update"
	EventAwareness = "doc:awareness"
	EventError     = "doc:error"
)

// Messages carried by doc:error.
const (
	MsgUnauthorized     = "Unauthorized"
	MsgInvalidPayload   = "Invalid payload"
	MsgDocumentNotFound = "Document not found"
	MsgForbidden        = "Forbidden"
	MsgNotJoined        = "Not joined"
	MsgInvalidUpdate    = "Invalid update"
	MsgStateUnavailable = "Document state unavailable"
	MsgInternal         = "Internal error"
)

// SyncPayload is used for doc:sync, doc:update and doc:awareness.
type SyncPayload struct {
	DocumentID string `json:"documentId"`
	Update     []byte `json:"update"`
}

func (p SyncPayload) toMap() map[string]any {
	return map[string]any{
		"documentId": p.DocumentID,
		"update":     p.Update,
	}
}
