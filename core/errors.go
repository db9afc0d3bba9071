package core

import "errors"

var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrAuthorization    = errors.New("not authorized")
	ErrValidation       = errors.New("invalid payload")
	ErrNotJoined        = errors.New("not joined")
	ErrDocumentNotFound = errors.New("document not found")
	ErrVersionNotFound  = errors.New("version not found")
	ErrPersistence      = errors.New("persistence failed")
	// ErrStateDecode marks a persisted snapshot the engine could not load.
	ErrStateDecode = errors.New("cannot decode document state")
	ErrNotCached   = errors.New("document state not cached")
)
