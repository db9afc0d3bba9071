// Package crdt abstracts the mergeable document state kept by the sync core.
//
// Implementations must make Apply commutative, associative and idempotent:
// any delivery order of the same set of updates converges to the same state,
// and applying an update twice has no further effect.
package crdt

type (
	Engine interface {
		// New returns an empty state.
		New() State
		// Decode loads a state previously produced by State.Encode.
		Decode(data []byte) (State, error)
	}

	// State is not safe for concurrent use; callers serialize access.
	State interface {
		Apply(update []byte) error
		// Encode returns a full-state encoding that can bootstrap a new
		// replica and can itself be applied as an update.
		Encode() []byte
	}
)
