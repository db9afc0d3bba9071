package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

type automergeEngine struct{}

// NewAutomerge returns an Engine backed by automerge documents. Updates are
// automerge change chunks or whole saved documents.
func NewAutomerge() Engine {
	return automergeEngine{}
}

func (automergeEngine) New() State {
	return &automergeState{doc: automerge.New()}
}

func (automergeEngine) Decode(data []byte) (State, error) {
	doc, err := automerge.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load automerge doc: %w", err)
	}
	return &automergeState{doc: doc}, nil
}

type automergeState struct {
	doc *automerge.Doc
}

func (s *automergeState) Apply(update []byte) error {
	if len(update) == 0 {
		return fmt.Errorf("empty update")
	}
	if err := s.doc.LoadIncremental(update); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}
	return nil
}

func (s *automergeState) Encode() []byte {
	return s.doc.Save()
}
