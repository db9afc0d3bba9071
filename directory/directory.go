// Package directory seeds documents and workspace memberships from a YAML
// file:
//
//	documents:
//	  - id: doc-1
//	    workspace_id: ws-1
//	    title: Roadmap
//	members:
//	  - workspace_id: ws-1
//	    user_id: alice
//	    active: true
package directory

import (
	"context"
	"fmt"
	"os"

	"docsync-server/core"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Seed struct {
	Documents []struct {
		ID          string `yaml:"id"`
		WorkspaceID string `yaml:"workspace_id"`
		Title       string `yaml:"title"`
	} `yaml:"documents"`
	Members []struct {
		WorkspaceID string `yaml:"workspace_id"`
		UserID      string `yaml:"user_id"`
		// Active defaults to true when omitted.
		Active *bool `yaml:"active"`
	} `yaml:"members"`
}

func Parse(b []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse directory seed: %w", err)
	}
	for i, d := range s.Documents {
		if d.ID == "" || d.WorkspaceID == "" {
			return nil, fmt.Errorf("%w: documents[%d] needs id and workspace_id", core.ErrValidation, i)
		}
	}
	for i, m := range s.Members {
		if m.WorkspaceID == "" || m.UserID == "" {
			return nil, fmt.Errorf("%w: members[%d] needs workspace_id and user_id", core.ErrValidation, i)
		}
	}
	return &s, nil
}

func Load(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Import upserts every entry into w.
func (s *Seed) Import(ctx context.Context, w core.DirectoryWriter) error {
	for _, d := range s.Documents {
		if err := w.PutDocument(ctx, core.Document{ID: d.ID, WorkspaceID: d.WorkspaceID, Title: d.Title}); err != nil {
			return fmt.Errorf("failed to import document %s: %w", d.ID, err)
		}
	}
	for _, m := range s.Members {
		active := m.Active == nil || *m.Active
		if err := w.PutMember(ctx, core.Member{WorkspaceID: m.WorkspaceID, UserID: m.UserID, Active: active}); err != nil {
			return fmt.Errorf("failed to import member %s/%s: %w", m.WorkspaceID, m.UserID, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"documents": len(s.Documents),
		"members":   len(s.Members),
	}).Info("Directory seed imported")
	return nil
}
