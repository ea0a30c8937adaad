// Package store persists workspace nodes. Every workspace is a flat set of
// nodes keyed by a workspace key; folders own their descendants.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/tree"
)

var (
	ErrNotFound = errors.New("node not found")
	ErrConflict = errors.New("node already exists")
	ErrInvalid  = errors.New("invalid node")
)

// CreateParams describes a node to create.
type CreateParams struct {
	// ParentID is the folder to create under; empty means the root.
	ParentID models.ID
	// Path is a name or a slash separated path below ParentID. Missing
	// intermediate folders are created.
	Path     string
	NodeType models.NodeType
	// Language defaults to a guess from the file name.
	Language string
	// Content defaults to the language template for new files.
	Content   *string
	CreatedBy models.ID
}

// Store persists workspace nodes.
type Store interface {
	// List returns every node of a workspace with content.
	List(ctx context.Context, workspace string) ([]*models.Node, error)
	Get(ctx context.Context, workspace string, id models.ID) (*models.Node, error)
	// EnsurePath creates the node described by p, or returns the existing
	// node at that path. created is false for an existing node; an existing
	// file gets p.Content when one is given.
	EnsurePath(ctx context.Context, workspace string, p CreateParams) (node *models.Node, created bool, err error)
	Rename(ctx context.Context, workspace string, id models.ID, name string) (*models.Node, error)
	// Delete removes a node and its descendants and returns the removed ids,
	// descendants first.
	Delete(ctx context.Context, workspace string, id models.ID) ([]models.ID, error)
	SetContent(ctx context.Context, workspace string, id models.ID, content string) (*models.Node, error)
	Close() error
}

// Hash returns the content hash stored with each file.
func Hash(content string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(content))
}

// ValidName checks a single node name.
func ValidName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalid)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalid, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: name %q", ErrInvalid, name)
	}
	return nil
}

// splitCreatePath normalizes p.Path into segments and validates the type.
func splitCreatePath(p CreateParams) ([]string, error) {
	if !p.NodeType.Valid() {
		return nil, fmt.Errorf("%w: node type %q", ErrInvalid, p.NodeType)
	}
	segments := tree.SplitPath(tree.NormalizePath(p.Path))
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrInvalid)
	}
	for _, s := range segments {
		if err := ValidName(s); err != nil {
			return nil, err
		}
	}
	return segments, nil
}

// fileDefaults resolves the language and content of a new file.
func fileDefaults(p CreateParams, name string) (string, string) {
	lang := p.Language
	if lang == "" {
		lang = models.GuessLanguage(name, models.LangText)
	}
	if p.Content != nil {
		return lang, *p.Content
	}
	return lang, Template(lang, name)
}

// renamedLanguage keeps the language unless the new extension implies
// another one.
func renamedLanguage(n *models.Node, name string) string {
	if n.IsFolder() {
		return ""
	}
	return models.GuessLanguage(name, n.Language)
}
