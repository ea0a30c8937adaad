// Package models contains the data types shared by the engine, the hub and
// the CLI.
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// NodeType distinguishes files from folders.
type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	return t == NodeFile || t == NodeFolder
}

// ID identifies a node or a user. Servers may send ids as JSON strings or
// numbers; both decode to the same textual form. JSON null decodes to "",
// which for a parent id means "root".
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// IntID builds an ID from a numeric key.
func IntID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// Node is a file or folder in one workspace.
type Node struct {
	ID       ID       `json:"id"`
	Name     string   `json:"name"`
	NodeType NodeType `json:"node_type"`
	ParentID ID       `json:"parent_id,omitempty"`
	Language string   `json:"language,omitempty"`
	// Content is nil until the node has been hydrated by a read.
	Content  *string `json:"content,omitempty"`
	FullPath string  `json:"full_path,omitempty"`
	Position int     `json:"position,omitempty"`
	Hash     string  `json:"hash,omitempty"`

	// Children is filled in by tree.Build and never serialized.
	Children []*Node `json:"-"`
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool { return n.NodeType == NodeFolder }

// IsFile reports whether the node is a file.
func (n *Node) IsFile() bool { return n.NodeType != NodeFolder }

// IsRoot reports whether the node declares no parent.
func (n *Node) IsRoot() bool { return n.ParentID == "" }

// HasContent reports whether the node's content has been loaded.
func (n *Node) HasContent() bool { return n.Content != nil }

// Text returns the loaded content, or "" when not hydrated.
func (n *Node) Text() string {
	if n.Content == nil {
		return ""
	}
	return *n.Content
}

// SetText hydrates the node's content.
func (n *Node) SetText(s string) {
	n.Content = &s
}

// Clone returns a copy of the node without children.
func (n *Node) Clone() *Node {
	c := *n
	c.Children = nil
	if n.Content != nil {
		s := *n.Content
		c.Content = &s
	}
	return &c
}

// User is the identity attached to a channel session.
type User struct {
	ID          ID     `json:"user_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"user_color,omitempty"`
}

// Label returns the best human-readable name for the user.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return string(u.ID)
}

// PresenceEntry is what the engine knows about one remote user.
type PresenceEntry struct {
	User
	ActiveNodeID   ID  `json:"node_id,omitempty"`
	CursorPosition int `json:"cursor_position"`
	SelectionStart int `json:"selection_start"`
	SelectionEnd   int `json:"selection_end"`
}

// RunResult is the structured output of one code execution. HTML results
// are shown in a preview surface; the others are a stdout/stderr pair.
type RunResult struct {
	NodeID      ID     `json:"node_id,omitempty"`
	Language    string `json:"language"`
	HTML        string `json:"html,omitempty"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// IsHTML reports whether the result should be rendered as a document.
func (r RunResult) IsHTML() bool {
	return r.Language == "html"
}
