// Package protocol defines the messages exchanged over a workspace channel.
//
// Client to server messages are intents, discriminated by an "action" tag.
// Server to client messages are events, discriminated by a "type" tag and,
// for workspace_event, a nested "event" tag.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Samijain03/Collab-X/pkg/delta"
	"github.com/Samijain03/Collab-X/pkg/models"
)

// Intent actions.
const (
	ActionListFiles    = "list_files"
	ActionCreateNode   = "create_node"
	ActionRenameNode   = "rename_node"
	ActionDeleteNode   = "delete_node"
	ActionReadFile     = "read_file"
	ActionWriteFile    = "write_file"
	ActionCursorUpdate = "cursor_update"
	ActionFileFocus    = "file_focus"
	ActionExecuteCode  = "execute_code"
)

// Intent is an outbound request to the session.
type Intent interface {
	Action() string
}

// ListFiles requests the current flat node set.
type ListFiles struct{}

// CreateNode creates a file or folder. An empty ParentID creates at the
// root.
type CreateNode struct {
	Name     string          `json:"name"`
	NodeType models.NodeType `json:"node_type"`
	ParentID models.ID       `json:"parent_id"`
}

type RenameNode struct {
	NodeID models.ID `json:"node_id"`
	Name   string    `json:"name"`
}

// DeleteNode removes a node. Folder deletes are recursive on the server.
type DeleteNode struct {
	NodeID models.ID `json:"node_id"`
}

type ReadFile struct {
	NodeID models.ID `json:"node_id"`
}

// WriteFile carries one incremental edit of a file.
type WriteFile struct {
	NodeID         models.ID    `json:"node_id"`
	Delta          *delta.Delta `json:"delta"`
	CursorPosition int          `json:"cursor_position"`
}

// CursorPosition announces the local caret and selection in a file.
type CursorPosition struct {
	NodeID         models.ID `json:"node_id"`
	CursorPosition int       `json:"cursor_position"`
	SelectionStart int       `json:"selection_start"`
	SelectionEnd   int       `json:"selection_end"`
}

// FocusFile announces which file the local user is now viewing.
type FocusFile struct {
	NodeID models.ID `json:"node_id"`
}

// ExecuteCode asks the session to run code through its runner.
type ExecuteCode struct {
	NodeID   models.ID `json:"node_id"`
	Code     string    `json:"code"`
	Language string    `json:"language"`
}

func (ListFiles) Action() string      { return ActionListFiles }
func (CreateNode) Action() string     { return ActionCreateNode }
func (RenameNode) Action() string     { return ActionRenameNode }
func (DeleteNode) Action() string     { return ActionDeleteNode }
func (ReadFile) Action() string       { return ActionReadFile }
func (WriteFile) Action() string      { return ActionWriteFile }
func (CursorPosition) Action() string { return ActionCursorUpdate }
func (FocusFile) Action() string      { return ActionFileFocus }
func (ExecuteCode) Action() string    { return ActionExecuteCode }

// EncodeIntent serializes an intent as a single object with its action tag.
func EncodeIntent(i Intent) ([]byte, error) {
	body, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", i.Action(), err)
	}
	header, _ := json.Marshal(i.Action())
	return splice([]byte(`"action":`), header, body), nil
}

// DecodeIntent parses an inbound intent. Unknown actions return
// ErrUnknownIntent.
func DecodeIntent(data []byte) (Intent, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var i Intent
	switch head.Action {
	case ActionListFiles:
		return ListFiles{}, nil
	case ActionCreateNode:
		i = &CreateNode{}
	case ActionRenameNode:
		i = &RenameNode{}
	case ActionDeleteNode:
		i = &DeleteNode{}
	case ActionReadFile:
		i = &ReadFile{}
	case ActionWriteFile:
		i = &WriteFile{}
	case ActionCursorUpdate:
		i = &CursorPosition{}
	case ActionFileFocus:
		i = &FocusFile{}
	case ActionExecuteCode:
		i = &ExecuteCode{}
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, head.Action)
	}
	if err := json.Unmarshal(data, i); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Action, err)
	}
	return deref(i), nil
}

// deref returns intents by value so callers switch on plain struct types.
func deref(i Intent) Intent {
	switch v := i.(type) {
	case *CreateNode:
		return *v
	case *RenameNode:
		return *v
	case *DeleteNode:
		return *v
	case *ReadFile:
		return *v
	case *WriteFile:
		return *v
	case *CursorPosition:
		return *v
	case *FocusFile:
		return *v
	case *ExecuteCode:
		return *v
	}
	return i
}

// splice inserts `key value` as the first member of the JSON object body.
func splice(key, value, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(key) + len(value) + len(body) + 2)
	buf.WriteByte('{')
	buf.Write(key)
	buf.Write(value)
	rest := bytes.TrimSpace(body)
	if len(rest) > 2 {
		buf.WriteByte(',')
		buf.Write(rest[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes()
}
