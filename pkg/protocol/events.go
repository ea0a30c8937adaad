package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Samijain03/Collab-X/pkg/delta"
	"github.com/Samijain03/Collab-X/pkg/models"
)

var (
	// ErrMalformed reports a message that is not valid JSON or lacks a
	// required field.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownIntent reports an intent whose action is not recognized.
	ErrUnknownIntent = errors.New("protocol: unknown intent")
)

// Event type tags.
const (
	TypeBootstrap       = "workspace_bootstrap"
	TypeFileList        = "file_list"
	TypeFileContent     = "file_content"
	TypeFileUpdate      = "file_update"
	TypeCursorUpdate    = "cursor_update"
	TypeFileFocus       = "file_focus"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeWorkspaceEvent  = "workspace_event"
	TypeExecutionResult = "execution_result"
	TypeError           = "error"
)

// workspace_event kinds.
const (
	KindTreeRefresh = "tree_refresh"
	KindRunResult   = "run_result"
	KindFileCreated = "file_created"
	KindFileUpdated = "file_updated"
	KindFileRenamed = "file_renamed"
	KindFileDeleted = "file_deleted"
	KindNodeCreated = "node_created"
	KindNodeUpdated = "node_updated"
	KindNodeDeleted = "node_deleted"
)

// Event is an inbound message from the session. The set of implementations
// is closed; anything the decoder does not recognize becomes Unknown.
type Event interface {
	// Type returns the dispatch tag. For workspace_event messages this is
	// the nested event kind.
	Type() string
	isEvent()
}

// Bootstrap replaces the whole node set when a channel opens.
type Bootstrap struct {
	Nodes []*models.Node `json:"nodes"`
}

// FileList replaces the whole node set in answer to list_files.
type FileList struct {
	Files []*models.Node `json:"files"`
}

// FileContent answers read_file with the authoritative content.
type FileContent struct {
	NodeID  models.ID `json:"node_id"`
	Content string    `json:"content"`
}

// FileUpdate is a content change made by UserID. It carries a delta, full
// content, or both; full content wins when present.
type FileUpdate struct {
	NodeID         models.ID    `json:"node_id"`
	UserID         models.ID    `json:"user_id"`
	Delta          *delta.Delta `json:"delta,omitempty"`
	Content        *string      `json:"content,omitempty"`
	CursorPosition int          `json:"cursor_position,omitempty"`
}

// CursorUpdate is a remote user's caret and selection.
type CursorUpdate struct {
	models.User
	NodeID         models.ID `json:"node_id"`
	CursorPosition int       `json:"cursor_position"`
	SelectionStart int       `json:"selection_start"`
	SelectionEnd   int       `json:"selection_end"`
}

// FileFocus reports which file a remote user is viewing.
type FileFocus struct {
	models.User
	NodeID models.ID `json:"node_id"`
}

type UserJoined struct {
	models.User
}

type UserLeft struct {
	UserID models.ID `json:"user_id"`
}

// TreeRefresh replaces the whole node set. SelectNodeID, when set, asks the
// receiver to open that node.
type TreeRefresh struct {
	Nodes        []*models.Node `json:"nodes"`
	SelectNodeID models.ID      `json:"select_node_id,omitempty"`
}

// NodeChanged patches one node in the flat set. Node is set for creations
// and updates; deletions carry only NodeID.
type NodeChanged struct {
	Kind   string       `json:"-"`
	Node   *models.Node `json:"node,omitempty"`
	NodeID models.ID    `json:"node_id,omitempty"`
}

// Deleted reports whether the change removes the node.
func (e NodeChanged) Deleted() bool {
	return e.Kind == KindFileDeleted || e.Kind == KindNodeDeleted
}

// ID returns the affected node id.
func (e NodeChanged) ID() models.ID {
	if e.NodeID != "" {
		return e.NodeID
	}
	if e.Node != nil {
		return e.Node.ID
	}
	return ""
}

// RunOutput is the payload of a run: an HTML document or a stdout/stderr
// pair.
type RunOutput struct {
	HTML   string `json:"html,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// RunResult reports a finished execution and who requested it.
type RunResult struct {
	NodeID      models.ID `json:"node_id,omitempty"`
	Language    string    `json:"language"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Result      RunOutput `json:"result"`
}

// Model converts the event to the shared result type.
func (e RunResult) Model() models.RunResult {
	return models.RunResult{
		NodeID:      e.NodeID,
		Language:    e.Language,
		HTML:        e.Result.HTML,
		Stdout:      e.Result.Stdout,
		Stderr:      e.Result.Stderr,
		RequestedBy: e.RequestedBy,
	}
}

// ExecutionResult is the plain-text form of a run result.
type ExecutionResult struct {
	Output   string `json:"output"`
	Language string `json:"language"`
}

// Error is a rejection of one intent by the session.
type Error struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// Unknown holds a message with an unrecognized tag.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (Bootstrap) Type() string       { return TypeBootstrap }
func (FileList) Type() string        { return TypeFileList }
func (FileContent) Type() string     { return TypeFileContent }
func (FileUpdate) Type() string      { return TypeFileUpdate }
func (CursorUpdate) Type() string    { return TypeCursorUpdate }
func (FileFocus) Type() string       { return TypeFileFocus }
func (UserJoined) Type() string      { return TypeUserJoined }
func (UserLeft) Type() string        { return TypeUserLeft }
func (TreeRefresh) Type() string     { return KindTreeRefresh }
func (e NodeChanged) Type() string   { return e.Kind }
func (RunResult) Type() string       { return KindRunResult }
func (ExecutionResult) Type() string { return TypeExecutionResult }
func (Error) Type() string           { return TypeError }
func (e Unknown) Type() string       { return e.Tag }

func (Bootstrap) isEvent()       {}
func (FileList) isEvent()        {}
func (FileContent) isEvent()     {}
func (FileUpdate) isEvent()      {}
func (CursorUpdate) isEvent()    {}
func (FileFocus) isEvent()       {}
func (UserJoined) isEvent()      {}
func (UserLeft) isEvent()        {}
func (TreeRefresh) isEvent()     {}
func (NodeChanged) isEvent()     {}
func (RunResult) isEvent()       {}
func (ExecutionResult) isEvent() {}
func (Error) isEvent()           {}
func (Unknown) isEvent()         {}

// DecodeEvent parses one inbound message. Unrecognized tags decode to
// Unknown with a nil error; invalid JSON or missing required fields return
// ErrMalformed.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case TypeBootstrap, TypeFileList:
		var w struct {
			Nodes []*models.Node `json:"nodes"`
			Files []*models.Node `json:"files"`
		}
		if err := unmarshal(data, head.Type, &w); err != nil {
			return nil, err
		}
		nodes := w.Nodes
		if nodes == nil {
			nodes = w.Files
		}
		if head.Type == TypeBootstrap {
			return Bootstrap{Nodes: nodes}, nil
		}
		return FileList{Files: nodes}, nil

	case TypeFileContent:
		var w struct {
			NodeID  models.ID `json:"node_id"`
			Content *string   `json:"content"`
		}
		if err := unmarshal(data, head.Type, &w); err != nil {
			return nil, err
		}
		if w.NodeID == "" || w.Content == nil {
			return nil, missing(head.Type, "node_id or content")
		}
		return FileContent{NodeID: w.NodeID, Content: *w.Content}, nil

	case TypeFileUpdate:
		var e FileUpdate
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		if e.NodeID == "" || (e.Delta == nil && e.Content == nil) {
			return nil, missing(head.Type, "node_id or payload")
		}
		if e.Delta != nil && !knownDelta(e.Delta) {
			return nil, missing(head.Type, "delta.type")
		}
		return e, nil

	case TypeCursorUpdate:
		var e CursorUpdate
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		if e.ID == "" {
			return nil, missing(head.Type, "user_id")
		}
		return e, nil

	case TypeFileFocus:
		var e FileFocus
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		if e.ID == "" {
			return nil, missing(head.Type, "user_id")
		}
		return e, nil

	case TypeUserJoined:
		var e UserJoined
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		if e.ID == "" {
			return nil, missing(head.Type, "user_id")
		}
		return e, nil

	case TypeUserLeft:
		var e UserLeft
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		if e.UserID == "" {
			return nil, missing(head.Type, "user_id")
		}
		return e, nil

	case TypeExecutionResult:
		var e ExecutionResult
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil

	case TypeError:
		var e Error
		if err := unmarshal(data, head.Type, &e); err != nil {
			return nil, err
		}
		return e, nil

	case TypeWorkspaceEvent:
		return decodeWorkspaceEvent(head.Event, data)
	}

	return Unknown{Tag: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

func decodeWorkspaceEvent(kind string, data []byte) (Event, error) {
	switch kind {
	case KindTreeRefresh:
		var e TreeRefresh
		if err := unmarshal(data, kind, &e); err != nil {
			return nil, err
		}
		return e, nil

	case KindRunResult:
		var w struct {
			RunResult
			FileID models.ID `json:"file_id"`
		}
		if err := unmarshal(data, kind, &w); err != nil {
			return nil, err
		}
		e := w.RunResult
		if e.NodeID == "" {
			e.NodeID = w.FileID
		}
		return e, nil

	case KindFileCreated, KindFileUpdated, KindFileRenamed, KindFileDeleted,
		KindNodeCreated, KindNodeUpdated, KindNodeDeleted:
		// Older servers send the node under "file" and deletions as
		// "file_id".
		var w struct {
			Node   *models.Node `json:"node"`
			File   *models.Node `json:"file"`
			NodeID models.ID    `json:"node_id"`
			FileID models.ID    `json:"file_id"`
		}
		if err := unmarshal(data, kind, &w); err != nil {
			return nil, err
		}
		e := NodeChanged{Kind: kind, Node: w.Node, NodeID: w.NodeID}
		if e.Node == nil {
			e.Node = w.File
		}
		if e.NodeID == "" {
			e.NodeID = w.FileID
		}
		if e.Deleted() {
			e.Node = nil
			if e.NodeID == "" {
				return nil, missing(kind, "node_id")
			}
			return e, nil
		}
		if e.Node == nil || e.Node.ID == "" {
			return nil, missing(kind, "node")
		}
		return e, nil
	}
	tag := TypeWorkspaceEvent
	if kind != "" {
		tag = kind
	}
	return Unknown{Tag: tag, Raw: append(json.RawMessage(nil), data...)}, nil
}

func unmarshal(data []byte, tag string, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
	}
	return nil
}

func missing(tag, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformed, tag, field)
}

func knownDelta(d *delta.Delta) bool {
	switch d.Type {
	case delta.Insert, delta.Delete, delta.Replace:
		return true
	}
	return false
}

// EncodeEvent serializes an event with its type tag. workspace_event kinds
// are written as {"type":"workspace_event","event":kind,...}.
func EncodeEvent(e Event) ([]byte, error) {
	if u, ok := e.(Unknown); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	switch e.(type) {
	case TreeRefresh, NodeChanged, RunResult:
		kind, _ := json.Marshal(e.Type())
		header := append([]byte(`"workspace_event","event":`), kind...)
		return splice([]byte(`"type":`), header, body), nil
	}
	tag, _ := json.Marshal(e.Type())
	return splice([]byte(`"type":`), tag, body), nil
}
