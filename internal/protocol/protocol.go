// Package protocol defines the websocket command envelope and payload
// shapes shared by the server and the client package.
package protocol

import "encoding/json"

// Command actions accepted on the websocket.
const (
	ActionEdit       = "edit"
	ActionChatSend   = "chat.send"
	ActionPresence   = "presence"
	ActionFileCreate = "files.create"
	ActionFileDelete = "files.delete"
)

// Broadcast frame types.
const (
	FrameFileListChanged = "changed"
	FramePresenceMap     = "map"
	FrameChatMessage     = "chat"
)

// CommandEnvelope is one inbound client frame.
type CommandEnvelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// PresencePing reports which file a user currently has open.
type PresencePing struct {
	User string `json:"user"`
	File string `json:"file"`
}

// FileCreate asks the registry to create creator/name. Role is carried for
// wire compatibility; the server derives the effective role from the
// session.
type FileCreate struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
	Role    string `json:"role"`
}

// FileDelete asks the registry to remove a path. Role as in FileCreate.
type FileDelete struct {
	Path string `json:"path"`
	Role string `json:"role"`
}
