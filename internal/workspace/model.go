package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// FolderAdmin is the shared folder reserved for admin-owned files.
const FolderAdmin = "admin"

// Edit response types published on the updates topic.
const (
	ResponseTypeUpdate = "UPDATE"
	ResponseTypeError  = "ERROR"
	ResponseTypeLocked = "LOCKED"
)

var (
	// ErrPermissionDenied indicates the actor's role may not perform the operation.
	ErrPermissionDenied = errors.New("workspace: permission denied")
	// ErrFileLocked indicates another participant owns the file's edit lock.
	ErrFileLocked = errors.New("workspace: file locked")
	// ErrNotFound indicates the path does not name a registered file.
	ErrNotFound = errors.New("workspace: file not found")
	// ErrInvalidPath indicates a path outside the folder/name form.
	ErrInvalidPath = errors.New("workspace: invalid path")
)

// File is the persisted registry entry. Content is replaced wholesale on
// every accepted edit; no deltas are stored.
type File struct {
	Path             string `gorm:"column:path;primaryKey;size:190;not null"`
	Folder           string `gorm:"column:folder;size:190;not null;index"`
	Name             string `gorm:"column:name;size:190;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (File) TableName() string {
	return "files"
}

// EditRecord captures an append-only audit trail of accepted edits. The
// stats aggregator derives per-user contribution counts from this table.
type EditRecord struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null"`
	UserName         string `gorm:"column:user_name;size:190;not null;index"`
	Path             string `gorm:"column:path;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EditRecord) TableName() string {
	return "edit_records"
}

// Actor is the authenticated identity performing a registry operation. The
// role comes from the validated session, never from the client payload.
type Actor struct {
	User string
	Role string
}

// EditEvent is a complete replacement of a file's content as submitted by a
// client. Content is the full intended document state at time of send.
type EditEvent struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	User     string `json:"user"`
	Role     string `json:"role"`
}

// EditResponse is the broadcast outcome of an edit submission. ERROR and
// LOCKED responses carry the acting user so other clients can ignore them.
type EditResponse struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	User     string `json:"user"`
	FileName string `json:"fileName"`
}

// NormalizePath canonicalizes separators and validates the folder/name form.
func NormalizePath(rawPath string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(rawPath), "\\", "/")
	segments := strings.Split(cleaned, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rawPath)
	}
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, rawPath)
		}
	}
	return cleaned, nil
}

// SplitPath returns the folder and name components of a normalized path.
func SplitPath(path string) (string, string) {
	folder, name, _ := strings.Cut(path, "/")
	return folder, name
}
