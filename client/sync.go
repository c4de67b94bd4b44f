// Package client implements the workspace client: the edit synchronizer,
// the websocket session carrying the broadcast channel, and the HTTP API
// wrapper. The editing widget itself is opaque; it only needs to expose its
// current value, accept replacement values, and invoke HandleLocalChange
// from its change notification.
package client

import (
	"sync"
	"time"

	"github.com/hyperide/backend/internal/protocol"
	"github.com/hyperide/backend/internal/workspace"
	"go.uber.org/zap"
)

// DefaultDebounceWindow is the coalescing delay between the last local
// keystroke and the published full-document edit.
const DefaultDebounceWindow = 300 * time.Millisecond

// PlaceholderContent is shown when no files remain in the workspace.
const PlaceholderContent = "// Workspace empty. Click + CREATE to begin."

// Editor is the opaque text-editing widget.
type Editor interface {
	Value() string
	SetValue(content string)
}

// Channel publishes command messages toward the server. Implemented by
// Session and by in-memory fakes in tests.
type Channel interface {
	Send(action string, payload interface{}) error
}

// applyState tags whether the synchronizer is currently writing a remote
// update into the editor. Local change notifications are no-ops while in
// stateApplyingRemote; the state returns to stateIdle unconditionally after
// every application pass, so the client can never get stuck silent.
type applyState int

const (
	stateIdle applyState = iota
	stateApplyingRemote
)

// SynchronizerConfig configures a Synchronizer.
type SynchronizerConfig struct {
	Editor         Editor
	Channel        Channel
	User           string
	Role           string
	DebounceWindow time.Duration
	// OnAlert receives server rejections (ERROR and LOCKED responses)
	// targeted at this user. Optional.
	OnAlert func(message string)
	Logger  *zap.Logger
}

// Synchronizer coalesces local edits into whole-document EditEvents and
// applies remote updates while suppressing echo loops.
type Synchronizer struct {
	editor  Editor
	channel Channel
	user    string
	role    string
	window  time.Duration
	onAlert func(string)
	logger  *zap.Logger

	mu         sync.Mutex
	state      applyState
	activeFile string
	timer      *time.Timer
}

// NewSynchronizer constructs a synchronizer with no active file.
func NewSynchronizer(cfg SynchronizerConfig) *Synchronizer {
	window := cfg.DebounceWindow
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onAlert := cfg.OnAlert
	if onAlert == nil {
		onAlert = func(string) {}
	}
	return &Synchronizer{
		editor:  cfg.Editor,
		channel: cfg.Channel,
		user:    cfg.User,
		role:    cfg.Role,
		window:  window,
		onAlert: onAlert,
		logger:  logger,
	}
}

// HandleLocalChange is invoked by the editing widget on every content
// change. Changes caused by applying a remote update, and changes with no
// active file, are ignored. Otherwise the coalescing timer is reset; when
// it fires with no further changes, one EditEvent carrying the entire
// current document is published.
func (s *Synchronizer) HandleLocalChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateApplyingRemote || s.activeFile == "" {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, s.flush)
}

func (s *Synchronizer) flush() {
	s.mu.Lock()
	file := s.activeFile
	s.timer = nil
	s.mu.Unlock()
	if file == "" {
		return
	}

	event := workspace.EditEvent{
		FileName: file,
		Content:  s.editor.Value(),
		User:     s.user,
		Role:     s.role,
	}
	if err := s.channel.Send(protocol.ActionEdit, event); err != nil {
		s.logger.Warn("edit publish failed", zap.Error(err), zap.String("file", file))
	}
}

// HandleUpdate processes one frame from the updates topic. Rejections
// (ERROR, LOCKED) targeted at this user surface through OnAlert and are
// never applied. UPDATE frames are ignored unless they concern the active
// file and originate from a different user: self-originated events are
// always discarded, which is what breaks the echo loop — every publish is
// delivered back to its sender too.
func (s *Synchronizer) HandleUpdate(response workspace.EditResponse) {
	switch response.Type {
	case workspace.ResponseTypeError, workspace.ResponseTypeLocked:
		if response.User == s.user {
			s.onAlert("SERVER: " + response.Content)
		}
		return
	case workspace.ResponseTypeUpdate:
	default:
		return
	}

	s.mu.Lock()
	active := s.activeFile
	s.mu.Unlock()
	if response.FileName != active || response.User == s.user {
		return
	}
	s.applyRemote(response.Content)
}

// SetActiveFile switches the synchronizer to a new document, replacing the
// editor content under remote-apply suppression. Any pending coalescing
// timer for the previous file is cancelled.
func (s *Synchronizer) SetActiveFile(path, content string) {
	s.mu.Lock()
	s.activeFile = path
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.applyRemote(content)
}

// AdoptFile switches to a document whose content originates locally, such
// as an upload. Unlike SetActiveFile the editor write is not suppressed, so
// the widget's change notification schedules a publish of the new content.
func (s *Synchronizer) AdoptFile(path, content string) {
	s.mu.Lock()
	s.activeFile = path
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.editor.SetValue(content)
}

// ClearActiveFile puts the synchronizer into the empty-workspace state.
func (s *Synchronizer) ClearActiveFile() {
	s.SetActiveFile("", PlaceholderContent)
}

// ActiveFile reports the currently synchronized path, empty when none.
func (s *Synchronizer) ActiveFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFile
}

// applyRemote replaces the editor content wholesale. The state transition
// back to idle is deferred so it happens on every path; the widget's own
// change notification fires during SetValue and is suppressed by the state
// check at the top of HandleLocalChange.
func (s *Synchronizer) applyRemote(content string) {
	s.mu.Lock()
	s.state = stateApplyingRemote
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.state = stateIdle
		s.mu.Unlock()
	}()
	s.editor.SetValue(content)
}
