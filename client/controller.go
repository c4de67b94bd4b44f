package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/hyperide/backend/internal/auth"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/chat"
	"github.com/hyperide/backend/internal/exec"
	"github.com/hyperide/backend/internal/protocol"
	"github.com/hyperide/backend/internal/workspace"
	"go.uber.org/zap"
)

// DefaultStatsInterval is the polling cadence for the edit-count panel.
const DefaultStatsInterval = 2 * time.Second

// FileLister fetches the authoritative file list. Satisfied by API.
type FileLister interface {
	ListFiles(ctx context.Context) ([]string, error)
	FileContent(ctx context.Context, path string) (string, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	API     FileLister
	Channel Channel
	Sync    *Synchronizer
	User    string
	Role    string
	// OnFileList receives the refreshed file list after every files-topic
	// signal. Optional.
	OnFileList func(paths []string)
	// OnChat receives relayed chat messages. Optional.
	OnChat func(message chat.Message)
	// OnPresence receives the user-to-file presence map. Optional.
	OnPresence func(snapshot map[string]string)
	Logger     *zap.Logger
}

// Controller wires broadcast frames to the synchronizer and the rendering
// callbacks, and turns user gestures into commands on the channel.
type Controller struct {
	api        FileLister
	channel    Channel
	sync       *Synchronizer
	user       string
	role       string
	onFileList func([]string)
	onChat     func(chat.Message)
	onPresence func(map[string]string)
	logger     *zap.Logger
}

// NewController constructs a controller around an existing synchronizer.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onFileList := cfg.OnFileList
	if onFileList == nil {
		onFileList = func([]string) {}
	}
	onChat := cfg.OnChat
	if onChat == nil {
		onChat = func(chat.Message) {}
	}
	onPresence := cfg.OnPresence
	if onPresence == nil {
		onPresence = func(map[string]string) {}
	}
	return &Controller{
		api:        cfg.API,
		channel:    cfg.Channel,
		sync:       cfg.Sync,
		user:       cfg.User,
		role:       cfg.Role,
		onFileList: onFileList,
		onChat:     onChat,
		onPresence: onPresence,
		logger:     logger,
	}
}

// HandleMessage dispatches one broadcast frame by topic. Frames arrive in
// server delivery order; each topic's payloads are applied in that order.
func (c *Controller) HandleMessage(ctx context.Context, message broker.Message) {
	switch message.Topic {
	case broker.TopicUpdates:
		var response workspace.EditResponse
		if err := json.Unmarshal(message.Payload, &response); err != nil {
			c.logger.Warn("malformed update frame", zap.Error(err))
			return
		}
		c.sync.HandleUpdate(response)

	case broker.TopicFiles:
		if err := c.RefreshFiles(ctx); err != nil {
			c.logger.Warn("file list refresh failed", zap.Error(err))
		}

	case broker.TopicPublic:
		var relayed chat.Message
		if err := json.Unmarshal(message.Payload, &relayed); err != nil {
			c.logger.Warn("malformed chat frame", zap.Error(err))
			return
		}
		c.onChat(relayed)

	case broker.TopicPresence:
		// The presence map renders on the admin dashboard only.
		if !auth.IsAdmin(c.role) {
			return
		}
		var snapshot map[string]string
		if err := json.Unmarshal(message.Payload, &snapshot); err != nil {
			c.logger.Warn("malformed presence frame", zap.Error(err))
			return
		}
		c.onPresence(snapshot)
	}
}

// RefreshFiles refetches the file list and reconciles the active document:
// when the active path vanished, the first listed path becomes active, and
// an empty list drops to the placeholder.
func (c *Controller) RefreshFiles(ctx context.Context) error {
	paths, err := c.api.ListFiles(ctx)
	if err != nil {
		return err
	}
	c.onFileList(paths)

	active := c.sync.ActiveFile()
	if active != "" && contains(paths, active) {
		return nil
	}
	if len(paths) == 0 {
		c.sync.ClearActiveFile()
		return nil
	}
	return c.Activate(ctx, paths[0])
}

// Activate loads a document, makes it the synchronized file, and announces
// presence on it.
func (c *Controller) Activate(ctx context.Context, path string) error {
	content, err := c.api.FileContent(ctx, path)
	if err != nil {
		return err
	}
	c.sync.SetActiveFile(path, content)
	return c.PingPresence()
}

// PingPresence announces which file this user is looking at.
func (c *Controller) PingPresence() error {
	return c.channel.Send(protocol.ActionPresence, protocol.PresencePing{
		User: c.user,
		File: c.sync.ActiveFile(),
	})
}

// SendChat publishes a chat message, prefixing administrator messages so
// they render distinctly for everyone.
func (c *Controller) SendChat(content string) error {
	if auth.IsAdmin(c.role) {
		content = chat.AdminPrefix + content
	}
	return c.channel.Send(protocol.ActionChatSend, chat.Message{
		Sender:  c.user,
		Content: content,
	})
}

// CreateFile requests a new file in this user's folder. The list itself
// updates when the files-topic signal comes back.
func (c *Controller) CreateFile(name string) error {
	return c.channel.Send(protocol.ActionFileCreate, protocol.FileCreate{
		Name:    name,
		Creator: c.user,
		Role:    c.role,
	})
}

// DeleteFile requests removal of a path.
func (c *Controller) DeleteFile(path string) error {
	return c.channel.Send(protocol.ActionFileDelete, protocol.FileDelete{
		Path: path,
		Role: c.role,
	})
}

// Upload validates the name against the extension allowlist, requests
// creation, and adopts the uploaded content as the active document. The
// content reaches the server through the ordinary edit flow.
func (c *Controller) Upload(name, content string) error {
	if err := ValidateUploadName(name); err != nil {
		return err
	}
	if err := c.CreateFile(name); err != nil {
		return err
	}
	c.sync.AdoptFile(c.user+"/"+name, content)
	return c.PingPresence()
}

// Runner submits execution requests. Satisfied by API.
type Runner interface {
	Run(ctx context.Context, request exec.Request) (exec.Result, error)
}

// RunActiveFile submits the current document for execution, choosing the
// language from the file extension.
func (c *Controller) RunActiveFile(ctx context.Context, runner Runner, editorContent string) (exec.Result, error) {
	language, version := languageForPath(c.sync.ActiveFile())
	return runner.Run(ctx, exec.Request{
		Language: language,
		Version:  version,
		Files:    []exec.FilePayload{{Content: editorContent}},
	})
}

// StartStatsPolling polls the edit-count snapshot at the given interval,
// invoking onSnapshot for each successful fetch. The returned stop function
// is idempotent.
func (c *Controller) StartStatsPolling(ctx context.Context, interval time.Duration, onSnapshot func(map[string]int64)) func() {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot, err := c.api.Stats(ctx)
				if err != nil {
					c.logger.Warn("stats poll failed", zap.Error(err))
					continue
				}
				onSnapshot(snapshot)
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func languageForPath(path string) (language, version string) {
	if strings.HasSuffix(path, ".py") {
		return "python", "3.10.0"
	}
	return "java", "15.0.2"
}

func contains(paths []string, target string) bool {
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}
