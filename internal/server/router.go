package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hyperide/backend/internal/auth"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/chat"
	"github.com/hyperide/backend/internal/exec"
	"github.com/hyperide/backend/internal/presence"
	"github.com/hyperide/backend/internal/stats"
	"github.com/hyperide/backend/internal/users"
	"github.com/hyperide/backend/internal/workspace"
	"go.uber.org/zap"
)

const sessionContextKey = "hyperide_session"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingRegistry      = errors.New("workspace registry dependency required")
	errMissingBroker        = errors.New("broker dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueSessionToken(session auth.Session) (string, int64, error)
	ValidateToken(token string) (auth.Session, error)
}

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	TokenManager TokenManager
	Users        *users.Service
	Registry     *workspace.Service
	Presence     *presence.Tracker
	Chat         *chat.Relay
	Exec         *exec.Router
	Stats        *stats.Aggregator
	Broker       *broker.Broker
	Logger       *zap.Logger
}

// NewHTTPHandler builds the full REST + websocket surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Broker == nil {
		return nil, errMissingBroker
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Presence == nil {
		deps.Presence = presence.NewTracker(nil)
	}
	if deps.Chat == nil {
		deps.Chat = chat.NewRelay(nil)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		users:    deps.Users,
		registry: deps.Registry,
		presence: deps.Presence,
		chat:     deps.Chat,
		exec:     deps.Exec,
		stats:    deps.Stats,
		broker:   deps.Broker,
		logger:   logger,
	}

	router.POST("/api/auth/register", handler.handleRegister)
	router.POST("/api/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/api/files", handler.handleListFiles)
	protected.GET("/api/editor/content", handler.handleFileContent)
	protected.GET("/api/stats", handler.handleStats)
	protected.POST("/api/run", handler.handleRun)
	protected.GET("/ws", handler.handleSocket)

	adminOnly := protected.Group("/api/admin")
	adminOnly.Use(handler.requireAdmin)
	adminOnly.POST("/reset-password", handler.handleResetPassword)
	adminOnly.POST("/grant-access", handler.handleGrantAccess)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	users    *users.Service
	registry *workspace.Service
	presence *presence.Tracker
	chat     *chat.Relay
	exec     *exec.Router
	stats    *stats.Aggregator
	broker   *broker.Broker
	logger   *zap.Logger
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.users.Register(c.Request.Context(), request.Username, request.Password)
	switch {
	case errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_taken"})
	case errors.Is(err, users.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password", "detail": err.Error()})
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "registered"})
	}
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(session)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Username:    session.User,
		Role:        session.Role,
	})
}

func (h *httpHandler) handleListFiles(c *gin.Context) {
	session := h.sessionFrom(c)
	paths, err := h.registry.List(c.Request.Context(), session.Role)
	if err != nil {
		h.logger.Error("file listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if paths == nil {
		paths = []string{}
	}
	c.JSON(http.StatusOK, paths)
}

func (h *httpHandler) handleFileContent(c *gin.Context) {
	session := h.sessionFrom(c)
	path := c.Query("path")

	content, err := h.registry.Load(c.Request.Context(), path, session.Role)
	switch {
	case errors.Is(err, workspace.ErrPermissionDenied):
		c.String(http.StatusForbidden, "// ERROR: ACCESS DENIED.")
	case errors.Is(err, workspace.ErrNotFound):
		c.String(http.StatusNotFound, "")
	case errors.Is(err, workspace.ErrInvalidPath):
		c.String(http.StatusBadRequest, "")
	case err != nil:
		h.logger.Error("content fetch failed", zap.Error(err), zap.String("path", path))
		c.String(http.StatusInternalServerError, "")
	default:
		c.String(http.StatusOK, content)
	}
}

func (h *httpHandler) handleStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusOK, map[string]int64{})
		return
	}
	snapshot, err := h.stats.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("stats snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleRun(c *gin.Context) {
	if h.exec == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution_unavailable"})
		return
	}
	var request exec.Request
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.exec.Run(c.Request.Context(), request)
	if errors.Is(err, exec.ErrBackendUnreachable) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_unreachable"})
		return
	}
	if err != nil {
		h.logger.Error("execution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution_failed"})
		return
	}
	if result.Raw != "" && result.Compile == nil && result.Run == nil {
		// Opaque upstream body: pass it through verbatim so the client can
		// render it instead of failing on parse.
		c.String(http.StatusOK, result.Raw)
		return
	}
	c.JSON(http.StatusOK, result)
}

type resetPasswordPayload struct {
	Username    string `json:"username"`
	NewPassword string `json:"newPassword"`
}

func (h *httpHandler) handleResetPassword(c *gin.Context) {
	var request resetPasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.users.ResetPassword(c.Request.Context(), request.Username, request.NewPassword)
	if errors.Is(err, users.ErrUnknownUser) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_user"})
		return
	}
	if err != nil {
		h.logger.Error("password reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type grantAccessPayload struct {
	Username string `json:"username"`
	FileName string `json:"fileName"`
}

func (h *httpHandler) handleGrantAccess(c *gin.Context) {
	var request grantAccessPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.users.GrantAccess(c.Request.Context(), request.Username, request.FileName)
	if errors.Is(err, users.ErrUnknownUser) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_user"})
		return
	}
	if err != nil {
		h.logger.Error("grant access failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

// authorizeRequest validates the bearer token (or, for websocket upgrades,
// the token query parameter) and stores the session. Every privileged
// operation downstream derives its effective role from this session, never
// from client payload fields.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	session, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, session)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	session := h.sessionFrom(c)
	if !auth.IsAdmin(session.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	c.Next()
}

func (h *httpHandler) sessionFrom(c *gin.Context) auth.Session {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.Session{}
	}
	session, ok := value.(auth.Session)
	if !ok {
		return auth.Session{}
	}
	return session
}
