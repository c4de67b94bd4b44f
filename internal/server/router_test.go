package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/hyperide/backend/internal/auth"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/exec"
	"github.com/hyperide/backend/internal/stats"
	"github.com/hyperide/backend/internal/users"
	"github.com/hyperide/backend/internal/workspace"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSigningSecret = "router-test-secret"
	testAdminPassword = "Adm1n!pass"
	testUserPassword  = "Passw0rd!"
)

type testEnv struct {
	handler  http.Handler
	tokens   *auth.TokenIssuer
	registry *workspace.Service
	users    *users.Service
	broker   *broker.Broker
}

func newTestEnv(t *testing.T, execEndpoint string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(t.TempDir(), "server_test.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&workspace.File{}, &workspace.EditRecord{}, &users.User{}, &users.FileGrant{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	registry, err := workspace.NewService(workspace.ServiceConfig{
		Database:   db,
		IDProvider: workspace.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	accountService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	aggregator, err := stats.NewAggregator(db)
	if err != nil {
		t.Fatalf("failed to build aggregator: %v", err)
	}
	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
	})

	var execRouter *exec.Router
	if execEndpoint != "" {
		execRouter, err = exec.NewRouter(exec.RouterConfig{Endpoint: execEndpoint})
		if err != nil {
			t.Fatalf("failed to build exec router: %v", err)
		}
	}

	messageBroker := broker.New()
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		Users:        accountService,
		Registry:     registry,
		Exec:         execRouter,
		Stats:        aggregator,
		Broker:       messageBroker,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	if err := accountService.SeedAdmin(context.Background(), "admin", testAdminPassword); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	return &testEnv{
		handler:  handler,
		tokens:   tokens,
		registry: registry,
		users:    accountService,
		broker:   messageBroker,
	}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func (env *testEnv) tokenFor(t *testing.T, session auth.Session) string {
	t.Helper()
	token, _, err := env.tokens.IssueSessionToken(session)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")

	recorder := env.do(t, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "alice", "password": testUserPassword})
	if recorder.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": "alice", "password": testUserPassword})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response loginResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if response.AccessToken == "" || response.Role != auth.RoleUser || response.Username != "alice" {
		t.Fatalf("unexpected login response %+v", response)
	}

	session, err := env.tokens.ValidateToken(response.AccessToken)
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if session.User != "alice" || session.Role != auth.RoleUser {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t, "")

	recorder := env.do(t, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "alice", "password": "short"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t, "")

	recorder := env.do(t, http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": "admin", "password": "wrong"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(t, "")

	for _, path := range []string{"/api/files", "/api/stats", "/api/editor/content?path=a/b.txt"} {
		recorder := env.do(t, http.MethodGet, path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, recorder.Code)
		}
		recorder = env.do(t, http.MethodGet, path, "not-a-token", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 with garbage token, got %d", path, recorder.Code)
		}
	}
}

func TestFileListingHidesAdminFolderFromUsers(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	adminActor := workspace.Actor{User: "admin", Role: auth.RoleAdmin}
	aliceActor := workspace.Actor{User: "alice", Role: auth.RoleUser}

	if err := env.registry.SeedWelcomeFile(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := env.registry.Create(ctx, "main.py", "alice", aliceActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.registry.Create(ctx, "notes.txt", "admin", adminActor); err != nil {
		t.Fatalf("admin create: %v", err)
	}

	userToken := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})
	recorder := env.do(t, http.MethodGet, "/api/files", userToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var userPaths []string
	if err := json.Unmarshal(recorder.Body.Bytes(), &userPaths); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(userPaths) != 1 || userPaths[0] != "alice/main.py" {
		t.Fatalf("unexpected user listing %v", userPaths)
	}

	adminToken := env.tokenFor(t, auth.Session{User: "admin", Role: auth.RoleAdmin})
	recorder = env.do(t, http.MethodGet, "/api/files", adminToken, nil)
	var adminPaths []string
	if err := json.Unmarshal(recorder.Body.Bytes(), &adminPaths); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(adminPaths) != 3 {
		t.Fatalf("expected admin to see all three paths, got %v", adminPaths)
	}
}

func TestFileContentEndpointGatesAdminFolder(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.registry.SeedWelcomeFile(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	userToken := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})
	recorder := env.do(t, http.MethodGet, "/api/editor/content?path=admin/welcome.txt", userToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if recorder.Body.String() != "// ERROR: ACCESS DENIED." {
		t.Fatalf("unexpected denial body %q", recorder.Body.String())
	}

	adminToken := env.tokenFor(t, auth.Session{User: "admin", Role: auth.RoleAdmin})
	recorder = env.do(t, http.MethodGet, "/api/editor/content?path=admin/welcome.txt", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.Len() == 0 {
		t.Fatal("expected welcome content")
	}

	recorder = env.do(t, http.MethodGet, "/api/editor/content?path=alice/missing.py", adminToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, "/api/editor/content?path=../escape", adminToken, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestStatsEndpointCountsAppliedEdits(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	aliceActor := workspace.Actor{User: "alice", Role: auth.RoleUser}

	if err := env.registry.Create(ctx, "main.py", "alice", aliceActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		event := workspace.EditEvent{FileName: "alice/main.py", Content: fmt.Sprintf("v%d", i)}
		response, err := env.registry.ApplyEdit(ctx, event, aliceActor)
		if err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
		if response.Type != workspace.ResponseTypeUpdate {
			t.Fatalf("edit %d rejected: %+v", i, response)
		}
	}

	token := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})
	recorder := env.do(t, http.MethodGet, "/api/stats", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var snapshot map[string]int64
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot["alice"] != 3 {
		t.Fatalf("expected 3 edits for alice, got %v", snapshot)
	}
}

func TestRunEndpointProxiesExecutionBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"compile":{"code":0,"output":""},"run":{"code":0,"output":"hello\n"}}`)
	}))
	defer backend.Close()

	env := newTestEnv(t, backend.URL)
	token := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})

	recorder := env.do(t, http.MethodPost, "/api/run", token, exec.Request{
		Language: "python",
		Version:  "3.10.0",
		Files:    []exec.FilePayload{{Content: "print('hello')"}},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result exec.Result
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Run == nil || result.Run.Output != "hello\n" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunEndpointPassesOpaqueBodiesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "quota exceeded, try later")
	}))
	defer backend.Close()

	env := newTestEnv(t, backend.URL)
	token := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})

	recorder := env.do(t, http.MethodPost, "/api/run", token, exec.Request{Language: "java"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != "quota exceeded, try later" {
		t.Fatalf("expected verbatim passthrough, got %q", recorder.Body.String())
	}
}

func TestRunEndpointReportsUnreachableBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	env := newTestEnv(t, backend.URL)
	token := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})

	recorder := env.do(t, http.MethodPost, "/api/run", token, exec.Request{Language: "java"})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
}

func TestAdminEndpointsRejectNonAdmins(t *testing.T) {
	env := newTestEnv(t, "")
	userToken := env.tokenFor(t, auth.Session{User: "alice", Role: auth.RoleUser})

	recorder := env.do(t, http.MethodPost, "/api/admin/reset-password", userToken,
		map[string]string{"username": "bob", "newPassword": testUserPassword})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPost, "/api/admin/grant-access", userToken,
		map[string]string{"username": "bob", "fileName": "bob/a.py"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestAdminCanResetPassword(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	if err := env.users.Register(ctx, "bob", testUserPassword); err != nil {
		t.Fatalf("register: %v", err)
	}

	adminToken := env.tokenFor(t, auth.Session{User: "admin", Role: auth.RoleAdmin})
	recorder := env.do(t, http.MethodPost, "/api/admin/reset-password", adminToken,
		map[string]string{"username": "bob", "newPassword": "N3wSecret!"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if _, err := env.users.Authenticate(ctx, "bob", "N3wSecret!"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if _, err := env.users.Authenticate(ctx, "bob", testUserPassword); err == nil {
		t.Fatal("old password still accepted")
	}
}

func TestAdminCanGrantAccess(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	if err := env.users.Register(ctx, "bob", testUserPassword); err != nil {
		t.Fatalf("register: %v", err)
	}

	adminToken := env.tokenFor(t, auth.Session{User: "admin", Role: auth.RoleAdmin})
	recorder := env.do(t, http.MethodPost, "/api/admin/grant-access", adminToken,
		map[string]string{"username": "bob", "fileName": "shared/doc.txt"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	grants, err := env.users.Grants(ctx, "bob")
	if err != nil {
		t.Fatalf("grants: %v", err)
	}
	if len(grants) != 1 || grants[0] != "shared/doc.txt" {
		t.Fatalf("unexpected grants %v", grants)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	env := newTestEnv(t, "")

	past := time.Now().Add(-24 * time.Hour)
	expiredIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return past },
	})
	token, _, err := expiredIssuer.IssueSessionToken(auth.Session{User: "alice", Role: auth.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	recorder := env.do(t, http.MethodGet, "/api/files", token, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", recorder.Code)
	}
}
