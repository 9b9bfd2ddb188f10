package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskhive/internal/handler"
	"taskhive/internal/repository/memory"
	"taskhive/internal/service/auth"
	"taskhive/internal/service/project"
	"taskhive/internal/service/task"
	"taskhive/pkg/mq"
	"taskhive/pkg/outbox"
	"taskhive/pkg/trace"
)

const jwtSecret = "router-test-secret"

type recordingPublisher struct {
	messages []mq.Message
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, msg mq.Message) error {
	p.messages = append(p.messages, msg)
	return nil
}

type testServer struct {
	engine    *gin.Engine
	store     *memory.Store
	publisher *recordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	store := memory.New()
	pub := &recordingPublisher{}

	h := Handlers{
		Auth:    handler.NewAuthHandler(auth.NewService(store.Users(), jwtSecret, time.Hour, []string{"admin@example.com"}, log), log),
		Project: handler.NewProjectHandler(project.NewService(store, log), log),
		Task:    handler.NewTaskHandler(task.NewService(store, log), log),
		Admin:   handler.NewAdminHandler(outbox.NewReplayService(store.Outbox(), pub, 3, log), log),
	}
	return &testServer{
		engine:    NewRouter(h, jwtSecret, store, log).Engine,
		store:     store,
		publisher: pub,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	code, _ := s.do(t, http.MethodPost, "/register", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, code)
	code, body := s.do(t, http.MethodPost, "/login", "", map[string]string{"email": email, "password": "password123"})
	require.Equal(t, http.StatusOK, code)
	return body["token"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/projects", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/login", "", map[string]string{"email": "x@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestTraceIDHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName(), "trace-abc")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, "trace-abc", w.Header().Get(trace.HeaderName()))

	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName()))
}

func TestProjectAndTaskFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")
	bob := s.login(t, "bob@example.com")

	code, body := s.do(t, http.MethodPost, "/projects", alice, map[string]any{"name": "Roadmap", "priority": "High"})
	require.Equal(t, http.StatusCreated, code)
	projectID := int(body["id"].(float64))
	projectPath := fmt.Sprintf("/projects/%d", projectID)

	code, body = s.do(t, http.MethodPost, "/projects", alice, map[string]any{"name": "Bad", "priority": "Critical"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "priority", body["field"])

	code, _ = s.do(t, http.MethodGet, projectPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodGet, "/projects/999", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/projects/abc", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, projectPath+"/tasks", alice, map[string]any{"name": "Ship it"})
	require.Equal(t, http.StatusCreated, code)
	taskPath := fmt.Sprintf("/tasks/%d", int(body["id"].(float64)))

	code, _ = s.do(t, http.MethodPost, taskPath+"/status", alice, map[string]any{"status": "Completed", "remark": "skip"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, body = s.do(t, http.MethodPost, taskPath+"/status", alice, map[string]any{"status": "In Progress", "remark": "started"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "In Progress", body["status"])

	code, body = s.do(t, http.MethodPost, taskPath+"/assign", alice, map[string]any{"assignee": "carol"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "carol", body["assignee"])

	code, body = s.do(t, http.MethodPatch, taskPath, alice, map[string]any{"due_date": nil, "progress": 30})
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["due_date"])
	assert.Equal(t, float64(30), body["progress"])

	code, body = s.do(t, http.MethodGet, taskPath+"/changelogs", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["change_logs"], 1)

	code, body = s.do(t, http.MethodPut, projectPath+"/progress", alice, map[string]any{"progress": 50.5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "progress", body["field"])

	code, body = s.do(t, http.MethodPost, projectPath+"/archive", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["archived"])
	assert.NotNil(t, body["archived_at"])

	code, body = s.do(t, http.MethodGet, projectPath+"/tasks/stats", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, body = s.do(t, http.MethodGet, projectPath+"/delete-plan", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["rows"])

	code, _ = s.do(t, http.MethodDelete, projectPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, body = s.do(t, http.MethodDelete, projectPath, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["rows"])

	code, _ = s.do(t, http.MethodGet, taskPath, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminReplay(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice@example.com")
	admin := s.login(t, "admin@example.com")

	code, _ := s.do(t, http.MethodPost, "/projects", alice, map[string]any{"name": "Roadmap"})
	require.Equal(t, http.StatusCreated, code)
	events := s.store.Outbox().Events()
	require.NotEmpty(t, events)

	path := fmt.Sprintf("/admin/outbox/replay?id=%d", events[0].ID)
	code, _ = s.do(t, http.MethodPost, path, alice, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := s.do(t, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "replayed", body["status"])
	require.Len(t, s.publisher.messages, 1)
	assert.Equal(t, events[0].RoutingKey, s.publisher.messages[0].RoutingKey)

	code, _ = s.do(t, http.MethodPost, "/admin/outbox/replay?id=9999", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(t, http.MethodPost, "/admin/outbox/replay-failed", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["success_count"])
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	store := memory.New()
	h := Handlers{
		Auth:    handler.NewAuthHandler(auth.NewService(store.Users(), jwtSecret, time.Hour, nil, log), log),
		Project: handler.NewProjectHandler(project.NewService(store, log), log),
		Task:    handler.NewTaskHandler(task.NewService(store, log), log),
		Admin:   handler.NewAdminHandler(outbox.NewReplayService(store.Outbox(), &recordingPublisher{}, 3, log), log),
	}
	engine := NewRouter(h, jwtSecret, store, log, WithCORS([]string{"http://app.example"})).Engine

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
