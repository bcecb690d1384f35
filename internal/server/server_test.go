package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/async"
	"ada/internal/capability"
	"ada/internal/instruction"
	"ada/internal/llm"
	"ada/internal/orchestrator"
	"ada/internal/rag"
	"ada/internal/storage"
	"ada/internal/task"
)

func newTestServer(t *testing.T, client llm.Client) *Server {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tasks := task.NewStore(db, nil)
	instructions := instruction.NewStore(db, nil)
	conversations := storage.NewConversationStore(db)
	cursors := storage.NewCursorStore(db)

	index, err := rag.NewIndex(rag.IndexConfig{}, capability.NewFakeEmbedder(), nil)
	require.NoError(t, err)
	mail := capability.NewFakeMail()
	crm := capability.NewFakeCRM()

	registry := capability.NewRegistry()
	registry.MustRegister(
		capability.NewSearchMail(mail),
		capability.NewSendMail(mail),
		capability.NewCreateWaitingTask(tasks),
		capability.NewMarkTaskComplete(tasks),
	)

	orch := orchestrator.New(client, registry, tasks, instructions, conversations, index,
		async.NewKeyedMutex(), nil, orchestrator.Config{})
	ingestor := rag.NewIngestor(index, cursors, mail, crm, nil)

	return New(":0", Deps{
		Orchestrator: orch,
		Tasks:        tasks,
		Instructions: instructions,
		Ingestor:     ingestor,
		Ambiguity:    storage.NewAmbiguityStore(db),
		Tenants:      storage.NewTenantDirectory(db),
	})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient(llm.TextResponse("Hello!")))
	rec := doJSON(t, srv, http.MethodPost, "/api/chat",
		`{"tenant_id":"tenant-a","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello!", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestChatValidatesInput(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())
	rec := doJSON(t, srv, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInstructionLifecycle(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())

	rec := doJSON(t, srv, http.MethodPost, "/api/instructions",
		`{"tenant_id":"tenant-a","text":"when someone new emails me, create a contact"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/instructions?tenant_id=tenant-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	rec = doJSON(t, srv, http.MethodDelete, "/api/instructions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/instructions?tenant_id=tenant-a", "")
	assert.NotContains(t, rec.Body.String(), created.ID)
}

func TestTaskEndpoints(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())

	rec := doJSON(t, srv, http.MethodGet, "/api/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/tasks?tenant_id=tenant-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tasks"`)
}

func TestTenantRegistration(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())

	rec := doJSON(t, srv, http.MethodPost, "/api/tenants",
		`{"tenant_id":"tenant-a","display_name":"Team A"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/tenants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant-a")
}

func TestIngestAndStats(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())

	rec := doJSON(t, srv, http.MethodPost, "/api/ingest/tenant-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/rag/stats?tenant_id=tenant-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documents":0`)
}

func TestSyncWithoutPoller(t *testing.T) {
	srv := newTestServer(t, llm.NewMockClient())
	rec := doJSON(t, srv, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
