package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oculair/toolcurator/pkg/cache"
	"github.com/oculair/toolcurator/pkg/config"
	"github.com/oculair/toolcurator/pkg/models"
	syncpkg "github.com/oculair/toolcurator/pkg/sync"
	"github.com/oculair/toolcurator/pkg/toolset"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

type fakeEngine struct {
	attachReq *toolset.AttachRequest
	attachRes *toolset.AttachResult
	attachErr error
	pruneReq  *toolset.PruneRequest
	pruneRes  *toolset.PruneResult
	pruneErr  error
}

func (f *fakeEngine) Attach(ctx context.Context, req toolset.AttachRequest) (*toolset.AttachResult, error) {
	f.attachReq = &req
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	if f.attachRes != nil {
		return f.attachRes, nil
	}
	return &toolset.AttachResult{Success: true}, nil
}

func (f *fakeEngine) Prune(ctx context.Context, req toolset.PruneRequest) (*toolset.PruneResult, error) {
	f.pruneReq = &req
	if f.pruneErr != nil {
		return nil, f.pruneErr
	}
	if f.pruneRes != nil {
		return f.pruneRes, nil
	}
	return &toolset.PruneResult{Success: true}, nil
}

type fakeSyncer struct {
	summary *syncpkg.Summary
	err     error
}

func (f *fakeSyncer) RunNow(ctx context.Context) (*syncpkg.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &syncpkg.Summary{}, nil
}

type fakeVector struct {
	ready     bool
	ensureErr error
	hits      []vectorstore.Hit
	searchErr error
	gotQuery  string
}

func (f *fakeVector) Ready() bool { return f.ready }

func (f *fakeVector) EnsureReady(ctx context.Context) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ready = true
	return nil
}

func (f *fakeVector) Search(ctx context.Context, query string, limit int) ([]vectorstore.Hit, error) {
	f.gotQuery = query
	return f.hits, f.searchErr
}

type testFacade struct {
	server  *Server
	engine  *fakeEngine
	syncer  *fakeSyncer
	vector  *fakeVector
	catalog *cache.ToolCatalog
	servers *cache.ServerList
}

func newTestFacade(t *testing.T) *testFacade {
	t.Helper()
	dir := t.TempDir()
	catalog := cache.NewToolCatalog(dir)
	servers := cache.NewServerList(dir)
	require.NoError(t, catalog.Write([]models.Tool{{ID: "t1", Name: "create_post"}}))
	require.NoError(t, servers.Write(map[string]models.MCPServer{"ghost": {Name: "ghost"}}))
	catalog.Read(true)
	servers.Read(true)

	f := &testFacade{
		engine:  &fakeEngine{},
		syncer:  &fakeSyncer{},
		vector:  &fakeVector{ready: true},
		catalog: catalog,
		servers: servers,
	}
	cfg := &config.Config{HTTPPort: "0", Synonyms: config.DefaultSynonyms()}
	f.server = NewServer(cfg, f.engine, f.syncer, f.vector, catalog, servers)
	return f
}

func (f *testFacade) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAttachEndpoint(t *testing.T) {
	t.Run("dispatches to engine", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/attach", map[string]any{
			"agent_id":   "agent-1",
			"query":      "create blog post",
			"limit":      5,
			"keep_tools": []string{"t9"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.engine.attachReq)
		assert.Equal(t, "agent-1", f.engine.attachReq.AgentID)
		assert.Equal(t, 5, f.engine.attachReq.Limit)
		assert.Equal(t, []string{"t9"}, f.engine.attachReq.KeepTools)
	})

	t.Run("missing agent_id", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/attach", map[string]any{"query": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, f.engine.attachReq)
	})

	t.Run("empty query still dispatches", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/attach", map[string]any{
			"agent_id": "agent-1", "query": "",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":true`)
		require.NotNil(t, f.engine.attachReq)
		assert.Equal(t, "", f.engine.attachReq.Query)
		assert.Nil(t, f.engine.pruneReq)
	})

	t.Run("engine failure maps to 500", func(t *testing.T) {
		f := newTestFacade(t)
		f.engine.attachErr = errors.New("platform unreachable")
		rec := f.request(t, http.MethodPost, "/api/v1/tools/attach", map[string]any{
			"agent_id": "a", "query": "x",
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("vector store re-init failure maps to 500", func(t *testing.T) {
		f := newTestFacade(t)
		f.vector.ready = false
		f.vector.ensureErr = errors.New("connection refused")
		rec := f.request(t, http.MethodPost, "/api/v1/tools/attach", map[string]any{
			"agent_id": "a", "query": "x",
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Nil(t, f.engine.attachReq)
	})
}

func TestPruneEndpoint(t *testing.T) {
	t.Run("dispatches to engine", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/prune", map[string]any{
			"agent_id":               "agent-1",
			"user_prompt":            "keep it tight",
			"drop_rate":              0.4,
			"keep_tool_ids":          []string{"t1"},
			"newly_matched_tool_ids": []string{"t2"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.engine.pruneReq)
		assert.Equal(t, 0.4, f.engine.pruneReq.DropRate)
		assert.Equal(t, []string{"t1"}, f.engine.pruneReq.KeepToolIDs)
	})

	t.Run("drop_rate required", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/prune", map[string]any{
			"agent_id": "a", "user_prompt": "p",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("drop_rate out of range", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/prune", map[string]any{
			"agent_id": "a", "user_prompt": "p", "drop_rate": 1.2,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, f.engine.pruneReq)
	})

	t.Run("drop_rate zero is valid", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodPost, "/api/v1/tools/prune", map[string]any{
			"agent_id": "a", "user_prompt": "p", "drop_rate": 0.0,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSearchEndpoint(t *testing.T) {
	f := newTestFacade(t)
	f.vector.hits = []vectorstore.Hit{{
		Tool: vectorstore.StoredTool{Tool: models.Tool{
			ID: "t1", Name: "create_post", MCPServerName: "ghost",
		}},
		Distance: 0.2,
	}}

	rec := f.request(t, http.MethodPost, "/api/v1/tools/search", map[string]any{"query": "create blog"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Query         string `json:"query"`
		ExpandedQuery string `json:"expanded_query"`
		Results       []struct {
			Name       string  `json:"name"`
			MatchScore float64 `json:"match_score"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "create blog", body.Query)
	assert.Contains(t, body.ExpandedQuery, "publish")
	require.Len(t, body.Results, 1)
	assert.InDelta(t, 80, body.Results[0].MatchScore, 1e-9)

	// The expanded query is what reached the store.
	assert.Contains(t, f.vector.gotQuery, "ghost")
}

func TestSyncEndpoint(t *testing.T) {
	t.Run("runs a cycle", func(t *testing.T) {
		f := newTestFacade(t)
		f.syncer.summary = &syncpkg.Summary{CatalogSize: 7}
		rec := f.request(t, http.MethodPost, "/api/v1/tools/sync", map[string]any{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"catalog_size":7`)
	})

	t.Run("overlapping cycle reports instead of failing", func(t *testing.T) {
		f := newTestFacade(t)
		f.syncer.err = syncpkg.ErrCycleInProgress
		rec := f.request(t, http.MethodPost, "/api/v1/tools/sync", map[string]any{})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "already in progress")
	})

	t.Run("cycle failure maps to 500", func(t *testing.T) {
		f := newTestFacade(t)
		f.syncer.err = errors.New("platform unreachable")
		rec := f.request(t, http.MethodPost, "/api/v1/tools/sync", map[string]any{})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListToolsEndpoint(t *testing.T) {
	f := newTestFacade(t)
	rec := f.request(t, http.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tools []models.Tool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "create_post", tools[0].Name)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("all green", func(t *testing.T) {
		f := newTestFacade(t)
		rec := f.request(t, http.MethodGet, "/api/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status    string          `json:"status"`
			Details   map[string]any  `json:"details"`
			Timestamp string          `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, StatusOK, body.Status)
		assert.Equal(t, true, body.Details["vector_store_ready"])
		_, err := time.Parse(time.RFC3339, body.Timestamp)
		assert.NoError(t, err)
	})

	t.Run("degraded when only the vector store is up", func(t *testing.T) {
		f := newTestFacade(t)
		require.NoError(t, f.catalog.Clear())
		require.NoError(t, f.servers.Clear())
		rec := f.request(t, http.MethodGet, "/api/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), StatusDegraded)
	})

	t.Run("error when only one cache fails", func(t *testing.T) {
		f := newTestFacade(t)
		require.NoError(t, f.servers.Clear())
		rec := f.request(t, http.MethodGet, "/api/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), StatusError)
	})

	t.Run("error when everything is down", func(t *testing.T) {
		f := newTestFacade(t)
		require.NoError(t, f.catalog.Clear())
		require.NoError(t, f.servers.Clear())
		f.vector.ready = false
		f.vector.ensureErr = errors.New("down")
		rec := f.request(t, http.MethodGet, "/api/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), StatusError)
	})
}

func TestRequestIDHeader(t *testing.T) {
	f := newTestFacade(t)

	t.Run("minted when absent", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/health", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("propagated when present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	})
}
