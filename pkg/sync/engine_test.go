package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oculair/toolcurator/pkg/cache"
	"github.com/oculair/toolcurator/pkg/models"
	"github.com/oculair/toolcurator/pkg/platform"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

type fakePlatform struct {
	mu          stdsync.Mutex
	tools       []models.Tool
	servers     map[string]models.MCPServer
	serverTools map[string][]models.Tool
	registerErr map[string]error
	registered  []string
}

func (f *fakePlatform) ListTools(ctx context.Context) ([]models.Tool, error) {
	return f.tools, nil
}

func (f *fakePlatform) ListMCPServers(ctx context.Context) (map[string]models.MCPServer, error) {
	return f.servers, nil
}

func (f *fakePlatform) ListMCPServerTools(ctx context.Context, serverName string) ([]models.Tool, error) {
	return f.serverTools[serverName], nil
}

func (f *fakePlatform) RegisterMCPTool(ctx context.Context, serverName, toolName string) (models.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.registerErr[toolName]; err != nil {
		return models.Tool{}, err
	}
	f.registered = append(f.registered, serverName+"/"+toolName)
	return models.Tool{
		ID:            "reg-" + toolName,
		Name:          toolName,
		ToolType:      models.ToolTypeExternalMCP,
		MCPServerName: serverName,
	}, nil
}

type fakeIndex struct {
	mu         stdsync.Mutex
	stored     map[string]vectorstore.StoredTool // by name
	backfilled map[string]string                 // uuid -> server name
}

func newFakeIndex(stored ...vectorstore.StoredTool) *fakeIndex {
	f := &fakeIndex{stored: map[string]vectorstore.StoredTool{}, backfilled: map[string]string{}}
	for _, s := range stored {
		f.stored[s.Tool.Name] = s
	}
	return f
}

func (f *fakeIndex) EnsureReady(ctx context.Context) error { return nil }

func (f *fakeIndex) FetchAll(ctx context.Context) ([]vectorstore.StoredTool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []vectorstore.StoredTool
	for _, s := range f.stored {
		all = append(all, s)
	}
	return all, nil
}

func (f *fakeIndex) InsertBatch(ctx context.Context, tools []models.Tool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tools {
		f.stored[t.Name] = vectorstore.StoredTool{UUID: "uuid-" + t.Name, Tool: t}
	}
	return nil
}

func (f *fakeIndex) DeleteByNames(ctx context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		delete(f.stored, name)
	}
	return nil
}

func (f *fakeIndex) UpdateServerName(ctx context.Context, uuid, serverName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfilled[uuid] = serverName
	return nil
}

func (f *fakeIndex) names() map[string]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make(map[string]struct{}, len(f.stored))
	for name := range f.stored {
		names[name] = struct{}{}
	}
	return names
}

func newTestEngine(t *testing.T, p *fakePlatform, idx *fakeIndex) (*Engine, *cache.ToolCatalog, *cache.ServerList) {
	t.Helper()
	dir := t.TempDir()
	catalog := cache.NewToolCatalog(dir)
	servers := cache.NewServerList(dir)
	return NewEngine(p, idx, catalog, servers), catalog, servers
}

func TestSyncConvergence(t *testing.T) {
	// Platform knows one core tool and one registered MCP tool; the ghost
	// server additionally exposes an unregistered one. A stale object for a
	// vanished server sits in the index.
	p := &fakePlatform{
		tools: []models.Tool{
			{ID: "core-1", Name: "send_message", ToolType: "letta_core"},
			{ID: "mcp-1", Name: "create_post", ToolType: models.ToolTypeExternalMCP, MCPServerName: "ghost"},
		},
		servers: map[string]models.MCPServer{
			"ghost": {Name: "ghost", Type: "sse", URL: "http://ghost:8000/sse"},
		},
		serverTools: map[string][]models.Tool{
			"ghost": {
				{Name: "create_post"},
				{Name: "delete_post"},
			},
		},
	}
	idx := newFakeIndex(vectorstore.StoredTool{
		UUID: "uuid-stale",
		Tool: models.Tool{Name: "old_chat_tool", ToolType: models.ToolTypeExternalMCP, MCPServerName: "vanished"},
	})
	engine, catalog, serverCache := newTestEngine(t, p, idx)

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ActiveServers)
	assert.Equal(t, 1, summary.Registered)
	assert.Equal(t, []string{"ghost/delete_post"}, p.registered)

	// Catalog holds the core tool plus both ghost tools, sorted by name.
	tools := catalog.Read(true)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"create_post", "delete_post", "send_message"}, names)

	// The registered tool carries the authoritative platform id.
	byName := models.ToolsByName(tools)
	assert.Equal(t, "reg-delete_post", byName["delete_post"].ID)

	// Server cache persisted.
	servers := serverCache.Read(true)
	require.Contains(t, servers, "ghost")

	// Index membership equals catalog membership; the stale object is gone.
	indexed := idx.names()
	assert.Equal(t, len(tools), len(indexed))
	for _, tool := range tools {
		assert.Contains(t, indexed, tool.Name)
	}
	assert.NotContains(t, indexed, "old_chat_tool")
	assert.Equal(t, 1, summary.IndexDeleted)
	assert.Equal(t, 3, summary.IndexInserted)
}

func TestSyncDropsToolsOfDisappearedServer(t *testing.T) {
	p := &fakePlatform{
		tools: []models.Tool{
			{ID: "mcp-1", Name: "create_post", ToolType: models.ToolTypeExternalMCP, MCPServerName: "ghost"},
			{ID: "mcp-2", Name: "old_tool", ToolType: models.ToolTypeExternalMCP, MCPServerName: "gone"},
			{ID: "mcp-3", Name: "orphan_tool", ToolType: models.ToolTypeExternalMCP},
		},
		servers: map[string]models.MCPServer{
			"ghost": {Name: "ghost"},
		},
		serverTools: map[string][]models.Tool{
			"ghost": {{Name: "create_post"}},
		},
	}
	idx := newFakeIndex()
	engine, catalog, _ := newTestEngine(t, p, idx)

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ObsoleteDropped)

	tools := catalog.Read(true)
	require.Len(t, tools, 1)
	assert.Equal(t, "create_post", tools[0].Name)
}

func TestSyncRetainsCandidateOnRegistrationFailure(t *testing.T) {
	p := &fakePlatform{
		tools: nil,
		servers: map[string]models.MCPServer{
			"ghost": {Name: "ghost"},
		},
		serverTools: map[string][]models.Tool{
			"ghost": {{Name: "flaky_tool"}},
		},
		registerErr: map[string]error{
			"flaky_tool": &platform.APIError{Kind: platform.KindTransport, Op: "register", Msg: "timeout"},
		},
	}
	engine, catalog, _ := newTestEngine(t, p, newFakeIndex())

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Registered)
	assert.Equal(t, 1, summary.RegisterFailed)

	// The unregistered candidate stays discoverable: no id yet, but it names
	// its server, so the next cycle retries registration.
	tools := catalog.Read(true)
	require.Len(t, tools, 1)
	assert.Equal(t, "flaky_tool", tools[0].Name)
	assert.Empty(t, tools[0].ID)
	assert.Equal(t, "ghost", tools[0].MCPServerName)
}

func TestSyncBackfillsServerName(t *testing.T) {
	p := &fakePlatform{
		tools: []models.Tool{
			{ID: "mcp-1", Name: "create_post", ToolType: models.ToolTypeExternalMCP, MCPServerName: "ghost"},
		},
		servers: map[string]models.MCPServer{
			"ghost": {Name: "ghost"},
		},
		serverTools: map[string][]models.Tool{
			"ghost": {{Name: "create_post"}},
		},
	}
	idx := newFakeIndex(vectorstore.StoredTool{
		UUID: "uuid-legacy",
		Tool: models.Tool{Name: "create_post", ToolType: models.ToolTypeExternalMCP},
	})
	engine, _, _ := newTestEngine(t, p, idx)

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IndexBackfilled)
	assert.Equal(t, "ghost", idx.backfilled["uuid-legacy"])
	assert.Equal(t, 0, summary.IndexDeleted)
	assert.Equal(t, 0, summary.IndexInserted)
}

func TestSyncBackfillsCatalogOrigin(t *testing.T) {
	// The platform record predates origin tracking; rediscovery through the
	// ghost listing supplies it, which also saves the tool from the
	// obsolescence filter.
	p := &fakePlatform{
		tools: []models.Tool{
			{ID: "mcp-1", Name: "create_post", ToolType: models.ToolTypeExternalMCP},
		},
		servers: map[string]models.MCPServer{
			"ghost": {Name: "ghost"},
		},
		serverTools: map[string][]models.Tool{
			"ghost": {{Name: "create_post"}},
		},
	}
	engine, catalog, _ := newTestEngine(t, p, newFakeIndex())

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ObsoleteDropped)

	tools := catalog.Read(true)
	require.Len(t, tools, 1)
	assert.Equal(t, "ghost", tools[0].MCPServerName)
	assert.Equal(t, "mcp-1", tools[0].ID)
}

func TestSchedulerSkipsOverlappingCycles(t *testing.T) {
	block := make(chan struct{})
	p := &fakePlatform{servers: map[string]models.MCPServer{}}
	engine, _, _ := newTestEngine(t, p, newFakeIndex())
	scheduler := NewScheduler(engine, time.Hour)

	// Hold the cycle lock as a long-running cycle would.
	require.True(t, scheduler.running.TryLock())
	go func() {
		<-block
		scheduler.running.Unlock()
	}()

	_, err := scheduler.RunNow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(block)
}

func TestSchedulerStartStop(t *testing.T) {
	p := &fakePlatform{servers: map[string]models.MCPServer{}}
	engine, _, _ := newTestEngine(t, p, newFakeIndex())
	scheduler := NewScheduler(engine, time.Hour)

	require.NoError(t, scheduler.Start(context.Background()))
	require.Error(t, scheduler.Start(context.Background()))
	scheduler.Stop()

	// Stop is idempotent.
	scheduler.Stop()
}
