// Package sync keeps the tool catalog cache, the MCP server cache, and the
// Vector Store index converged with the Agent Platform's current tool
// registry. One engine instance is the sole writer of both cache files.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oculair/toolcurator/pkg/models"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

// PlatformLister is the slice of the platform client the engine syncs from.
type PlatformLister interface {
	ListTools(ctx context.Context) ([]models.Tool, error)
	ListMCPServers(ctx context.Context) (map[string]models.MCPServer, error)
	ListMCPServerTools(ctx context.Context, serverName string) ([]models.Tool, error)
	RegisterMCPTool(ctx context.Context, serverName, toolName string) (models.Tool, error)
}

// VectorIndex is the slice of the vector store client the engine reconciles.
type VectorIndex interface {
	EnsureReady(ctx context.Context) error
	FetchAll(ctx context.Context) ([]vectorstore.StoredTool, error)
	InsertBatch(ctx context.Context, tools []models.Tool) error
	DeleteByNames(ctx context.Context, names []string) error
	UpdateServerName(ctx context.Context, uuid, serverName string) error
}

// CatalogWriter is the writable side of the tool catalog cache.
type CatalogWriter interface {
	Read(forceReload bool) []models.Tool
	Write(tools []models.Tool) error
}

// ServerCacheWriter is the writable side of the MCP server cache.
type ServerCacheWriter interface {
	Write(servers map[string]models.MCPServer) error
}

// Engine runs the periodic sync cycle.
type Engine struct {
	platform PlatformLister
	index    VectorIndex
	catalog  CatalogWriter
	servers  ServerCacheWriter
	logger   *slog.Logger
}

// NewEngine wires a sync engine from its collaborators.
func NewEngine(platform PlatformLister, index VectorIndex, catalog CatalogWriter, servers ServerCacheWriter) *Engine {
	return &Engine{
		platform: platform,
		index:    index,
		catalog:  catalog,
		servers:  servers,
		logger:   slog.Default(),
	}
}

// Summary is the accounting of one completed cycle.
type Summary struct {
	PlatformTools   int `json:"platform_tools"`
	ActiveServers   int `json:"active_servers"`
	MCPToolsFound   int `json:"mcp_tools_found"`
	Registered      int `json:"registered"`
	RegisterFailed  int `json:"register_failed"`
	ObsoleteDropped int `json:"obsolete_dropped"`
	CatalogSize     int `json:"catalog_size"`
	IndexInserted   int `json:"index_inserted"`
	IndexDeleted    int `json:"index_deleted"`
	IndexBackfilled int `json:"index_backfilled"`
}

// RunCycle executes one full sync cycle. Every step's effects are idempotent,
// so a failed cycle converges on the next run.
func (e *Engine) RunCycle(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	platformTools, err := e.platform.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch platform tools: %w", err)
	}
	byName := make(map[string]models.Tool, len(platformTools))
	for _, tool := range platformTools {
		if tool.Name != "" {
			byName[tool.Name] = tool
		}
	}
	summary.PlatformTools = len(byName)

	servers, err := e.platform.ListMCPServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch mcp servers: %w", err)
	}
	if err := e.servers.Write(servers); err != nil {
		return nil, fmt.Errorf("persist mcp server cache: %w", err)
	}
	activeServers := models.ServerNames(servers)
	summary.ActiveServers = len(activeServers)

	mcpTools := e.fetchServerTools(ctx, servers)
	summary.MCPToolsFound = len(mcpTools)

	e.backfillOrigins(byName, mcpTools)
	e.registerMissing(ctx, byName, mcpTools, summary)

	summary.ObsoleteDropped = dropObsolete(byName, activeServers)

	catalog := make([]models.Tool, 0, len(byName))
	for _, tool := range byName {
		catalog = append(catalog, tool)
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Name < catalog[j].Name })
	if err := e.catalog.Write(catalog); err != nil {
		return nil, fmt.Errorf("persist tool catalog cache: %w", err)
	}
	summary.CatalogSize = len(catalog)

	if err := e.reconcileIndex(ctx, catalog, summary); err != nil {
		return nil, err
	}

	e.logger.Info("Sync cycle complete",
		"platform_tools", summary.PlatformTools,
		"active_servers", summary.ActiveServers,
		"catalog_size", summary.CatalogSize,
		"registered", summary.Registered,
		"index_inserted", summary.IndexInserted,
		"index_deleted", summary.IndexDeleted)
	return summary, nil
}

// fetchServerTools lists every active server's tools in parallel and stamps
// each descriptor with its origin. A failing server contributes nothing this
// cycle; its previously-registered tools survive through the platform list.
func (e *Engine) fetchServerTools(ctx context.Context, servers map[string]models.MCPServer) []models.Tool {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([][]models.Tool, len(names))
	var wg sync.WaitGroup
	for i, server := range names {
		wg.Add(1)
		go func(i int, server string) {
			defer wg.Done()
			tools, err := e.platform.ListMCPServerTools(ctx, server)
			if err != nil {
				e.logger.Warn("Failed to list MCP server tools", "server", server, "error", err)
				return
			}
			for j := range tools {
				if tools[j].MCPServerName == "" {
					tools[j].MCPServerName = server
				}
				if tools[j].ToolType == "" {
					tools[j].ToolType = models.ToolTypeExternalMCP
				}
				if tools[j].SourceType == "" {
					tools[j].SourceType = models.DefaultSourceType
				}
			}
			results[i] = tools
		}(i, server)
	}
	wg.Wait()

	var all []models.Tool
	for _, tools := range results {
		all = append(all, tools...)
	}
	return all
}

// backfillOrigins stamps mcp_server_name onto platform records rediscovered
// through an MCP listing when the platform record lacks it. Conflicting
// origins keep the platform's value.
func (e *Engine) backfillOrigins(byName map[string]models.Tool, mcpTools []models.Tool) {
	for _, discovered := range mcpTools {
		known, ok := byName[discovered.Name]
		if !ok {
			continue
		}
		if known.MCPServerName == "" && discovered.MCPServerName != "" && known.IsMCP() {
			known.MCPServerName = discovered.MCPServerName
			byName[discovered.Name] = known
			continue
		}
		if known.MCPServerName != "" && discovered.MCPServerName != "" &&
			known.MCPServerName != discovered.MCPServerName {
			e.logger.Warn("Tool reported by multiple MCP servers, keeping first origin",
				"tool", discovered.Name, "kept", known.MCPServerName, "ignored", discovered.MCPServerName)
		}
	}
}

// registerMissing registers, in parallel, every MCP tool the platform does
// not know by name. Successful registrations replace the candidate with the
// authoritative descriptor; failures retain the unregistered candidate so the
// tool stays discoverable.
func (e *Engine) registerMissing(ctx context.Context, byName map[string]models.Tool, mcpTools []models.Tool, summary *Summary) {
	var missing []models.Tool
	seen := map[string]struct{}{}
	for _, tool := range mcpTools {
		if tool.Name == "" {
			continue
		}
		if _, known := byName[tool.Name]; known {
			continue
		}
		if _, dup := seen[tool.Name]; dup {
			continue
		}
		seen[tool.Name] = struct{}{}
		missing = append(missing, tool)
	}
	if len(missing) == 0 {
		return
	}

	type outcome struct {
		candidate  models.Tool
		registered models.Tool
		err        error
	}
	outcomes := make([]outcome, len(missing))
	var wg sync.WaitGroup
	for i, tool := range missing {
		wg.Add(1)
		go func(i int, tool models.Tool) {
			defer wg.Done()
			registered, err := e.platform.RegisterMCPTool(ctx, tool.MCPServerName, tool.Name)
			outcomes[i] = outcome{candidate: tool, registered: registered, err: err}
		}(i, tool)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			e.logger.Warn("Failed to register MCP tool",
				"tool", out.candidate.Name, "server", out.candidate.MCPServerName, "error", out.err)
			byName[out.candidate.Name] = out.candidate
			summary.RegisterFailed++
			continue
		}
		byName[out.candidate.Name] = out.registered
		summary.Registered++
	}
}

// dropObsolete removes external_mcp tools whose server is gone, returning the
// number dropped.
func dropObsolete(byName map[string]models.Tool, activeServers map[string]struct{}) int {
	dropped := 0
	for name, tool := range byName {
		if !tool.IsMCP() {
			continue
		}
		if _, active := activeServers[tool.MCPServerName]; tool.MCPServerName == "" || !active {
			delete(byName, name)
			dropped++
		}
	}
	return dropped
}

// reconcileIndex makes the Vector Store's membership equal the catalog's:
// delete names the catalog lost, insert names it gained, and backfill
// mcp_server_name on pre-existing objects that predate that property.
func (e *Engine) reconcileIndex(ctx context.Context, catalog []models.Tool, summary *Summary) error {
	if err := e.index.EnsureReady(ctx); err != nil {
		return fmt.Errorf("vector store unavailable: %w", err)
	}

	stored, err := e.index.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch indexed tools: %w", err)
	}

	catalogByName := models.ToolsByName(catalog)

	var toDelete []string
	storedNames := map[string]struct{}{}
	for _, obj := range stored {
		name := obj.Tool.Name
		storedNames[name] = struct{}{}
		if _, ok := catalogByName[name]; !ok {
			toDelete = append(toDelete, name)
			continue
		}
		want := catalogByName[name]
		if want.IsMCP() && obj.Tool.MCPServerName == "" && want.MCPServerName != "" {
			if err := e.index.UpdateServerName(ctx, obj.UUID, want.MCPServerName); err != nil {
				e.logger.Warn("Failed to backfill server name", "tool", name, "error", err)
				continue
			}
			summary.IndexBackfilled++
		}
	}

	var toInsert []models.Tool
	for _, tool := range catalog {
		if _, ok := storedNames[tool.Name]; !ok {
			toInsert = append(toInsert, tool)
		}
	}

	if len(toDelete) > 0 {
		if err := e.index.DeleteByNames(ctx, toDelete); err != nil {
			return fmt.Errorf("delete obsolete indexed tools: %w", err)
		}
		summary.IndexDeleted = len(toDelete)
	}
	if len(toInsert) > 0 {
		if err := e.index.InsertBatch(ctx, toInsert); err != nil {
			return fmt.Errorf("index new tools: %w", err)
		}
		summary.IndexInserted = len(toInsert)
	}
	return nil
}
