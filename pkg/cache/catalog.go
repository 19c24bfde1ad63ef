package cache

import (
	"path/filepath"

	"github.com/oculair/toolcurator/pkg/models"
)

// File names inside the cache directory.
const (
	ToolCatalogFileName = "tool_cache.json"
	MCPServersFileName  = "mcp_servers_cache.json"
)

// ToolCatalog is the file-backed catalog of tool descriptors, ground truth
// for "what tools exist right now in the platform". The sync engine is the
// only writer.
type ToolCatalog struct {
	store *fileStore[[]models.Tool]
}

// NewToolCatalog creates a catalog backed by dir/tool_cache.json.
func NewToolCatalog(dir string) *ToolCatalog {
	return &ToolCatalog{store: newFileStore[[]models.Tool](filepath.Join(dir, ToolCatalogFileName))}
}

// Read returns the catalog content, reloading from disk when the file has
// changed since the last load. Errors yield an empty catalog.
func (c *ToolCatalog) Read(forceReload bool) []models.Tool {
	return c.store.read(forceReload)
}

// Write atomically replaces the catalog file.
func (c *ToolCatalog) Write(tools []models.Tool) error {
	if tools == nil {
		tools = []models.Tool{}
	}
	return c.store.write(tools)
}

// Clear removes the catalog file and resets the in-memory mirror.
func (c *ToolCatalog) Clear() error { return c.store.remove() }

// Status reports the in-memory mirror state for health checks.
func (c *ToolCatalog) Status() Status { return c.store.status() }

// ServerList is the file-backed map of MCP server records keyed by server
// name, as most recently observed from the platform.
type ServerList struct {
	store *fileStore[map[string]models.MCPServer]
}

// NewServerList creates a server list backed by dir/mcp_servers_cache.json.
func NewServerList(dir string) *ServerList {
	return &ServerList{store: newFileStore[map[string]models.MCPServer](filepath.Join(dir, MCPServersFileName))}
}

// Read returns the server map; errors yield an empty map.
func (l *ServerList) Read(forceReload bool) map[string]models.MCPServer {
	servers := l.store.read(forceReload)
	if servers == nil {
		return map[string]models.MCPServer{}
	}
	return servers
}

// Write atomically replaces the server list file.
func (l *ServerList) Write(servers map[string]models.MCPServer) error {
	if servers == nil {
		servers = map[string]models.MCPServer{}
	}
	return l.store.write(servers)
}

// Clear removes the server list file and resets the in-memory mirror.
func (l *ServerList) Clear() error { return l.store.remove() }

// Status reports the in-memory mirror state for health checks.
func (l *ServerList) Status() Status { return l.store.status() }
