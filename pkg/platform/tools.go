package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/oculair/toolcurator/pkg/models"
)

// ListTools fetches the platform's full tool registry via cursor pagination.
//
// Failures on a later page return the tools collected so far (partial is
// better than none for a reconciler that converges next cycle); a failure
// before anything was fetched is returned as an error.
func (c *Client) ListTools(ctx context.Context) ([]models.Tool, error) {
	return c.listToolsPaged(ctx, "list platform tools", "/tools")
}

// ListMCPServers fetches the federated MCP server map, keyed by server name.
func (c *Client) ListMCPServers(ctx context.Context) (map[string]models.MCPServer, error) {
	var servers map[string]models.MCPServer
	if err := c.do(ctx, ListRetry, "list mcp servers", http.MethodGet,
		"/tools/mcp/servers", nil, &servers); err != nil {
		return nil, err
	}
	if servers == nil {
		servers = map[string]models.MCPServer{}
	}
	return servers, nil
}

// ListMCPServerTools fetches the tool list one MCP server exposes, paged the
// same way as the main registry. Partial results on late-page failures.
func (c *Client) ListMCPServerTools(ctx context.Context, serverName string) ([]models.Tool, error) {
	op := fmt.Sprintf("list tools of mcp server %q", serverName)
	return c.listToolsPaged(ctx, op, "/tools/mcp/servers/"+url.PathEscape(serverName)+"/tools")
}

// RegisterMCPTool materializes a federated tool as a first-class platform
// tool. Idempotent by (server, name). When the platform's response omits an
// id, a synthetic "{server}__{name}" id is substituted so the descriptor
// stays addressable; downstream attach calls on such ids may 404 and will
// surface as per-item failures.
func (c *Client) RegisterMCPTool(ctx context.Context, serverName, toolName string) (models.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.mutationTimeout)
	defer cancel()

	op := fmt.Sprintf("register mcp tool %q from %q", toolName, serverName)
	path := "/tools/mcp/servers/" + url.PathEscape(serverName) + "/" + url.PathEscape(toolName)

	var registered models.Tool
	if err := c.do(ctx, MutateRetry, op, http.MethodPost, path, nil, &registered); err != nil {
		return models.Tool{}, err
	}
	if registered.Name == "" {
		registered.Name = toolName
	}
	if registered.ID == "" {
		registered.ID = serverName + "__" + toolName
		c.logger.Warn("Registration response missing tool id, synthesized one",
			"server", serverName, "tool", toolName, "id", registered.ID)
	}
	if registered.ToolType == "" {
		registered.ToolType = models.ToolTypeExternalMCP
	}
	if registered.MCPServerName == "" {
		registered.MCPServerName = serverName
	}
	if registered.SourceType == "" {
		registered.SourceType = models.DefaultSourceType
	}
	return registered, nil
}

func (c *Client) listToolsPaged(ctx context.Context, op, path string) ([]models.Tool, error) {
	var all []models.Tool
	after := ""
	for {
		query := url.Values{"limit": {strconv.Itoa(c.pageLimit)}}
		if after != "" {
			query.Set("after", after)
		}

		var body []byte
		if err := c.do(ctx, ListRetry, op, http.MethodGet, path, query, &body); err != nil {
			if len(all) > 0 {
				c.logger.Warn("Paged listing failed mid-way, returning partial results",
					"op", op, "fetched", len(all), "error", err)
				return all, nil
			}
			return nil, err
		}

		page := decodeToolPage(body)
		all = append(all, page...)

		if len(page) < c.pageLimit {
			return all, nil
		}
		last := page[len(page)-1]
		if last.ID == "" {
			// No cursor to continue from.
			return all, nil
		}
		after = last.ID
	}
}

// decodeToolPage tolerates the platform's occasional quirks: a single object
// instead of a list, or a body that is not tool-shaped at all (empty page).
func decodeToolPage(body []byte) []models.Tool {
	var page []models.Tool
	if err := json.Unmarshal(body, &page); err == nil {
		return page
	}
	var single models.Tool
	if err := json.Unmarshal(body, &single); err == nil && single.Name != "" {
		return []models.Tool{single}
	}
	return nil
}
