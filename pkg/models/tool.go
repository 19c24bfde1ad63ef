// Package models defines the shared domain types: tool descriptors as the
// Agent Platform and Vector Store exchange them, and MCP server records.
package models

import "encoding/json"

// Tool type values as reported by the Agent Platform.
const (
	// ToolTypeExternalMCP marks tools that originate from a federated MCP
	// server. Only these are ever attached/detached by the engine; everything
	// else is a core tool and invariant.
	ToolTypeExternalMCP = "external_mcp"

	// DefaultSourceType is assumed when the platform omits source_type.
	DefaultSourceType = "python"
)

// Tool is the central entity: one tool descriptor.
//
// Name is the stable identity across the Agent Platform and the Vector Store;
// ID is authoritative only within the platform and may be empty for MCP tools
// that have been discovered but not yet registered.
type Tool struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ToolType    string          `json:"tool_type,omitempty"`
	SourceType  string          `json:"source_type,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	JSONSchema  json.RawMessage `json:"json_schema,omitempty"`

	// MCPServerName names the federated server of origin.
	// Present iff ToolType == ToolTypeExternalMCP.
	MCPServerName string `json:"mcp_server_name,omitempty"`
}

// IsMCP reports whether the tool is a federated MCP tool (prunable).
func (t *Tool) IsMCP() bool {
	return t.ToolType == ToolTypeExternalMCP
}

// PartitionTools splits an agent's attached tools into core tools and
// MCP tools. MCP tools are deduplicated by ID; tools without an ID are
// dropped (they cannot be attached or detached anyway).
func PartitionTools(tools []Tool) (core []Tool, mcp []Tool) {
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if !t.IsMCP() {
			core = append(core, t)
			continue
		}
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		mcp = append(mcp, t)
	}
	return core, mcp
}

// ToolIDs returns the set of IDs present in the given tools.
func ToolIDs(tools []Tool) map[string]struct{} {
	ids := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if t.ID != "" {
			ids[t.ID] = struct{}{}
		}
	}
	return ids
}

// ToolsByName indexes tools by name. Later entries win on duplicate names.
func ToolsByName(tools []Tool) map[string]Tool {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		if t.Name != "" {
			m[t.Name] = t
		}
	}
	return m
}
