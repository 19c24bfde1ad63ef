package models

// MCPServer is one federated MCP server as listed by the Agent Platform.
// Opaque beyond its name, which keys the platform's per-server tool listing.
type MCPServer struct {
	Name string `json:"server_name,omitempty"`
	Type string `json:"type,omitempty"`
	URL  string `json:"server_url,omitempty"`
}

// ServerNames returns the set of active server names from the platform's
// server map (the map key is authoritative; the record's own name field is
// informational).
func ServerNames(servers map[string]MCPServer) map[string]struct{} {
	names := make(map[string]struct{}, len(servers))
	for name := range servers {
		names[name] = struct{}{}
	}
	return names
}
