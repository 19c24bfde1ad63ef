// Package toolset implements the attach/prune engine: deciding which MCP
// tools an agent should carry for a given prompt, and reconciling the agent's
// attachment set toward that decision through the Agent Platform.
package toolset

import (
	"context"
	"log/slog"

	"github.com/oculair/toolcurator/pkg/config"
	"github.com/oculair/toolcurator/pkg/models"
	"github.com/oculair/toolcurator/pkg/platform"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

// DefaultSearchLimit is the candidate count when the caller does not set one.
const DefaultSearchLimit = 10

// AgentClient is the slice of the platform client the engine mutates through.
type AgentClient interface {
	GetAgent(ctx context.Context, agentID string) (*platform.Agent, error)
	ListAgentTools(ctx context.Context, agentID string) ([]models.Tool, error)
	AttachTool(ctx context.Context, agentID, toolID string) error
	DetachTool(ctx context.Context, agentID, toolID string) error
	RegisterMCPTool(ctx context.Context, serverName, toolName string) (models.Tool, error)
}

// Searcher ranks indexed tools against a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]vectorstore.Hit, error)
}

// CatalogReader reads the file-backed tool catalog.
type CatalogReader interface {
	Read(forceReload bool) []models.Tool
}

// Engine holds the collaborators for attach and prune. It keeps no mutable
// state of its own; concurrent calls for different agents are independent.
type Engine struct {
	agents          AgentClient
	search          Searcher
	catalog         CatalogReader
	synonyms        map[string][]string
	defaultDropRate float64
	logger          *slog.Logger
}

// NewEngine wires an engine from its collaborators and configuration.
func NewEngine(agents AgentClient, search Searcher, catalog CatalogReader, cfg *config.Config) *Engine {
	return &Engine{
		agents:          agents,
		search:          search,
		catalog:         catalog,
		synonyms:        cfg.Synonyms,
		defaultDropRate: cfg.DefaultDropRate,
		logger:          slog.Default(),
	}
}

// Failure is one per-item mutation failure inside a batch.
type Failure struct {
	ToolID string `json:"tool_id"`
	Name   string `json:"name,omitempty"`
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
}

func failureFor(toolID, name string, err error) Failure {
	return Failure{
		ToolID: toolID,
		Name:   name,
		Error:  err.Error(),
		Kind:   string(platform.KindOf(err)),
	}
}

// stringSet builds a membership set from ids, skipping empties.
func stringSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
