package toolset

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/oculair/toolcurator/pkg/models"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

// AttachRequest selects tools for an agent from a natural-language query.
type AttachRequest struct {
	AgentID   string
	Query     string
	Limit     int
	KeepTools []string // tool ids the caller insists on keeping attached
}

// Attachment is one successfully attached tool with its relevance score.
type Attachment struct {
	ToolID     string  `json:"tool_id"`
	Name       string  `json:"name"`
	MatchScore float64 `json:"match_score"`
}

// AttachDetails is the per-item breakdown of one attach call.
type AttachDetails struct {
	DetachedTools         []string     `json:"detached_tools"`
	FailedDetachments     []Failure    `json:"failed_detachments"`
	ProcessedCount        int          `json:"processed_count"`
	PassedFilterCount     int          `json:"passed_filter_count"`
	SuccessCount          int          `json:"success_count"`
	FailureCount          int          `json:"failure_count"`
	SuccessfulAttachments []Attachment `json:"successful_attachments"`
	FailedAttachments     []Failure    `json:"failed_attachments"`
	PreservedTools        []string     `json:"preserved_tools"`
	TargetAgent           string       `json:"target_agent"`
}

// AttachResult is the full outcome of one attach call.
type AttachResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Details AttachDetails `json:"details"`
}

// resolvedCandidate is a search hit mapped to an attachable platform tool id.
type resolvedCandidate struct {
	ID         string
	Name       string
	MatchScore float64
}

// Attach reconciles the agent's MCP tool set toward the query: search the
// index, resolve candidates to platform tool ids, detach MCP tools that are
// neither kept nor matched, attach the matches, then chain a prune pass.
//
// An error is returned only when the engine cannot form a result at all
// (agent tool list or search unavailable). Per-tool mutation failures land in
// the details instead.
func (e *Engine) Attach(ctx context.Context, req AttachRequest) (*AttachResult, error) {
	if req.Limit <= 0 {
		req.Limit = DefaultSearchLimit
	}

	agentName, currentTools, err := e.fetchAgentState(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	_, currentMCP := models.PartitionTools(currentTools)

	// An empty query matches nothing; the index is not consulted at all.
	var hits []vectorstore.Hit
	if strings.TrimSpace(req.Query) != "" {
		expanded := vectorstore.ExpandQuery(req.Query, e.synonyms)
		hits, err = e.search.Search(ctx, expanded, req.Limit)
		if err != nil {
			return nil, fmt.Errorf("search tool index: %w", err)
		}
	}

	resolved := e.resolveCandidates(ctx, hits)

	keepIDs := stringSet(req.KeepTools)
	for _, r := range resolved {
		keepIDs[r.ID] = struct{}{}
	}

	details := AttachDetails{
		DetachedTools:         []string{},
		FailedDetachments:     []Failure{},
		SuccessfulAttachments: []Attachment{},
		FailedAttachments:     []Failure{},
		ProcessedCount:        len(hits),
		PassedFilterCount:     len(resolved),
		TargetAgent:           agentName,
		PreservedTools:        preservedIDs(req.KeepTools, currentMCP),
	}

	// Detachments complete before any attachment starts.
	toDetach := itemsFromTools(currentMCP, func(t models.Tool) bool {
		_, keep := keepIDs[t.ID]
		return !keep
	})
	for _, out := range fanOut(ctx, toDetach, func(ctx context.Context, id string) error {
		return e.agents.DetachTool(ctx, req.AgentID, id)
	}) {
		if out.Err != nil {
			details.FailedDetachments = append(details.FailedDetachments, failureFor(out.ID, out.Name, out.Err))
			continue
		}
		details.DetachedTools = append(details.DetachedTools, out.ID)
	}

	toAttach := make([]batchItem, len(resolved))
	byID := make(map[string]resolvedCandidate, len(resolved))
	for i, r := range resolved {
		toAttach[i] = batchItem{ID: r.ID, Name: r.Name}
		byID[r.ID] = r
	}
	for _, out := range fanOut(ctx, toAttach, func(ctx context.Context, id string) error {
		return e.agents.AttachTool(ctx, req.AgentID, id)
	}) {
		if out.Err != nil {
			details.FailedAttachments = append(details.FailedAttachments, failureFor(out.ID, out.Name, out.Err))
			continue
		}
		details.SuccessfulAttachments = append(details.SuccessfulAttachments, Attachment{
			ToolID:     out.ID,
			Name:       out.Name,
			MatchScore: byID[out.ID].MatchScore,
		})
	}
	details.SuccessCount = len(details.SuccessfulAttachments)
	details.FailureCount = len(details.FailedAttachments)

	if len(resolved) > 0 && strings.TrimSpace(req.Query) != "" {
		newly := make([]string, len(resolved))
		for i, r := range resolved {
			newly[i] = r.ID
		}
		if _, pruneErr := e.Prune(ctx, PruneRequest{
			AgentID:             req.AgentID,
			Prompt:              req.Query,
			DropRate:            e.defaultDropRate,
			KeepToolIDs:         req.KeepTools,
			NewlyMatchedToolIDs: newly,
		}); pruneErr != nil {
			// Pruning is best-effort when chained from attach.
			e.logger.Warn("Post-attach prune failed", "agent", req.AgentID, "error", pruneErr)
		}
	}

	return &AttachResult{
		Success: true,
		Message: fmt.Sprintf("Attached %d of %d matched tools", details.SuccessCount, len(resolved)),
		Details: details,
	}, nil
}

// fetchAgentState loads agent metadata and its current tools in parallel. The
// tool list is required; missing agent metadata degrades to the raw id.
func (e *Engine) fetchAgentState(ctx context.Context, agentID string) (string, []models.Tool, error) {
	var (
		wg        sync.WaitGroup
		agentName = agentID
		tools     []models.Tool
		toolsErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		agent, err := e.agents.GetAgent(ctx, agentID)
		if err != nil {
			e.logger.Warn("Agent metadata unavailable", "agent", agentID, "error", err)
			return
		}
		if agent.Name != "" {
			agentName = agent.Name
		}
	}()
	go func() {
		defer wg.Done()
		tools, toolsErr = e.agents.ListAgentTools(ctx, agentID)
	}()
	wg.Wait()

	if toolsErr != nil {
		return "", nil, fmt.Errorf("list tools of agent %s: %w", agentID, toolsErr)
	}
	return agentName, tools, nil
}

// resolveCandidates maps search hits to attachable platform tool ids through
// the catalog, registering catalog misses that name an MCP server. Unusable
// hits are dropped. Order follows the hit ranking; duplicates collapse.
func (e *Engine) resolveCandidates(ctx context.Context, hits []vectorstore.Hit) []resolvedCandidate {
	byName := models.ToolsByName(e.catalog.Read(false))

	var resolved []resolvedCandidate
	seen := map[string]struct{}{}
	add := func(id, name string, score float64) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		resolved = append(resolved, resolvedCandidate{ID: id, Name: name, MatchScore: score})
	}

	for _, hit := range hits {
		name := hit.Tool.Tool.Name
		if name == "" {
			continue
		}
		if known, ok := byName[name]; ok && known.ID != "" {
			add(known.ID, name, hit.MatchScore())
			continue
		}
		server := hit.Tool.Tool.MCPServerName
		if server == "" {
			e.logger.Warn("Search hit has no catalog entry and no MCP server, dropping", "tool", name)
			continue
		}
		registered, err := e.agents.RegisterMCPTool(ctx, server, name)
		if err != nil {
			e.logger.Warn("Failed to register matched MCP tool", "tool", name, "server", server, "error", err)
			continue
		}
		add(registered.ID, name, hit.MatchScore())
	}
	return resolved
}

// preservedIDs filters the caller's keep list down to ids actually attached.
func preservedIDs(keepTools []string, currentMCP []models.Tool) []string {
	attached := models.ToolIDs(currentMCP)
	preserved := []string{}
	for _, id := range keepTools {
		if _, ok := attached[id]; ok {
			preserved = append(preserved, id)
		}
	}
	return preserved
}
