package toolset

import (
	"context"
	"fmt"
	"math"

	"github.com/oculair/toolcurator/pkg/models"
	"github.com/oculair/toolcurator/pkg/vectorstore"
)

// PruneRequest shrinks an agent's MCP tool set toward the tools most relevant
// to the prompt. Core tools are never touched.
type PruneRequest struct {
	AgentID             string
	Prompt              string
	DropRate            float64 // fraction of MCP tools to shed, in [0,1]
	KeepToolIDs         []string
	NewlyMatchedToolIDs []string
}

// PruneDetails is the accounting of one prune pass.
type PruneDetails struct {
	MCPToolsBefore    int       `json:"mcp_tools_on_agent_before"`
	TargetKeep        int       `json:"target_mcp_tools_to_keep_after_pruning"`
	FinalKeptIDs      []string  `json:"final_mcp_tool_ids_kept_on_agent"`
	DetachedCount     int       `json:"mcp_tools_detached_count"`
	FailedDetachments []Failure `json:"failed_detachments,omitempty"`
	AggressiveMode    bool      `json:"aggressive_mode"`
}

// PruneResult is the full outcome of one prune call.
type PruneResult struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Details PruneDetails `json:"details"`
}

// Prune detaches the agent's least relevant MCP tools. Kept and newly-matched
// ids are hard constraints while room remains; when they already saturate the
// target, aggressive mode lowers the target to max(1, floor(0.8*N)) so the
// pass still makes progress.
func (e *Engine) Prune(ctx context.Context, req PruneRequest) (*PruneResult, error) {
	if req.DropRate < 0 || req.DropRate > 1 {
		return nil, fmt.Errorf("drop rate %g out of range [0,1]", req.DropRate)
	}

	currentTools, err := e.agents.ListAgentTools(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("list tools of agent %s: %w", req.AgentID, err)
	}
	_, currentMCP := models.PartitionTools(currentTools)
	n := len(currentMCP)
	if n == 0 {
		return &PruneResult{
			Success: true,
			Message: "No MCP tools attached, nothing to prune",
			Details: PruneDetails{FinalKeptIDs: []string{}},
		}, nil
	}
	attached := models.ToolIDs(currentMCP)

	target := int(math.Floor(float64(n) * (1 - req.DropRate)))

	searchLimit := target + 50
	if searchLimit < 100 {
		searchLimit = 100
	}
	expanded := vectorstore.ExpandQuery(req.Prompt, e.synonyms)
	hits, err := e.search.Search(ctx, expanded, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search tool index: %w", err)
	}
	library := rankedLibrary(hits)

	// Hard constraints, in priority order: newly matched first, then the
	// caller's keep list. Only ids actually attached count.
	keep := newOrderedSet()
	for _, id := range req.NewlyMatchedToolIDs {
		if _, ok := attached[id]; ok {
			keep.add(id)
		}
	}
	for _, id := range req.KeepToolIDs {
		if _, ok := attached[id]; ok {
			keep.add(id)
		}
	}

	aggressive := keep.len() >= target
	if aggressive {
		altTarget := int(math.Floor(0.8 * float64(n)))
		if altTarget < 1 {
			altTarget = 1
		}
		if keep.len() > altTarget {
			keep = e.rederiveKeep(req.NewlyMatchedToolIDs, library, attached, keep, altTarget)
		}
		target = altTarget
	} else {
		for _, entry := range library {
			if keep.len() >= target {
				break
			}
			if entry.ToolType != models.ToolTypeExternalMCP {
				continue
			}
			if _, ok := attached[entry.ID]; !ok {
				continue
			}
			keep.add(entry.ID)
		}
	}

	details := PruneDetails{
		MCPToolsBefore: n,
		TargetKeep:     target,
		FinalKeptIDs:   keep.ordered(),
		AggressiveMode: aggressive,
	}

	toDetach := itemsFromTools(currentMCP, func(t models.Tool) bool {
		return !keep.has(t.ID)
	})
	for _, out := range fanOut(ctx, toDetach, func(ctx context.Context, id string) error {
		return e.agents.DetachTool(ctx, req.AgentID, id)
	}) {
		if out.Err != nil {
			details.FailedDetachments = append(details.FailedDetachments, failureFor(out.ID, out.Name, out.Err))
			continue
		}
		details.DetachedCount++
	}

	return &PruneResult{
		Success: true,
		Message: fmt.Sprintf("Detached %d of %d MCP tools", details.DetachedCount, n),
		Details: details,
	}, nil
}

// rederiveKeep rebuilds the kept set under the aggressive target: newly
// matched ids first, then library rank order restricted to ids that were in
// the previous kept set.
func (e *Engine) rederiveKeep(newlyMatched []string, library []libraryEntry, attached map[string]struct{}, previous *orderedSet, altTarget int) *orderedSet {
	keep := newOrderedSet()
	for _, id := range newlyMatched {
		if keep.len() >= altTarget {
			return keep
		}
		if _, ok := attached[id]; ok {
			keep.add(id)
		}
	}
	for _, entry := range library {
		if keep.len() >= altTarget {
			break
		}
		if entry.ToolType != models.ToolTypeExternalMCP {
			continue
		}
		if _, ok := attached[entry.ID]; !ok {
			continue
		}
		if !previous.has(entry.ID) {
			continue
		}
		keep.add(entry.ID)
	}
	return keep
}

// libraryEntry is one ranked search result, relevance order preserved.
type libraryEntry struct {
	ID       string
	ToolType string
}

func rankedLibrary(hits []vectorstore.Hit) []libraryEntry {
	var entries []libraryEntry
	seen := map[string]struct{}{}
	for _, hit := range hits {
		id := hit.Tool.Tool.ID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, libraryEntry{ID: id, ToolType: hit.Tool.Tool.ToolType})
	}
	return entries
}

// orderedSet preserves insertion order, which carries the relevance ranking.
type orderedSet struct {
	ids []string
	set map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{set: map[string]struct{}{}}
}

func (s *orderedSet) add(id string) {
	if _, ok := s.set[id]; ok {
		return
	}
	s.set[id] = struct{}{}
	s.ids = append(s.ids, id)
}

func (s *orderedSet) has(id string) bool {
	_, ok := s.set[id]
	return ok
}

func (s *orderedSet) len() int { return len(s.ids) }

func (s *orderedSet) ordered() []string {
	return append([]string{}, s.ids...)
}
