package api

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oculair/toolcurator/pkg/models"
	syncpkg "github.com/oculair/toolcurator/pkg/sync"
	"github.com/oculair/toolcurator/pkg/toolset"
	"github.com/oculair/toolcurator/pkg/vectorstore"
	"github.com/oculair/toolcurator/pkg/version"
)

type attachRequest struct {
	Query     string   `json:"query"`
	AgentID   string   `json:"agent_id"`
	Limit     int      `json:"limit"`
	KeepTools []string `json:"keep_tools"`
}

func (s *Server) handleAttach(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		badRequest(c, "agent_id is required")
		return
	}

	if err := s.ensureVector(c.Request.Context()); err != nil {
		engineError(c, "vector store unavailable: "+err.Error())
		return
	}

	// An empty query is allowed: the engine then matches nothing, detaches
	// per the keep list, and skips pruning.
	result, err := s.engine.Attach(c.Request.Context(), toolset.AttachRequest{
		AgentID:   req.AgentID,
		Query:     req.Query,
		Limit:     req.Limit,
		KeepTools: req.KeepTools,
	})
	if err != nil {
		engineError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

type pruneRequest struct {
	AgentID             string   `json:"agent_id"`
	UserPrompt          string   `json:"user_prompt"`
	DropRate            *float64 `json:"drop_rate"`
	KeepToolIDs         []string `json:"keep_tool_ids"`
	NewlyMatchedToolIDs []string `json:"newly_matched_tool_ids"`
}

func (s *Server) handlePrune(c *gin.Context) {
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		badRequest(c, "agent_id is required")
		return
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		badRequest(c, "user_prompt is required")
		return
	}
	if req.DropRate == nil {
		badRequest(c, "drop_rate is required")
		return
	}
	if *req.DropRate < 0 || *req.DropRate > 1 {
		badRequest(c, "drop_rate must be between 0 and 1")
		return
	}

	if err := s.ensureVector(c.Request.Context()); err != nil {
		engineError(c, "vector store unavailable: "+err.Error())
		return
	}

	result, err := s.engine.Prune(c.Request.Context(), toolset.PruneRequest{
		AgentID:             req.AgentID,
		Prompt:              req.UserPrompt,
		DropRate:            *req.DropRate,
		KeepToolIDs:         req.KeepToolIDs,
		NewlyMatchedToolIDs: req.NewlyMatchedToolIDs,
	})
	if err != nil {
		engineError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResult struct {
	ToolID        string   `json:"tool_id,omitempty"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	ToolType      string   `json:"tool_type,omitempty"`
	MCPServerName string   `json:"mcp_server_name,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Distance      float64  `json:"distance"`
	MatchScore    float64  `json:"match_score"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(c, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = toolset.DefaultSearchLimit
	}

	if err := s.ensureVector(c.Request.Context()); err != nil {
		engineError(c, "vector store unavailable: "+err.Error())
		return
	}

	expanded := vectorstore.ExpandQuery(req.Query, s.synonyms)
	hits, err := s.vector.Search(c.Request.Context(), expanded, req.Limit)
	if err != nil {
		engineError(c, err.Error())
		return
	}

	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		tool := hit.Tool.Tool
		results = append(results, searchResult{
			ToolID:        tool.ID,
			Name:          tool.Name,
			Description:   tool.Description,
			ToolType:      tool.ToolType,
			MCPServerName: tool.MCPServerName,
			Tags:          tool.Tags,
			Distance:      hit.Distance,
			MatchScore:    hit.MatchScore(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"query":          req.Query,
		"expanded_query": expanded,
		"results":        results,
	})
}

func (s *Server) handleSync(c *gin.Context) {
	summary, err := s.syncer.RunNow(c.Request.Context())
	if err != nil {
		if errors.Is(err, syncpkg.ErrCycleInProgress) {
			c.JSON(http.StatusOK, gin.H{"message": "sync already in progress"})
			return
		}
		engineError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "sync complete",
		"summary": summary,
	})
}

func (s *Server) handleListTools(c *gin.Context) {
	tools := s.catalog.Read(false)
	if tools == nil {
		tools = []models.Tool{}
	}
	c.JSON(http.StatusOK, tools)
}

// Health status values.
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
	StatusError    = "ERROR"
)

func (s *Server) handleHealth(c *gin.Context) {
	vectorOK := s.vector.Ready()
	if !vectorOK {
		// One re-init attempt per request.
		vectorOK = s.vector.EnsureReady(c.Request.Context()) == nil
	}

	catalogTools := s.catalog.Read(false)
	catalogStatus := s.catalog.Status()
	catalogOK := catalogStatus.Loaded

	_, statErr := os.Stat(s.servers.Status().Path)
	serversOK := statErr == nil

	// DEGRADED is reserved for "only the store answers"; a partial cache
	// failure with the store up still reports ERROR.
	status := StatusError
	switch {
	case vectorOK && catalogOK && serversOK:
		status = StatusOK
	case vectorOK && !catalogOK && !serversOK:
		status = StatusDegraded
	}

	code := http.StatusOK
	if status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": version.Get(),
		"details": gin.H{
			"vector_store_ready":    vectorOK,
			"tool_cache_loaded":     catalogOK,
			"tool_cache_size":       len(catalogTools),
			"tool_cache_loaded_at":  catalogStatus.LastLoaded,
			"server_cache_readable": serversOK,
			"server_cache_size":     len(s.servers.Read(false)),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func engineError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msg})
}
