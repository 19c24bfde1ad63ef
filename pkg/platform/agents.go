package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/oculair/toolcurator/pkg/models"
)

// ListAgentTools fetches the tools currently attached to an agent.
func (c *Client) ListAgentTools(ctx context.Context, agentID string) ([]models.Tool, error) {
	var tools []models.Tool
	if err := c.do(ctx, ListRetry, "list agent tools", http.MethodGet,
		"/agents/"+url.PathEscape(agentID)+"/tools", nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// AttachTool attaches one tool to an agent. A 409 means the tool was already
// attached and counts as success. A 404 is a real failure: either the tool id
// is unknown to the platform or the agent is gone.
func (c *Client) AttachTool(ctx context.Context, agentID, toolID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.mutationTimeout)
	defer cancel()

	op := fmt.Sprintf("attach tool %s", toolID)
	path := "/agents/" + url.PathEscape(agentID) + "/tools/attach/" + url.PathEscape(toolID)
	err := c.do(ctx, MutateRetry, op, http.MethodPatch, path, nil, nil)
	if IsConflict(err) {
		c.logger.Debug("Tool already attached", "agent", agentID, "tool", toolID)
		return nil
	}
	return err
}

// DetachTool detaches one tool from an agent. Both 409 and 404 mean the
// desired end state already holds (not attached, or tool no longer exists)
// and count as success.
func (c *Client) DetachTool(ctx context.Context, agentID, toolID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.mutationTimeout)
	defer cancel()

	op := fmt.Sprintf("detach tool %s", toolID)
	path := "/agents/" + url.PathEscape(agentID) + "/tools/detach/" + url.PathEscape(toolID)
	err := c.do(ctx, MutateRetry, op, http.MethodPatch, path, nil, nil)
	if IsConflict(err) || IsNotFound(err) {
		c.logger.Debug("Tool already detached", "agent", agentID, "tool", toolID)
		return nil
	}
	return err
}
