package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Hybrid search tuning, weighting lexical matches on the tool name highest.
const (
	hybridAlpha     = 0.75
	defaultDistance = 0.5
)

var hybridProperties = []string{"name^2", "description^1.5", "tags"}

// Hit is one search result. Distance is 1 - hybrid score, so lower is better;
// results missing a score get the neutral default.
type Hit struct {
	Tool     StoredTool
	Distance float64
}

// MatchScore converts the distance into the 0..100 display score.
func (h Hit) MatchScore() float64 {
	return 100 * (1 - h.Distance)
}

// ExpandQuery unions each query token's synonyms into the query. Tokens are
// lowercased; unknown tokens pass through unchanged. Expansion only widens
// recall, the hybrid scorer still ranks the original terms highest.
func ExpandQuery(query string, synonyms map[string][]string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	add := func(term string) {
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	for _, token := range fields {
		add(token)
		for _, syn := range synonyms[token] {
			add(strings.ToLower(syn))
		}
	}
	return strings.Join(terms, " ")
}

// Search runs a hybrid (vector + keyword) query over the indexed tools and
// returns up to limit hits ordered best first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	gql := fmt.Sprintf(`{
  Get {
    %s(
      limit: %d
      hybrid: {query: %s, alpha: %g, properties: %s}
    ) {
      tool_id
      name
      description
      source_type
      tool_type
      tags
      mcp_server_name
      _additional { id score }
    }
  }
}`, ToolClass, limit, quoteGraphQL(query), hybridAlpha, quoteGraphQLList(hybridProperties))

	objects, err := c.graphQL(ctx, gql)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		hits = append(hits, Hit{
			Tool:     StoredTool{UUID: obj.additional.ID, Tool: obj.toolProps.tool()},
			Distance: obj.distance(),
		})
	}
	// Best first. Stable, so score-less results keep the store's ordering.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits, nil
}

// graphQL posts one query and returns the Tool objects from the Get result.
func (c *Client) graphQL(ctx context.Context, query string) ([]gqlTool, error) {
	var resp struct {
		Data struct {
			Get map[string]json.RawMessage `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	body := map[string]string{"query": query}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/graphql", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}

	raw, ok := resp.Data.Get[ToolClass]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var rows []gqlRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s results: %w", ToolClass, err)
	}

	out := make([]gqlTool, 0, len(rows))
	for _, row := range rows {
		out = append(out, gqlTool{toolProps: row.toolProps(), additional: row.Additional})
	}
	return out, nil
}

type gqlRow struct {
	ToolID        string        `json:"tool_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	SourceType    string        `json:"source_type"`
	ToolType      string        `json:"tool_type"`
	Tags          []string      `json:"tags"`
	MCPServerName string        `json:"mcp_server_name"`
	Additional    gqlAdditional `json:"_additional"`
}

func (r gqlRow) toolProps() storeObject {
	return storeObject{
		ID: r.Additional.ID,
		Properties: toolProps{
			ToolID:        r.ToolID,
			Name:          r.Name,
			Description:   r.Description,
			SourceType:    r.SourceType,
			ToolType:      r.ToolType,
			Tags:          r.Tags,
			MCPServerName: r.MCPServerName,
		},
	}
}

type gqlAdditional struct {
	ID     string          `json:"id"`
	Score  json.RawMessage `json:"score"`
	Vector []float64       `json:"vector"`
}

type gqlTool struct {
	toolProps  storeObject
	additional gqlAdditional
}

// distance converts the store's hybrid score (string or number on the wire)
// into 1 - score, falling back to the neutral default when absent.
func (t gqlTool) distance() float64 {
	raw := strings.Trim(string(t.additional.Score), `"`)
	if raw == "" || raw == "null" {
		return defaultDistance
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultDistance
	}
	return 1 - score
}

func quoteGraphQL(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func quoteGraphQLList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = quoteGraphQL(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
