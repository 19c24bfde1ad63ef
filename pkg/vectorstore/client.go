// Package vectorstore is the HTTP/GraphQL client for the Vector Store that
// indexes the tool catalog: schema management, object reconciliation, and
// hybrid search over tool names, descriptions, and tags.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oculair/toolcurator/pkg/config"
	"github.com/oculair/toolcurator/pkg/models"
)

// ToolClass is the store class holding one object per catalog tool.
const ToolClass = "Tool"

const fetchPageSize = 100

// Client talks to the Vector Store. Readiness is tracked so the request path
// can re-probe a store that was down at startup without re-running schema
// setup on every call.
type Client struct {
	baseURL         string
	embeddingAPIKey string
	embeddingModel  string
	embeddingURL    string
	httpClient      *http.Client
	logger          *slog.Logger

	mu    sync.Mutex
	ready bool
}

// NewClient creates a vector store client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:         cfg.VectorHTTPAddr(),
		embeddingAPIKey: cfg.EmbeddingAPIKey,
		embeddingModel:  cfg.EmbeddingModel,
		embeddingURL:    defaultEmbeddingURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          slog.Default(),
	}
}

// OverrideBaseURLForTest repoints the client at a test server. For testing only.
func (c *Client) OverrideBaseURLForTest(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// OverrideEmbeddingURLForTest repoints the direct embedding-provider endpoint.
// For testing only.
func (c *Client) OverrideEmbeddingURLForTest(embeddingURL string) {
	c.embeddingURL = embeddingURL
}

// StoredTool is one indexed object: the store's own object id plus the tool
// descriptor reconstructed from its properties.
type StoredTool struct {
	UUID string
	Tool models.Tool
}

// Ready reports whether the client has a confirmed-ready store.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// EnsureReady probes the store's readiness endpoint and, on first success,
// makes sure the Tool class exists. Safe to call from the request path.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}

	if err := c.doJSON(ctx, http.MethodGet, "/v1/.well-known/ready", nil, nil); err != nil {
		return fmt.Errorf("vector store not ready: %w", err)
	}
	if err := c.ensureSchema(ctx); err != nil {
		return err
	}
	c.ready = true
	c.logger.Info("Vector store ready", "class", ToolClass)
	return nil
}

// ensureSchema creates the Tool class when it does not exist yet.
// Caller holds c.mu.
func (c *Client) ensureSchema(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodGet, "/v1/schema/"+ToolClass, nil, nil)
	if err == nil {
		return nil
	}
	var httpErr *StoreError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound {
		return fmt.Errorf("check %s class: %w", ToolClass, err)
	}

	class := map[string]any{
		"class":      ToolClass,
		"vectorizer": "text2vec-openai",
		"moduleConfig": map[string]any{
			"text2vec-openai": map[string]any{
				"model": c.embeddingModel,
				"type":  "text",
			},
		},
		"properties": []map[string]any{
			{"name": "tool_id", "dataType": []string{"text"}},
			{"name": "name", "dataType": []string{"text"}},
			{"name": "description", "dataType": []string{"text"}},
			{"name": "source_type", "dataType": []string{"text"}},
			{"name": "tool_type", "dataType": []string{"text"}},
			{"name": "tags", "dataType": []string{"text[]"}},
			{"name": "json_schema", "dataType": []string{"text"}},
			{"name": "mcp_server_name", "dataType": []string{"text"}},
		},
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/schema", class, nil); err != nil {
		return fmt.Errorf("create %s class: %w", ToolClass, err)
	}
	c.logger.Info("Created vector store class", "class", ToolClass)
	return nil
}

// DeleteClass drops the Tool class and everything in it, then forgets the
// readiness state so the next EnsureReady recreates the schema.
func (c *Client) DeleteClass(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.doJSON(ctx, http.MethodDelete, "/v1/schema/"+ToolClass, nil, nil)
	var httpErr *StoreError
	if err != nil && (!errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound) {
		return fmt.Errorf("delete %s class: %w", ToolClass, err)
	}
	c.ready = false
	return nil
}

// FetchAll pages through every indexed tool object.
func (c *Client) FetchAll(ctx context.Context) ([]StoredTool, error) {
	var all []StoredTool
	offset := 0
	for {
		query := url.Values{
			"class":  {ToolClass},
			"limit":  {strconv.Itoa(fetchPageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		var page struct {
			Objects []storeObject `json:"objects"`
		}
		if err := c.doJSON(ctx, http.MethodGet, "/v1/objects?"+query.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("list indexed tools: %w", err)
		}
		for _, obj := range page.Objects {
			all = append(all, StoredTool{UUID: obj.ID, Tool: obj.tool()})
		}
		if len(page.Objects) < fetchPageSize {
			return all, nil
		}
		offset += fetchPageSize
	}
}

// InsertBatch indexes the given tools in one batch call. The store vectorizes
// each object from its text properties.
func (c *Client) InsertBatch(ctx context.Context, tools []models.Tool) error {
	if len(tools) == 0 {
		return nil
	}
	objects := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		objects = append(objects, map[string]any{
			"class":      ToolClass,
			"properties": toolProperties(tool),
		})
	}
	body := map[string]any{"objects": objects}

	var results []struct {
		Result struct {
			Errors *struct {
				Error []struct {
					Message string `json:"message"`
				} `json:"error"`
			} `json:"errors"`
		} `json:"result"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/batch/objects", body, &results); err != nil {
		return fmt.Errorf("batch insert %d tools: %w", len(tools), err)
	}
	failed := 0
	for _, r := range results {
		if r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("batch insert: %d of %d objects rejected", failed, len(tools))
	}
	return nil
}

// DeleteByNames removes every indexed object whose name is in names.
func (c *Client) DeleteByNames(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	values := make([]any, len(names))
	for i, n := range names {
		values[i] = n
	}
	body := map[string]any{
		"match": map[string]any{
			"class": ToolClass,
			"where": map[string]any{
				"path":          []string{"name"},
				"operator":      "ContainsAny",
				"valueTextArray": values,
			},
		},
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/batch/objects", body, nil); err != nil {
		return fmt.Errorf("batch delete %d tools: %w", len(names), err)
	}
	return nil
}

// UpdateServerName backfills the mcp_server_name property on one object.
func (c *Client) UpdateServerName(ctx context.Context, uuid, serverName string) error {
	body := map[string]any{
		"class": ToolClass,
		"properties": map[string]any{
			"mcp_server_name": serverName,
		},
	}
	path := "/v1/objects/" + ToolClass + "/" + url.PathEscape(uuid)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("update server name on %s: %w", uuid, err)
	}
	return nil
}

// storeObject is the wire shape of one indexed object.
type storeObject struct {
	ID         string          `json:"id"`
	Properties toolProps       `json:"properties"`
	Vector     []float64       `json:"vector,omitempty"`
	Additional json.RawMessage `json:"additional,omitempty"`
}

type toolProps struct {
	ToolID        string   `json:"tool_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SourceType    string   `json:"source_type"`
	ToolType      string   `json:"tool_type"`
	Tags          []string `json:"tags"`
	JSONSchema    string   `json:"json_schema"`
	MCPServerName string   `json:"mcp_server_name"`
}

func (o storeObject) tool() models.Tool {
	t := models.Tool{
		ID:            o.Properties.ToolID,
		Name:          o.Properties.Name,
		Description:   o.Properties.Description,
		SourceType:    o.Properties.SourceType,
		ToolType:      o.Properties.ToolType,
		Tags:          o.Properties.Tags,
		MCPServerName: o.Properties.MCPServerName,
	}
	if o.Properties.JSONSchema != "" {
		t.JSONSchema = json.RawMessage(o.Properties.JSONSchema)
	}
	return t
}

func toolProperties(tool models.Tool) map[string]any {
	props := map[string]any{
		"tool_id":         tool.ID,
		"name":            tool.Name,
		"description":     tool.Description,
		"source_type":     tool.SourceType,
		"tool_type":       tool.ToolType,
		"mcp_server_name": tool.MCPServerName,
	}
	if len(tool.Tags) > 0 {
		props["tags"] = tool.Tags
	}
	if len(tool.JSONSchema) > 0 {
		props["json_schema"] = string(tool.JSONSchema)
	}
	return props
}

// StoreError is a non-2xx response from the Vector Store.
type StoreError struct {
	Status int
	Msg    string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store HTTP %d: %s", e.Status, e.Msg)
}

// doJSON issues one request with optional JSON body and decodes a 2xx
// response into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.embeddingAPIKey != "" {
		// The store's vectorizer module forwards this to the embedding provider.
		req.Header.Set("X-Openai-Api-Key", c.embeddingAPIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StoreError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
