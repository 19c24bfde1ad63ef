package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultEmbeddingURL = "https://api.openai.com/v1/embeddings"

// EmbeddingByToolID returns the stored vector for one indexed tool, looked up
// by its platform tool id: a direct filtered fetch with vector first, then a
// nearText query as fallback for objects whose vector the direct path does
// not expose. A vector is only usable when it has real dimensionality;
// single-element or empty vectors mean the object was never vectorized.
func (c *Client) EmbeddingByToolID(ctx context.Context, toolID string) ([]float64, error) {
	gql := fmt.Sprintf(`{
  Get {
    %s(
      limit: 1
      where: {path: ["tool_id"], operator: Equal, valueText: %s}
    ) {
      tool_id
      name
      _additional { id vector }
    }
  }
}`, ToolClass, quoteGraphQL(toolID))

	objects, err := c.graphQL(ctx, gql)
	if err != nil {
		return nil, fmt.Errorf("fetch embedding for tool %s: %w", toolID, err)
	}
	if len(objects) > 0 && usableVector(objects[0].additional.Vector) {
		return objects[0].additional.Vector, nil
	}

	vector, err := c.nearTextVector(ctx, toolID, toolID)
	if err != nil {
		return nil, fmt.Errorf("fetch embedding for tool %s: %w", toolID, err)
	}
	if !usableVector(vector) {
		return nil, fmt.Errorf("tool %s has no usable embedding", toolID)
	}
	return vector, nil
}

// EmbeddingForText embeds free text: first by asking the store's vectorizer
// through a nearText query, then by calling the embedding provider directly
// with the configured model. The store path can fail when its vectorizer is
// unreachable or misconfigured, which is exactly when the direct path helps.
func (c *Client) EmbeddingForText(ctx context.Context, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	if vector, err := c.nearTextVector(ctx, text, ""); err == nil && usableVector(vector) {
		return vector, nil
	}

	return c.providerEmbedding(ctx, text)
}

// nearTextVector runs a nearText query and returns the top hit's vector.
// filterToolID, when non-empty, restricts the hit to one tool.
func (c *Client) nearTextVector(ctx context.Context, concept, filterToolID string) ([]float64, error) {
	where := ""
	if filterToolID != "" {
		where = fmt.Sprintf("\n      where: {path: [\"tool_id\"], operator: Equal, valueText: %s}", quoteGraphQL(filterToolID))
	}
	gql := fmt.Sprintf(`{
  Get {
    %s(
      limit: 1
      nearText: {concepts: [%s]}%s
    ) {
      tool_id
      name
      _additional { id vector }
    }
  }
}`, ToolClass, quoteGraphQL(concept), where)

	objects, err := c.graphQL(ctx, gql)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no indexed object matched")
	}
	return objects[0].additional.Vector, nil
}

func (c *Client) providerEmbedding(ctx context.Context, text string) ([]float64, error) {
	if c.embeddingAPIKey == "" {
		return nil, fmt.Errorf("no embedding API key configured")
	}

	payload, err := json.Marshal(map[string]any{
		"model": c.embeddingModel,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embeddingURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.embeddingAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding provider HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(result.Data) == 0 || !usableVector(result.Data[0].Embedding) {
		return nil, fmt.Errorf("embedding provider returned no usable vector")
	}
	return result.Data[0].Embedding, nil
}

// usableVector rejects empty and degenerate single-element vectors.
func usableVector(vector []float64) bool {
	return len(vector) > 1
}
