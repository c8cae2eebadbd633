package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lazypower/linkboard/internal/graph"
	"github.com/lazypower/linkboard/internal/llm"
)

// Request is what the relationship finder is asked. Prior is only set for
// layers that build on earlier findings.
type Request struct {
	Items []llm.AnalysisItem `json:"items"`
	Layer graph.Layer        `json:"layer"`
	Prior []graph.Connection `json:"priorConnections,omitempty"`
}

// Finder proposes candidate connections between the request's items.
type Finder interface {
	FindConnections(ctx context.Context, req Request) ([]graph.Connection, error)
}

// LLMFinder asks a language model for connections.
type LLMFinder struct {
	Client llm.Client
}

func (f LLMFinder) FindConnections(ctx context.Context, req Request) ([]graph.Connection, error) {
	prompt := llm.AnalysisPrompt(req.Items, req.Layer, req.Prior)

	resp, err := f.Client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm analysis: %w", err)
	}
	if resp == nil {
		return nil, errors.New("llm analysis: empty response")
	}
	return parseConnections(resp.Content)
}

type findResponse struct {
	Connections []graph.Connection `json:"connections"`
}

// parseConnections decodes {"connections": [...]}. When the whole response
// doesn't parse, the span from the first '{' to the last '}' is tried once.
func parseConnections(content string) ([]graph.Connection, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	var r findResponse
	if err := json.Unmarshal([]byte(content), &r); err == nil {
		return r.Connections, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	r = findResponse{}
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("unmarshal connections: %w", err)
	}
	return r.Connections, nil
}
