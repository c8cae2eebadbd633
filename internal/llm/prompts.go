package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lazypower/linkboard/internal/graph"
)

// maxResponseTokens bounds one collaborator reply.
const maxResponseTokens = 4096

// systemPrompt is sent by providers that take a separate system message.
const systemPrompt = "You find relationships between items on a spatial thinking board. " +
	"You answer with a single JSON object and nothing else."

// AnalysisItem is one board item as the relationship finder sees it.
type AnalysisItem struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Payload map[string]string `json:"payload"`
}

type priorConnection struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Layer    string `json:"layer"`
}

var layerGuidance = map[graph.Layer]string{
	graph.LayerStandard: `Find the clear, defensible relationships between items: shared themes,
cause and effect, part/whole, example/concept, sequence.`,
	graph.LayerDeeper: `Look past the obvious. Find second-order, non-obvious relationships:
hidden assumptions two items share, analogies across domains, one item
explaining why another is true. The connections already found are listed
below; do not repeat them or restate them in other words.`,
	graph.LayerTensions: `Find the tensions: contradictions, competing claims, tradeoffs, and items
whose goals pull against each other. Only report genuine friction.`,
}

// AnalysisPrompt renders a relationship-finding request for one layer.
// prior is only included for layers that build on earlier findings.
func AnalysisPrompt(items []AnalysisItem, layer graph.Layer, prior []graph.Connection) string {
	itemsJSON, _ := json.MarshalIndent(items, "", "  ")

	var priorSection string
	if layer.BuildsOnPrior() && len(prior) > 0 {
		pc := make([]priorConnection, len(prior))
		for i, c := range prior {
			pc[i] = priorConnection{From: c.From, To: c.To, Label: c.Label, Category: c.Category, Layer: string(c.Layer)}
		}
		priorJSON, _ := json.MarshalIndent(pc, "", "  ")
		priorSection = fmt.Sprintf("\nCONNECTIONS ALREADY FOUND:\n%s\n", priorJSON)
	}

	guidance := layerGuidance[layer]
	if guidance == "" {
		guidance = layerGuidance[graph.LayerStandard]
	}

	return fmt.Sprintf(`You are a relationship finder for a spatial thinking board. Each item below
is a note, image, link, or document the user placed on the board.

LAYER: %s
%s

ITEMS:
%s
%s
Rules:
- "from" and "to" must be ids copied exactly from ITEMS; never connect an item to itself
- label is a short phrase (2-5 words) shown on the edge
- explanation is one or two sentences
- category is a single lower-case word you choose (e.g. "causal", "thematic", "contradiction")
- strength and surprise are numbers from 0 to 1
- Return ONLY a JSON object, no other text

Return:
{"connections": [{"from": "item-1", "to": "item-2", "label": "...", "explanation": "...", "category": "...", "strength": 0.8, "surprise": 0.3}]}

If there is nothing worth connecting, return: {"connections": []}`,
		layer, strings.TrimSpace(guidance), itemsJSON, priorSection)
}
