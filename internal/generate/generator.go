package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	temperature = 0.7
	maxTokens   = 2000

	maxNameLen        = 100
	maxDescriptionLen = 2000
	maxTags           = 10

	defaultName       = "AI Generated Strategy"
	defaultRiskLevel  = "Medium"
	defaultAssetClass = "Stocks"
)

// Request is a user's generation prompt plus optional market hints.
type Request struct {
	Prompt     string
	AssetClass string
	RiskLevel  string
}

// Draft is an unsaved strategy proposal. The client reviews it and submits
// it through the normal create endpoint.
type Draft struct {
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters"`
	RiskLevel           string         `json:"riskLevel"`
	AssetClass          string         `json:"assetClass"`
	BacktestPerformance string         `json:"backtestPerformance"`
	Tags                []string       `json:"tags"`
}

// Generator turns prompts into Drafts through a Completer.
type Generator struct {
	completer Completer
	now       func() time.Time
}

func NewGenerator(c Completer) *Generator {
	return &Generator{completer: c, now: time.Now}
}

// Generate asks the model for a strategy. Completer errors are returned
// as is; an unparseable answer is not an error and yields the fallback draft.
func (g *Generator) Generate(ctx context.Context, req Request) (*Draft, error) {
	text, err := g.completer.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt(req.AssetClass, req.RiskLevel)},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := parseAnswer(text)
	if !ok {
		raw = g.fallback(text, req)
	}
	return clamp(raw, req), nil
}

func systemPrompt(assetClass, riskLevel string) string {
	var b strings.Builder
	b.WriteString(`You are an expert quantitative finance strategist. Generate a detailed trading strategy based on user requirements.
Return a JSON object with the following structure:
{
  "name": "Strategy name (max 100 chars)",
  "description": "Detailed description (200-2000 chars) explaining the strategy, entry/exit conditions, and rationale",
  "parameters": {
    "entry": "Entry condition description",
    "exit": "Exit condition description",
    "timeframe": "Trading timeframe",
    "indicators": "Key indicators used"
  },
  "riskLevel": "Low" | "Medium" | "High" | "Very High",
  "assetClass": "Stocks" | "Crypto" | "Forex" | "Futures" | "Options",
  "backtestPerformance": "Expected performance metrics (e.g., 'Win Rate: 65%, Sharpe Ratio: 1.5')",
  "tags": ["tag1", "tag2", "tag3"]
}
`)
	if assetClass != "" {
		fmt.Fprintf(&b, "\nFocus on %s markets.", assetClass)
	}
	if riskLevel != "" {
		fmt.Fprintf(&b, "\nTarget risk level: %s.", riskLevel)
	}
	b.WriteString("\nOnly return valid JSON, no markdown formatting.")
	return b.String()
}

// stripFences removes markdown code fences the model adds despite being told not to.
func stripFences(s string) string {
	for _, fence := range []string{"```json\n", "```json", "```\n", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	return strings.TrimSpace(s)
}

func parseAnswer(text string) (map[string]any, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil || raw == nil {
		return nil, false
	}
	return raw, true
}

func (g *Generator) fallback(text string, req Request) map[string]any {
	return map[string]any{
		"name":        "AI Generated Strategy - " + g.now().Format("1/2/2006"),
		"description": truncate(text, maxDescriptionLen),
		"parameters": map[string]any{
			"entry":     "AI generated",
			"exit":      "AI generated",
			"timeframe": "1h",
		},
		"riskLevel":           firstNonEmpty(req.RiskLevel, defaultRiskLevel),
		"assetClass":          firstNonEmpty(req.AssetClass, defaultAssetClass),
		"backtestPerformance": "To be backtested",
		"tags":                []any{"AI Generated"},
	}
}

// clamp applies defaults and length limits to whatever the model returned.
// Fields of the wrong JSON type count as missing.
func clamp(raw map[string]any, req Request) *Draft {
	d := &Draft{
		Name:                truncate(firstNonEmpty(str(raw["name"]), defaultName), maxNameLen),
		Description:         truncate(str(raw["description"]), maxDescriptionLen),
		Parameters:          map[string]any{},
		RiskLevel:           firstNonEmpty(str(raw["riskLevel"]), req.RiskLevel, defaultRiskLevel),
		AssetClass:          firstNonEmpty(str(raw["assetClass"]), req.AssetClass, defaultAssetClass),
		BacktestPerformance: str(raw["backtestPerformance"]),
		Tags:                []string{},
	}
	if params, ok := raw["parameters"].(map[string]any); ok {
		d.Parameters = params
	}
	if tags, ok := raw["tags"].([]any); ok {
		for _, t := range tags {
			if len(d.Tags) == maxTags {
				break
			}
			d.Tags = append(d.Tags, fmt.Sprint(t))
		}
	}
	return d
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
