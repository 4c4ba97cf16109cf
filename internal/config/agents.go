package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/owulveryck/agentcore/internal/observability"
)

// AgentsFile describes the agents, remote tools, dashboards and alerts of a
// deployment.
//
//	tools:
//	  - kind: mcp
//	    url: http://localhost:8080/mcp
//	  - kind: openapi
//	    name: weather
//	    document: weather.yaml
//	agents:
//	  - id: concierge_001
//	    name: AI Concierge
//	    instructions: You are an elite AI Concierge.
//	    tools: [google_search]
//	dashboards:
//	  - name: overview
//	    metrics: [agent.response_time, agent.operations.errors]
//	alerts:
//	  - name: slow-agents
//	    metric: agent.response_time
//	    field: p95
//	    threshold: 2
type AgentsFile struct {
	Agents     []AgentSpec     `yaml:"agents"`
	Tools      []ToolSpec      `yaml:"tools"`
	Dashboards []DashboardSpec `yaml:"dashboards"`
	Alerts     []AlertSpec     `yaml:"alerts"`
}

type AgentSpec struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	Tools        []string `yaml:"tools"`
}

// Tool kinds.
const (
	ToolKindMCP     = "mcp"
	ToolKindOpenAPI = "openapi"
)

// ToolSpec declares a remote tool agents can be given by name. An mcp tool
// reads URL; an openapi tool reads the document at Document, relative to
// the agents file. An empty Name uses the default name of the kind.
type ToolSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
	Document string `yaml:"document"`
}

type DashboardSpec struct {
	Name    string   `yaml:"name"`
	Metrics []string `yaml:"metrics"`
}

// AlertSpec fires when Field of the metric summary exceeds Threshold.
// Field is one of latest (default), count, avg, max, p95, p99.
type AlertSpec struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"`
	Field     string  `yaml:"field"`
	Threshold float64 `yaml:"threshold"`
}

var alertFields = map[string]func(observability.Summary) (float64, bool){
	"latest": func(s observability.Summary) (float64, bool) { return s.Latest, true },
	"count":  func(s observability.Summary) (float64, bool) { return float64(s.Count), true },
	"avg":    distributionField(func(d *observability.Distribution) float64 { return d.Avg }),
	"max":    distributionField(func(d *observability.Distribution) float64 { return d.Max }),
	"p95":    distributionField(func(d *observability.Distribution) float64 { return d.P95 }),
	"p99":    distributionField(func(d *observability.Distribution) float64 { return d.P99 }),
}

func distributionField(get func(*observability.Distribution) float64) func(observability.Summary) (float64, bool) {
	return func(s observability.Summary) (float64, bool) {
		if s.Distribution == nil {
			return 0, false
		}
		return get(s.Distribution), true
	}
}

// Condition builds the alert predicate.
func (a AlertSpec) Condition() observability.AlertCondition {
	field := strings.ToLower(a.Field)
	if field == "" {
		field = "latest"
	}
	get := alertFields[field]
	return func(summaries map[string]observability.Summary) bool {
		s, ok := summaries[a.Metric]
		if !ok || get == nil {
			return false
		}
		v, ok := get(s)
		return ok && v > a.Threshold
	}
}

// LoadAgentsFile parses the YAML file at path.
func LoadAgentsFile(path string) (*AgentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	var f AgentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agents file %s: %w", path, err)
	}
	for i, t := range f.Tools {
		if t.Document != "" && !filepath.IsAbs(t.Document) {
			f.Tools[i].Document = filepath.Join(filepath.Dir(path), t.Document)
		}
	}
	return &f, nil
}

func (f AgentsFile) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(f.Agents))
	for i, a := range f.Agents {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
	}
	for i, t := range f.Tools {
		switch t.Kind {
		case ToolKindMCP:
			if t.URL == "" {
				errs = append(errs, fmt.Errorf("tools[%d]: url is required", i))
			}
		case ToolKindOpenAPI:
			if t.Document == "" {
				errs = append(errs, fmt.Errorf("tools[%d]: document is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("tools[%d]: unknown kind %q", i, t.Kind))
		}
	}
	for i, d := range f.Dashboards {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("dashboards[%d]: name is required", i))
		}
	}
	for i, a := range f.Alerts {
		if a.Name == "" || a.Metric == "" {
			errs = append(errs, fmt.Errorf("alerts[%d]: name and metric are required", i))
		}
		if _, ok := alertFields[strings.ToLower(a.Field)]; a.Field != "" && !ok {
			errs = append(errs, fmt.Errorf("alerts[%d]: unknown field %q", i, a.Field))
		}
	}
	return errors.Join(errs...)
}

// DefaultAgents are registered when no agents file is given.
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{
			ID:           "concierge_001",
			Name:         "AI Concierge",
			Instructions: "You are an elite AI Concierge providing 5-star service. Be warm, professional, and helpful.",
			Tools:        []string{"google_search"},
		},
		{
			ID:           "assistant_001",
			Name:         "AI Assistant",
			Instructions: "You are a helpful AI assistant. Provide accurate and useful information.",
		},
	}
}
