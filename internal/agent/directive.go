package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DirectivePrefix marks a reply line as a capability invocation. The rest of
// the line is a JSON object {"name": ..., "params": {...}}.
const DirectivePrefix = "use_tool:"

// DirectiveKind tags a parsed reply line.
type DirectiveKind int

const (
	DirectiveLiteral DirectiveKind = iota
	DirectiveInvoke
	DirectiveParseError
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveInvoke:
		return "invoke"
	case DirectiveParseError:
		return "parse_error"
	default:
		return "literal"
	}
}

// Directive is one line of a reply. Text holds the original line.
type Directive struct {
	Kind   DirectiveKind
	Text   string
	Name   string
	Params map[string]any
	Err    error
}

var errMissingToolName = errors.New("missing tool name")

// ParseDirectives splits content into lines and classifies each one.
func ParseDirectives(content string) []Directive {
	lines := strings.Split(content, "\n")
	out := make([]Directive, 0, len(lines))
	for _, line := range lines {
		out = append(out, parseLine(line))
	}
	return out
}

// HasDirective reports whether any line of content starts with the prefix.
func HasDirective(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), DirectivePrefix) {
			return true
		}
	}
	return false
}

func parseLine(line string) Directive {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, DirectivePrefix) {
		return Directive{Kind: DirectiveLiteral, Text: line}
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, DirectivePrefix))
	var call struct {
		Name   string         `json:"name"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		return Directive{Kind: DirectiveParseError, Text: line, Err: fmt.Errorf("invalid directive: %w", err)}
	}
	if call.Name == "" {
		return Directive{Kind: DirectiveParseError, Text: line, Err: errMissingToolName}
	}
	if call.Params == nil {
		call.Params = map[string]any{}
	}
	return Directive{Kind: DirectiveInvoke, Text: line, Name: call.Name, Params: call.Params}
}
