package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		kind   DirectiveKind
		tool   string
		params map[string]any
	}{
		{name: "plain text", line: "hello", kind: DirectiveLiteral},
		{name: "prefix mid-line", line: "say use_tool: {}", kind: DirectiveLiteral},
		{name: "invoke", line: `use_tool: {"name": "google_search", "params": {"query": "go"}}`, kind: DirectiveInvoke, tool: "google_search", params: map[string]any{"query": "go"}},
		{name: "indented invoke", line: `  use_tool:{"name":"x"}`, kind: DirectiveInvoke, tool: "x", params: map[string]any{}},
		{name: "bad json", line: "use_tool: {oops", kind: DirectiveParseError},
		{name: "missing name", line: `use_tool: {"params": {}}`, kind: DirectiveParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := ParseDirectives(tt.line)
			require.Len(t, ds, 1)
			d := ds[0]
			assert.Equal(t, tt.kind, d.Kind, d.Kind.String())
			assert.Equal(t, tt.line, d.Text)
			if tt.kind == DirectiveInvoke {
				assert.Equal(t, tt.tool, d.Name)
				assert.Equal(t, tt.params, d.Params)
			}
			if tt.kind == DirectiveParseError {
				assert.Error(t, d.Err)
			}
		})
	}
}

func TestParseDirectivesKeepsLineOrder(t *testing.T) {
	ds := ParseDirectives("a\nuse_tool: {\"name\":\"t\"}\nb")
	require.Len(t, ds, 3)
	assert.Equal(t, []DirectiveKind{DirectiveLiteral, DirectiveInvoke, DirectiveLiteral}, []DirectiveKind{ds[0].Kind, ds[1].Kind, ds[2].Kind})
	assert.True(t, HasDirective("x\n use_tool: {}"))
	assert.False(t, HasDirective("no directives here"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Add(nil), ErrMissingCapability)

	first := NewFuncCapability("echo", "first", func(_ context.Context, p map[string]any) (any, error) { return p, nil })
	second := NewFuncCapability("echo", "second", func(_ context.Context, p map[string]any) (any, error) { return p, nil })

	require.NoError(t, r.Register(first))
	assert.ErrorIs(t, r.Register(second), ErrDuplicateCapability)

	require.NoError(t, r.Add(second))
	require.NoError(t, r.Add(NewSearchCapability()))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "second", got.Description())
	assert.Equal(t, "- echo: second\n- google_search: Search the web using Google", r.Describe())
}

func TestSearchCapability(t *testing.T) {
	s := NewSearchCapability()
	_, err := s.Execute(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrMissingParam)

	out, err := s.Execute(context.Background(), map[string]any{"query": "go"})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, "go", result["query"])
	assert.Len(t, result["results"], 1)
}

func TestMessageWithMetadataCopies(t *testing.T) {
	m := NewMessage("hi", "a", "b")
	tagged := m.WithMetadata("k", "v")
	assert.Empty(t, m.Metadata)
	assert.Equal(t, "v", tagged.Metadata["k"])
	assert.Equal(t, m.ID, tagged.ID)
}
