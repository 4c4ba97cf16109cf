package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/config"
	"github.com/owulveryck/agentcore/internal/llm"
	"github.com/owulveryck/agentcore/internal/observability"
	"github.com/owulveryck/agentcore/internal/orchestrator"
	"github.com/owulveryck/agentcore/internal/system"
	"github.com/owulveryck/agentcore/internal/transport"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		MaxIterations:    3,
		ConvergenceToken: "CONVERGED",
		Agents: config.AgentsFile{
			Agents: config.DefaultAgents(),
			Dashboards: []config.DashboardSpec{
				{Name: "overview", Metrics: []string{observability.MetricResponseTime}},
			},
			Alerts: []config.AlertSpec{
				{Name: "errors", Metric: observability.MetricOperationsErrors, Threshold: 0},
			},
		},
	}
}

func TestBuildSystem(t *testing.T) {
	manager := observability.NewManager()
	sys, err := buildSystem(testConfig(), manager, llm.NewMockBrain(), slog.Default())
	require.NoError(t, err)

	status := sys.Status()
	assert.Equal(t, 2, status.TotalAgents)

	concierge, ok := sys.Agent("concierge_001")
	require.True(t, ok)
	require.Len(t, concierge.Capabilities(), 1)
	assert.Equal(t, "google_search", concierge.Capabilities()[0].Name())

	_, ok = manager.DashboardData("overview")
	assert.True(t, ok)

	res, err := sys.Dispatch(context.Background(), "s1", agent.NewMessage("hi", "user", ""), orchestrator.ModeSequential)
	require.NoError(t, err)
	last, _ := res.Last()
	assert.Equal(t, "Echo: Echo: hi", last.Content)
}

func TestBuildSystemRejectsUnknownTool(t *testing.T) {
	cfg := testConfig()
	cfg.Agents.Agents[1].Tools = []string{"teleport"}

	_, err := buildSystem(cfg, observability.NewManager(), llm.NewMockBrain(), slog.Default())
	assert.Error(t, err)
}

func startChatServer(t *testing.T, sys *system.System) *transport.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(sys)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	client, err := transport.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBuildSystemRegistersRemoteTools(t *testing.T) {
	document := filepath.Join(t.TempDir(), "weather.yaml")
	require.NoError(t, os.WriteFile(document, []byte("openapi: 3.0.0\ninfo:\n  title: Weather\nservers:\n  - url: https://weather.example.com\n"), 0o600))

	cfg := testConfig()
	cfg.Agents.Tools = []config.ToolSpec{
		{Kind: config.ToolKindOpenAPI, Name: "weather", Document: document},
		{Kind: config.ToolKindMCP, URL: "http://localhost:8080/mcp"},
	}
	cfg.Agents.Agents[1].Tools = []string{"weather", agent.MCPCapabilityName}

	sys, err := buildSystem(cfg, observability.NewManager(), llm.NewMockBrain(), slog.Default())
	require.NoError(t, err)
	assistant, ok := sys.Agent("assistant_001")
	require.True(t, ok)
	caps := assistant.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, "weather", caps[0].Name())
	assert.Equal(t, agent.MCPCapabilityName, caps[1].Name())
	assert.NoError(t, sys.Shutdown(context.Background()))

	cfg.Agents.Tools = []config.ToolSpec{{Kind: config.ToolKindOpenAPI, Document: filepath.Join(t.TempDir(), "missing.yaml")}}
	_, err = buildSystem(cfg, observability.NewManager(), llm.NewMockBrain(), slog.Default())
	assert.Error(t, err)
}

func TestChatLoop(t *testing.T) {
	sys, err := buildSystem(testConfig(), observability.NewManager(), llm.NewMockBrain(), slog.Default())
	require.NoError(t, err)
	client := startChatServer(t, sys)

	cmd := &ChatCmd{Session: "chat", Agent: []string{"assistant_001"}}
	var out bytes.Buffer
	require.NoError(t, cmd.loop(context.Background(), client, strings.NewReader("hello\n\nbye\n"), &out))

	assert.Contains(t, out.String(), "[assistant_001] Echo: hello")
	assert.Contains(t, out.String(), "[assistant_001] Echo: bye")

	sess, err := sys.Sessions().Get("chat")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)
}

func TestChatClear(t *testing.T) {
	brain := llm.NewMockBrain()
	sys, err := buildSystem(testConfig(), observability.NewManager(), brain, slog.Default())
	require.NoError(t, err)
	client := startChatServer(t, sys)

	var out bytes.Buffer
	fresh := &ChatCmd{Agent: []string{"assistant_001"}}
	require.NoError(t, fresh.loop(context.Background(), client, strings.NewReader("/clear\n"), &out))
	assert.Contains(t, out.String(), "nothing to clear")

	out.Reset()
	cmd := &ChatCmd{Session: "chat", Agent: []string{"assistant_001"}}
	require.NoError(t, cmd.loop(context.Background(), client, strings.NewReader("hello\n/clear\nbye\n"), &out))
	assert.Contains(t, out.String(), "history cleared")
	assert.Len(t, brain.LastRequest().Conversation, 1)

	sess, err := sys.Sessions().Get("chat")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "bye", sess.Messages[0].Content)
}

func TestHealthServerReportsScore(t *testing.T) {
	manager := observability.NewManager()
	sys, err := buildSystem(testConfig(), manager, llm.NewMockBrain(), slog.Default())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	newHealthServer(testConfig(), sys, manager).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health observability.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	names := make([]string, 0, len(health.Checks))
	for _, c := range health.Checks {
		names = append(names, c.Name)
		if c.Name == "observability" {
			assert.Contains(t, c.Message, "score 100.0")
		}
	}
	assert.ElementsMatch(t, []string{"agents", "observability"}, names)
}

func TestExport(t *testing.T) {
	manager := observability.NewManager()
	manager.Metrics().Counter("requests", 2, nil)
	ts := httptest.NewServer(observability.NewHealthServer(":0", "test", manager).Handler())
	defer ts.Close()

	var out bytes.Buffer
	cmd := &ExportCmd{Addr: ts.URL, Format: "prometheus"}
	require.NoError(t, cmd.export(context.Background(), ts.Client(), &out))
	assert.Contains(t, out.String(), "requests 2")

	out.Reset()
	cmd.Format = "yaml"
	err := cmd.export(context.Background(), http.DefaultClient, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
