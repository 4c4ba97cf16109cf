package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPCapabilityName is the default name of an MCPCapability.
const MCPCapabilityName = "mcp_tool"

const mcpProtocolVersion = "2024-11-05"

var ErrUnsupportedMethod = errors.New("unsupported MCP method")

// MCPCapability forwards a Model Context Protocol request to a server over
// the streamable HTTP transport. The session is opened on first use and
// reopened after a failed initialization.
//
// Parameters: method (tools/list, tools/call, resources/list,
// resources/read, prompts/list or ping) and params. tools/call reads
// params.name and params.arguments; resources/read reads params.uri.
type MCPCapability struct {
	name      string
	serverURL string

	mu     sync.Mutex
	client *client.Client
}

// NewMCPCapability targets serverURL. An empty name uses MCPCapabilityName.
func NewMCPCapability(name, serverURL string) *MCPCapability {
	if name == "" {
		name = MCPCapabilityName
	}
	return &MCPCapability{name: name, serverURL: serverURL}
}

func (m *MCPCapability) Name() string { return m.name }

func (m *MCPCapability) Description() string {
	return "MCP Protocol Tool at " + m.serverURL + ` (params: method, params)`
}

func (m *MCPCapability) Execute(ctx context.Context, params map[string]any) (any, error) {
	method, _ := params["method"].(string)
	if method == "" {
		return nil, fmt.Errorf("%w: method", ErrMissingParam)
	}
	args, _ := params["params"].(map[string]any)

	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	switch method {
	case "tools/list":
		return result(c.ListTools(ctx, mcp.ListToolsRequest{}))
	case "tools/call":
		name, _ := args["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: params.name", ErrMissingParam)
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args["arguments"]
		return result(c.CallTool(ctx, req))
	case "resources/list":
		return result(c.ListResources(ctx, mcp.ListResourcesRequest{}))
	case "resources/read":
		uri, _ := args["uri"].(string)
		if uri == "" {
			return nil, fmt.Errorf("%w: params.uri", ErrMissingParam)
		}
		return result(c.ReadResource(ctx, mcp.ReadResourceRequest{
			Params: mcp.ReadResourceParams{URI: uri},
		}))
	case "prompts/list":
		return result(c.ListPrompts(ctx, mcp.ListPromptsRequest{}))
	case "ping":
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "ok"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}

func (m *MCPCapability) connect(ctx context.Context) (*client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	c, err := client.NewStreamableHttpClient(m.serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcpProtocolVersion
	init.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session with %s: %w", m.serverURL, err)
	}

	m.client = c
	return c, nil
}

// Close ends the MCP session, if one is open.
func (m *MCPCapability) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

func result[T any](v *T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
