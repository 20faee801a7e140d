package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"
)

// Default chart server command.
const (
	DefaultChartCommand = "npx"
	clientName          = "flightagent"
	clientVersion       = "1.0.0"
)

// DefaultChartArgs launch the AntV chart MCP server.
var DefaultChartArgs = []string{"-y", "@antv/mcp-server-chart"}

// MCPClient is the subset of the mcp-go client used by MCPToolbox.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// MCPConfig describes the MCP server subprocess.
type MCPConfig struct {
	Command string
	Args    []string
	// Env entries are KEY=VALUE pairs added to the subprocess environment.
	Env []string
}

// MCPToolbox exposes the tools of an MCP server as a Toolbox. The tool list
// is fetched once and cached.
type MCPToolbox struct {
	client MCPClient

	mu    sync.Mutex
	tools []openai.Tool
}

// StartMCPToolbox launches the server over stdio and performs the MCP
// handshake.
func StartMCPToolbox(ctx context.Context, cfg MCPConfig) (*MCPToolbox, error) {
	command := cfg.Command
	args := cfg.Args
	if command == "" {
		command = DefaultChartCommand
		args = DefaultChartArgs
	}

	c, err := client.NewStdioMCPClient(command, cfg.Env, args...)
	if err != nil {
		return nil, fmt.Errorf("start MCP server %s: %w", command, err)
	}
	box, err := NewMCPToolbox(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return box, nil
}

// NewMCPToolbox initializes an already connected client.
func NewMCPToolbox(ctx context.Context, c MCPClient) (*MCPToolbox, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}

	if _, err := c.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("initialize MCP session: %w", err)
	}
	return &MCPToolbox{client: c}, nil
}

// Definitions implements Toolbox.
func (b *MCPToolbox) Definitions(ctx context.Context) ([]openai.Tool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tools != nil {
		return b.tools, nil
	}

	res, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list MCP tools: %w", err)
	}

	tools := make([]openai.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := t.RawInputSchema
		if schema == nil {
			schema, err = json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encode schema of %s: %w", t.Name, err)
			}
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, Parameters: schema}.Definition())
	}
	b.tools = tools
	return tools, nil
}

// Call implements Toolbox. Text content is joined with newlines; a result
// flagged as an error is returned as an error.
func (b *MCPToolbox) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call MCP tool %s: %w", name, err)
	}

	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("MCP tool %s failed: %s", name, text)
	}
	return text, nil
}

// Ping checks that the server still answers.
func (b *MCPToolbox) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping MCP server: %w", err)
	}
	return nil
}

// Close stops the server.
func (b *MCPToolbox) Close() error {
	return b.client.Close()
}
