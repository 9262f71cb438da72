package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ProcessHandle is the subset of *os.Process needed for teardown.
type ProcessHandle interface {
	Kill() error
	Signal(sig os.Signal) error
}

// Elicitor collects user input for server-initiated elicitation
// requests. Implemented by the host application (renderer dialog).
type Elicitor interface {
	Elicit(ctx context.Context, req ElicitationRequest) (ElicitationResult, error)
}

// SamplingGate approves and executes server-initiated sampling
// requests. A declined request surfaces as an error to the tool server,
// never as a silent empty completion.
type SamplingGate interface {
	Approve(ctx context.Context, req SamplingRequest) (bool, error)
	Complete(ctx context.Context, req SamplingRequest) (SamplingResult, error)
}

// Client wraps one MCP server connection.
type Client struct {
	serverName string
	client     *client.Client
	timeout    time.Duration
	process    ProcessHandle

	// stderrDone closes when the stderr forwarding goroutine exits.
	stderrDone chan struct{}
}

// ClientOptions configures a client connection.
type ClientOptions struct {
	// ServerName is the unique identifier for this server.
	ServerName string

	// Timeout is the default timeout for tool calls (defaults to 30s).
	Timeout time.Duration

	// Elicitor handles server-initiated elicitation. Nil declines all
	// elicitation requests.
	Elicitor Elicitor

	// Sampling handles server-initiated sampling. Nil declines all
	// sampling requests.
	Sampling SamplingGate

	// OnStderrLine receives each line of a stdio server's stderr.
	OnStderrLine func(line string)
}

// Connect creates a client over the given transport, starts it, and
// performs the initialize handshake declaring elicitation, sampling,
// and roots.listChanged capabilities.
func Connect(ctx context.Context, tr transport.Interface, opts ClientOptions) (*Client, error) {
	if opts.ServerName == "" {
		return nil, fmt.Errorf("server name is required")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		serverName: opts.ServerName,
		timeout:    timeout,
		stderrDone: make(chan struct{}),
	}

	mcpClient := client.NewClient(tr,
		client.WithElicitationHandler(c.elicitationHandler(opts.Elicitor)),
		client.WithSamplingHandler(c.samplingHandler(opts.Sampling)),
	)

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	c.client = mcpClient
	c.process = extractProcess(mcpClient)
	c.captureStderr(tr, opts.OnStderrLine)

	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return c, nil
}

// elicitationHandler adapts the Elicitor collaborator to mcp-go's
// handler signature. The collaborator's result is returned verbatim.
func (c *Client) elicitationHandler(elicitor Elicitor) client.ElicitationHandler {
	return elicitationFunc(func(ctx context.Context, request mcp.ElicitationRequest) (*mcp.ElicitationResult, error) {
		if elicitor == nil {
			return &mcp.ElicitationResult{
				ElicitationResponse: mcp.ElicitationResponse{
					Action: mcp.ElicitationResponseActionDecline,
				},
			}, nil
		}

		req := ElicitationRequest{
			ServerName: c.serverName,
			Mode:       "form",
			Message:    request.Params.Message,
		}
		if schema, err := json.Marshal(request.Params.RequestedSchema); err == nil {
			req.Schema = schema
		}

		result, err := elicitor.Elicit(ctx, req)
		if err != nil {
			return nil, err
		}

		out := &mcp.ElicitationResult{
			ElicitationResponse: mcp.ElicitationResponse{
				Content: result.Content,
			},
		}
		switch result.Action {
		case "accept":
			out.Action = mcp.ElicitationResponseActionAccept
		case "cancel":
			out.Action = mcp.ElicitationResponseActionCancel
		default:
			out.Action = mcp.ElicitationResponseActionDecline
		}
		return out, nil
	})
}

// samplingHandler adapts the SamplingGate collaborator. A declined
// request returns an error so the server sees the refusal.
func (c *Client) samplingHandler(gate SamplingGate) client.SamplingHandler {
	return samplingFunc(func(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
		req := SamplingRequest{
			ServerName:   c.serverName,
			SystemPrompt: request.SystemPrompt,
			MaxTokens:    request.MaxTokens,
		}
		for _, msg := range request.Messages {
			text := ""
			if tc, ok := mcp.AsTextContent(msg.Content); ok {
				text = tc.Text
			}
			req.Messages = append(req.Messages, Message{Role: string(msg.Role), Text: text})
		}

		if gate == nil {
			return nil, fmt.Errorf("sampling is not available")
		}

		approved, err := gate.Approve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("sampling approval failed: %w", err)
		}
		if !approved {
			return nil, fmt.Errorf("sampling request declined by user")
		}

		result, err := gate.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		return &mcp.CreateMessageResult{
			SamplingMessage: mcp.SamplingMessage{
				Role:    mcp.Role(result.Role),
				Content: mcp.TextContent{Type: "text", Text: result.Text},
			},
			Model: result.Model,
		}, nil
	})
}

// elicitationFunc adapts a function to client.ElicitationHandler.
type elicitationFunc func(ctx context.Context, request mcp.ElicitationRequest) (*mcp.ElicitationResult, error)

func (f elicitationFunc) Elicit(ctx context.Context, request mcp.ElicitationRequest) (*mcp.ElicitationResult, error) {
	return f(ctx, request)
}

// samplingFunc adapts a function to client.SamplingHandler.
type samplingFunc func(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)

func (f samplingFunc) CreateMessage(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	return f(ctx, request)
}

// captureStderr forwards a stdio transport's stderr stream line by line
// to the log collaborator. No-op for other transports.
func (c *Client) captureStderr(tr transport.Interface, onLine func(string)) {
	stdio, ok := tr.(*transport.Stdio)
	if !ok || onLine == nil {
		close(c.stderrDone)
		return
	}

	go func() {
		defer close(c.stderrDone)
		scanner := bufio.NewScanner(stdio.Stderr())
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line != "" {
				onLine(line)
			}
		}
	}()
}

// extractProcess attempts to extract the underlying OS process from the
// MCP client. Uses reflection to access the stdio transport's command
// field. Returns nil if extraction fails (non-fatal: force-kill during
// emergency stop is then unavailable).
func extractProcess(mcpClient *client.Client) ProcessHandle {
	if mcpClient == nil {
		return nil
	}

	tr := mcpClient.GetTransport()
	if tr == nil {
		return nil
	}

	transportVal := reflect.ValueOf(tr)
	if transportVal.Kind() == reflect.Ptr {
		transportVal = transportVal.Elem()
	}
	if transportVal.Kind() != reflect.Struct {
		return nil
	}

	cmdField := transportVal.FieldByName("Cmd")
	if !cmdField.IsValid() || cmdField.Kind() != reflect.Ptr || cmdField.IsNil() {
		return nil
	}

	processField := cmdField.Elem().FieldByName("Process")
	if !processField.IsValid() || processField.IsNil() {
		return nil
	}

	if proc, ok := processField.Interface().(*os.Process); ok {
		return proc
	}
	return nil
}

// initialize sends the initialize request declaring client capabilities.
func (c *Client) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities: mcp.ClientCapabilities{
				Roots: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{ListChanged: true},
				Sampling:    &struct{}{},
				Elicitation: &struct{}{},
			},
			ClientInfo: mcp.Implementation{
				Name:    "murmur",
				Version: "0.1.0",
			},
		},
	}

	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	return nil
}

// ListTools retrieves the tools this server exposes. Names are returned
// unqualified; the caller namespaces them.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolDescriptor, len(result.Tools))
	for i, tool := range result.Tools {
		var schemaBytes []byte
		if len(tool.RawInputSchema) > 0 {
			schemaBytes = tool.RawInputSchema
		} else {
			toolBytes, err := tool.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
			}
			var toolMap map[string]interface{}
			if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
			}
			if inputSchema, ok := toolMap["inputSchema"]; ok {
				schemaBytes, err = json.Marshal(inputSchema)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
				}
			}
		}

		tools[i] = ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
			Server:      c.serverName,
		}
	}

	return tools, nil
}

// CallTool executes a tool with the given arguments. The response
// content is normalized to typed parts.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mcpReq := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: arguments,
		},
	}

	result, err := c.client.CallTool(ctx, mcpReq)
	if err != nil {
		return ToolResult{}, fmt.Errorf("tool call failed: %w", err)
	}

	response := ToolResult{
		IsError: result.IsError,
		Content: make([]ContentItem, len(result.Content)),
	}

	for i, content := range result.Content {
		item := ContentItem{}

		if textContent, ok := mcp.AsTextContent(content); ok {
			item.Type = textContent.Type
			item.Text = textContent.Text
		} else if imageContent, ok := mcp.AsImageContent(content); ok {
			item.Type = imageContent.Type
			item.Data = imageContent.Data
			item.MimeType = imageContent.MIMEType
		} else {
			// Fallback: marshal to JSON to extract fields.
			contentBytes, err := json.Marshal(content)
			if err != nil {
				return ToolResult{}, fmt.Errorf("failed to marshal content: %w", err)
			}
			var contentMap map[string]interface{}
			if err := json.Unmarshal(contentBytes, &contentMap); err != nil {
				return ToolResult{}, fmt.Errorf("failed to unmarshal content: %w", err)
			}

			if contentType, ok := contentMap["type"].(string); ok {
				item.Type = contentType
			}
			if text, ok := contentMap["text"].(string); ok {
				item.Text = text
			}
			if data, ok := contentMap["data"].(string); ok {
				item.Data = data
			}
			if mimeType, ok := contentMap["mimeType"].(string); ok {
				item.MimeType = mimeType
			}
		}

		response.Content[i] = item
	}

	if len(response.Content) == 0 && !response.IsError {
		response.Content = []ContentItem{{Type: "text", Text: "Tool executed successfully"}}
	}

	return response, nil
}

// ServerName returns the unique identifier for this server.
func (c *Client) ServerName() string {
	return c.serverName
}

// Process returns the underlying OS process for this server, or nil
// for non-stdio transports.
func (c *Client) Process() ProcessHandle {
	return c.process
}

// Ping checks if the server is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		if err == io.EOF {
			return ErrConnectionClosed(c.serverName)
		}
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the connection. Safe to call with the connection in any
// state; double-close is a no-op at the transport level.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}
