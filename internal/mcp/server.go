package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"text2sql/internal/loop"
)

const (
	// ToolName is the single tool exposed over tools/list.
	ToolName        = "text2sql"
	protocolVersion = "2024-11-05"
	maxLineBytes    = 32 << 20
)

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeActionFailed   = -32000
)

// Server represents an MCP server
type Server struct {
	manager *loop.Manager
	logger  *zap.Logger
	version string

	mu sync.Mutex // serializes writes to stdout

	handling sync.Mutex // held while a request is in flight
	closed   bool       // guarded by handling
}

// ErrServerClosed is returned by Serve once Drain has been called.
var ErrServerClosed = errors.New("mcp: server closed")

// NewServer creates a new MCP server
func NewServer(manager *loop.Manager, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{manager: manager, version: version, logger: logger}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Serve reads newline-delimited requests from stdin and answers on stdout
// until stdin closes or ctx is cancelled. Requests are handled in order.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(stdout, s.errorResponse(nil, codeParseError, "Parse error", err.Error()))
			continue
		}

		// Notifications carry no id and get no response.
		if req.ID == nil {
			s.logger.Debug("notification", zap.String("method", req.Method))
			continue
		}

		if !s.serveOne(ctx, &req, stdout) {
			return ErrServerClosed
		}
	}

	return scanner.Err()
}

// serveOne handles req under the handling lock. It reports false without
// handling anything once the server is closed.
func (s *Server) serveOne(ctx context.Context, req *JSONRPCRequest, stdout io.Writer) bool {
	s.handling.Lock()
	defer s.handling.Unlock()
	if s.closed {
		return false
	}
	s.write(stdout, s.handleRequest(ctx, req))
	return true
}

// Drain waits for the request in flight, if any, to finish and closes the
// server so Serve handles nothing further. It gives up when ctx is done.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handling.Lock()
		s.closed = true
		s.handling.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) write(stdout io.Writer, resp *JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(stdout, string(data))
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		return s.errorResponse(req.ID, codeMethodNotFound, "Method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    ToolName,
				"version": s.version,
			},
		},
	}
}

func (s *Server) handleToolsList(req *JSONRPCRequest) *JSONRPCResponse {
	// One tool; actions are discovered through list_actions.
	tools := []map[string]interface{}{
		{
			"name":        ToolName,
			"description": "Load CSV files into SQLite and answer questions about them with model-written, model-reviewed SQL",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        actionNames(),
						"description": "Action to perform. Use 'list_actions' to see every action with its parameters.",
					},
					"params": map[string]interface{}{
						"type":        "object",
						"description": "Action-specific parameters.",
					},
				},
				"required": []string{"action"},
			},
		},
	}

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"tools": tools},
	}
}

func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params struct {
		Name      string `json:"name"`
		Arguments struct {
			Action string          `json:"action"`
			Params json.RawMessage `json:"params"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if params.Name != ToolName {
		return s.errorResponse(req.ID, codeInvalidParams, "Unknown tool", params.Name)
	}
	if params.Arguments.Action == "" {
		return s.errorResponse(req.ID, codeInvalidParams, "Missing action parameter", nil)
	}

	result, err := s.dispatchAction(ctx, params.Arguments.Action, params.Arguments.Params)
	if err != nil {
		s.logger.Warn("action failed", zap.String("action", params.Arguments.Action), zap.Error(err))
		return s.errorResponse(req.ID, codeActionFailed, "Action failed", err.Error())
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return s.errorResponse(req.ID, codeActionFailed, "Action failed", err.Error())
	}

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": string(text)},
			},
		},
	}
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}
