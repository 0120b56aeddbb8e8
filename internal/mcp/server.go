package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32000
)

// Request is an incoming JSON-RPC 2.0 message. A nil ID marks a
// notification, which never produces a response.
type Request struct {
	ID      any             `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
}

// Response is an outgoing JSON-RPC 2.0 message.
type Response struct {
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	JSONRPC string `json:"jsonrpc"`
}

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type callParams struct {
	Arguments json.RawMessage `json:"arguments"`
	Name      string          `json:"name"`
}

// Server dispatches JSON-RPC requests against a tool registry. It is
// transport-agnostic: the SSE handler and the stdio loop both funnel
// decoded requests through HandleRequest.
type Server struct {
	registry *Registry
	name     string
	version  string
}

// NewServer creates a server over the given registry.
func NewServer(registry *Registry, name, version string) *Server {
	return &Server{registry: registry, name: name, version: version}
}

// HandleRequest processes a single request and returns the response, or
// nil for notifications.
func (s *Server) HandleRequest(ctx context.Context, req *Request) *Response {
	if strings.HasPrefix(req.Method, "notifications/") {
		log.Debug().Str("method", req.Method).Msg("Notification acknowledged")
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return okResponse(req.ID, map[string]any{"tools": s.registry.List()})
	case "tools/call":
		return s.handleToolCall(ctx, req)
	case "ping":
		return okResponse(req.ID, map[string]any{})
	default:
		return errResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	log.Info().Str("server", s.name).Int("tools", s.registry.Len()).Msg("Client initialized")
	return okResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	})
}

func (s *Server) handleToolCall(ctx context.Context, req *Request) *Response {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid tool call params", err.Error())
	}
	if params.Name == "" {
		return errResponse(req.ID, codeInvalidParams, "tool name is required", nil)
	}

	result, err := s.registry.Dispatch(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return errResponse(req.ID, codeMethodNotFound, err.Error(), nil)
		}
		return errResponse(req.ID, codeInternalError, err.Error(), nil)
	}

	return okResponse(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": result},
		},
	})
}

// ServeStdio runs the newline-delimited JSON-RPC loop over stdin/stdout
// until EOF or context cancellation.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := encoder.Encode(errResponse(nil, codeParseError, "parse error", err.Error())); encErr != nil {
				return fmt.Errorf("writing parse error response: %w", encErr)
			}
			continue
		}

		resp := s.HandleRequest(ctx, &req)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

func okResponse(id, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errResponse(id any, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}
