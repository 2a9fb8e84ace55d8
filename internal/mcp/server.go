// Package mcp exposes the memory engines over the Model Context
// Protocol on stdio, so agent frontends can store and search memories
// without the HTTP server running.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/membank/membank/internal/consolidate"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
	"github.com/membank/membank/internal/retrieval"
	syncpkg "github.com/membank/membank/internal/sync"
)

const protocolVersion = "2024-11-05"

const serverVersion = "1.0.0"

// Server is a stdio JSON-RPC server that calls the engines directly.
// Logs must go to stderr; stdout carries only protocol frames.
type Server struct {
	manager        *lifecycle.Manager
	search         *retrieval.Engine
	consolidations *consolidate.Engine
	syncEngine     *syncpkg.Engine // nil when sync is not configured
	router         *project.Router
	in             io.Reader
	out            io.Writer
	logger         *slog.Logger
}

func NewServer(
	manager *lifecycle.Manager,
	search *retrieval.Engine,
	consolidations *consolidate.Engine,
	syncEngine *syncpkg.Engine,
	router *project.Router,
	in io.Reader,
	out io.Writer,
	logger *slog.Logger,
) *Server {
	return &Server{
		manager:        manager,
		search:         search,
		consolidations: consolidations,
		syncEngine:     syncEngine,
		router:         router,
		in:             in,
		out:            out,
		logger:         logger,
	}
}

// Run reads newline-delimited JSON-RPC requests until stdin closes.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(&Response{JSONRPC: "2.0",
				Error: &RPCError{Code: -32700, Message: "parse error: " + err.Error()}})
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			s.writeResponse(resp)
		}
	}
	return scanner.Err()
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolCapabilities{}},
			ServerInfo:      ServerInfo{Name: "membank", Version: serverVersion},
		}}
	case "initialized", "notifications/initialized":
		return nil // notification, no response
	case "tools/list":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: ToolDefinitions()}}
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]string{}}
	default:
		return &Response{JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: -32601, Message: "method not found: " + req.Method}}
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32602, Message: "invalid params"}}
	}
	var params CallToolParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32602, Message: "invalid params: " + err.Error()}}
	}

	result, err := s.dispatchTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		}}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: result}},
	}}
}

func (s *Server) dispatchTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "memory_store":
		return s.toolStore(args)
	case "memory_confirm":
		return s.toolConfirm(ctx, args)
	case "memory_search":
		return s.toolSearch(ctx, args)
	case "memory_update":
		return s.toolUpdate(ctx, args)
	case "memory_delete":
		return s.toolDelete(ctx, args)
	case "memory_suggest_consolidations":
		return s.toolSuggest(ctx, args)
	case "memory_consolidate":
		return s.toolConsolidate(ctx, args)
	case "memory_sync_status":
		return s.toolSyncStatus(args)
	case "project_status":
		return s.toolProjectStatus(args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) toolStore(args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	content, _ := args["content"].(string)
	category, _ := args["category"].(string)

	mem, err := s.manager.Create(proj, content, models.Category(category), models.SourceChat)
	if err != nil {
		return "", err
	}
	return marshal(mem)
}

func (s *Server) toolConfirm(ctx context.Context, args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	id, _ := args["id"].(string)

	mem, err := s.manager.Confirm(ctx, proj, id, false)
	if err != nil {
		return "", err
	}
	return marshal(mem)
}

func (s *Server) toolSearch(ctx context.Context, args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	query, _ := args["query"].(string)
	category, _ := args["category"].(string)

	hits, err := s.search.Search(ctx, proj, retrieval.Query{
		Text:     query,
		Category: models.Category(category),
		Limit:    getInt(args, "limit", 10),
	})
	if err != nil {
		return "", err
	}
	return marshal(hits)
}

func (s *Server) toolUpdate(ctx context.Context, args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	id, _ := args["id"].(string)
	content, _ := args["content"].(string)

	mem, err := s.manager.Update(ctx, proj, id, content, false)
	if err != nil {
		return "", err
	}
	return marshal(mem)
}

func (s *Server) toolDelete(ctx context.Context, args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	id, _ := args["id"].(string)

	if err := s.manager.Delete(ctx, proj, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted %s", id), nil
}

func (s *Server) toolSuggest(ctx context.Context, args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	suggestions, err := s.consolidations.Suggest(ctx, proj, getInt(args, "limit", 10))
	if err != nil {
		return "", err
	}
	return marshal(suggestions)
}

func (s *Server) toolConsolidate(ctx context.Context, args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}

	raw, _ := args["sourceIds"].([]any)
	sourceIDs := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			sourceIDs = append(sourceIDs, id)
		}
	}
	mergedContent, _ := args["mergedContent"].(string)

	merged, err := s.consolidations.Apply(ctx, proj, sourceIDs, mergedContent)
	if err != nil {
		return "", err
	}
	return marshal(merged)
}

func (s *Server) toolSyncStatus(args map[string]any) (string, error) {
	if s.syncEngine == nil {
		return "", fmt.Errorf("sync is not configured (set sync.remote_dir and sync.key)")
	}
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	status, err := s.syncEngine.Status(proj)
	if err != nil {
		return "", err
	}
	return marshal(status)
}

func (s *Server) toolProjectStatus(args map[string]any) (string, error) {
	proj, err := s.project(args)
	if err != nil {
		return "", err
	}
	stats, err := s.manager.Stats(proj)
	if err != nil {
		return "", err
	}
	return marshal(map[string]any{"project": proj, "stats": stats})
}

func (s *Server) project(args map[string]any) (*models.Project, error) {
	name, _ := args["project"].(string)
	return s.router.Resolve(name)
}

func (s *Server) writeResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "error", err)
		return
	}
	fmt.Fprintf(s.out, "%s\n", data)
}

func marshal(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func getInt(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}
