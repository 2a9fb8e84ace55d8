package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/membank/membank/internal/consolidate"
	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
	"github.com/membank/membank/internal/retrieval"
	"github.com/membank/membank/internal/store"
	"github.com/membank/membank/internal/vectorindex"
)

const testDim = 8

// session keeps one database and index across calls so multi-step flows
// can be exercised; each call runs the server over a single input line.
type session struct {
	embedder       *embedding.Mock
	manager        *lifecycle.Manager
	search         *retrieval.Engine
	consolidations *consolidate.Engine
	router         *project.Router
	logger         *slog.Logger
}

func newSession(t *testing.T) *session {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := embedding.NewMock(testDim)
	index := vectorindex.NewChromemInMemory()
	memories := store.NewMemoryStore(db)
	versions := store.NewVersionStore(db)
	scorer := lifecycle.NewConfidenceScorer(store.NewConflictStore(db))
	router := project.NewRouter(store.NewProjectStore(db), filepath.Join(dir, "state.yaml"), logger)

	if _, err := router.Register("testproj", t.TempDir(), "mock", "mock", testDim); err != nil {
		t.Fatalf("register project: %v", err)
	}

	return &session{
		embedder:       embedder,
		manager:        lifecycle.NewManager(db, memories, versions, scorer, embedder, index, logger),
		search:         retrieval.NewEngine(memories, scorer, embedder, index, logger),
		consolidations: consolidate.NewEngine(db, memories, versions, store.NewConsolidationStore(db), scorer, embedder, index, logger),
		router:         router,
		logger:         logger,
	}
}

// call sends request lines to the server and returns the response frames.
func (s *session) call(t *testing.T, requests ...string) []Response {
	t.Helper()

	in := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var out bytes.Buffer
	srv := NewServer(s.manager, s.search, s.consolidations, nil, s.router, in, &out, s.logger)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var responses []Response
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("parse frame %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}
	return responses
}

// callTool invokes one tool and returns its result.
func (s *session) callTool(t *testing.T, name string, args map[string]any) CallToolResult {
	t.Helper()

	params, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	line := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":%s}`, params)

	responses := s.call(t, line)
	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	return toolResult(t, responses[0])
}

func toolResult(t *testing.T, resp Response) CallToolResult {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("rpc error: %+v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	var result CallToolResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("parse tool result: %v", err)
	}
	return result
}

func parseText[T any](t *testing.T, result CallToolResult) T {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool error: %s", result.Content[0].Text)
	}
	var v T
	if err := json.Unmarshal([]byte(result.Content[0].Text), &v); err != nil {
		t.Fatalf("parse %q: %v", result.Content[0].Text, err)
	}
	return v
}

func TestInitialize(t *testing.T) {
	s := newSession(t)
	responses := s.call(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
	)
	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1 (notification must not be answered)", len(responses))
	}

	data, _ := json.Marshal(responses[0].Result)
	var result InitializeResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("parse initialize result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocol = %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "membank" {
		t.Errorf("server name = %q", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	s := newSession(t)
	responses := s.call(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if len(responses) != 1 {
		t.Fatalf("responses = %d", len(responses))
	}

	data, _ := json.Marshal(responses[0].Result)
	var result ToolsListResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("parse tools list: %v", err)
	}
	if len(result.Tools) != 9 {
		t.Fatalf("tools = %d, want 9", len(result.Tools))
	}

	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
	for _, want := range []string{"memory_store", "memory_confirm", "memory_search", "memory_consolidate"} {
		if !names[want] {
			t.Errorf("tool %s missing", want)
		}
	}
}

func TestStoreConfirmSearchFlow(t *testing.T) {
	s := newSession(t)
	s.embedder.SetVector("api rate limit is 100 rps", []float32{1, 0, 0})
	s.embedder.SetVector("rate limiting", []float32{1, 0, 0})

	mem := parseText[models.Memory](t, s.callTool(t, "memory_store", map[string]any{
		"content":  "api rate limit is 100 rps",
		"category": "constraint",
		"project":  "testproj",
	}))
	if mem.State != models.StateUnconfirmed {
		t.Fatalf("state = %s, want unconfirmed", mem.State)
	}
	if mem.Source != models.SourceChat {
		t.Errorf("source = %s, want chat", mem.Source)
	}

	confirmed := parseText[models.Memory](t, s.callTool(t, "memory_confirm", map[string]any{
		"id":      mem.ID,
		"project": "testproj",
	}))
	if confirmed.State != models.StateConfirmed {
		t.Fatalf("state = %s, want confirmed", confirmed.State)
	}

	hits := parseText[[]retrieval.Hit](t, s.callTool(t, "memory_search", map[string]any{
		"query":   "rate limiting",
		"project": "testproj",
	}))
	if len(hits) != 1 || hits[0].Memory.ID != mem.ID {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestConsolidateTool(t *testing.T) {
	s := newSession(t)
	s.embedder.SetVector("uses zod for validation", []float32{1, 0, 0})
	s.embedder.SetVector("input validation via zod", []float32{0.99, 0.14, 0})

	var ids []any
	for _, content := range []string{"uses zod for validation", "input validation via zod"} {
		mem := parseText[models.Memory](t, s.callTool(t, "memory_store", map[string]any{
			"content":  content,
			"category": "stack",
			"project":  "testproj",
		}))
		parseText[models.Memory](t, s.callTool(t, "memory_confirm", map[string]any{
			"id":      mem.ID,
			"project": "testproj",
		}))
		ids = append(ids, mem.ID)
	}

	suggestions := parseText[[]*models.ConsolidationSuggestion](t, s.callTool(t, "memory_suggest_consolidations", map[string]any{
		"project": "testproj",
	}))
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}

	merged := parseText[models.Memory](t, s.callTool(t, "memory_consolidate", map[string]any{
		"sourceIds": ids,
		"project":   "testproj",
	}))
	if merged.State != models.StateConfirmed {
		t.Errorf("merged state = %s", merged.State)
	}
}

func TestToolErrors(t *testing.T) {
	s := newSession(t)

	t.Run("unknown tool", func(t *testing.T) {
		result := s.callTool(t, "memory_explode", map[string]any{})
		if !result.IsError {
			t.Fatal("expected tool error")
		}
	})

	t.Run("validation surfaces as tool error", func(t *testing.T) {
		result := s.callTool(t, "memory_store", map[string]any{
			"content": "", "category": "note", "project": "testproj",
		})
		if !result.IsError {
			t.Fatal("expected tool error for empty content")
		}
	})

	t.Run("sync unconfigured", func(t *testing.T) {
		result := s.callTool(t, "memory_sync_status", map[string]any{"project": "testproj"})
		if !result.IsError {
			t.Fatal("expected tool error when sync is not configured")
		}
	})
}

func TestUnknownMethod(t *testing.T) {
	s := newSession(t)
	responses := s.call(t, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`)
	if len(responses) != 1 {
		t.Fatalf("responses = %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != -32601 {
		t.Fatalf("error = %+v, want -32601", responses[0].Error)
	}
}

func TestParseError(t *testing.T) {
	s := newSession(t)
	responses := s.call(t, `{not json`)
	if len(responses) != 1 {
		t.Fatalf("responses = %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != -32700 {
		t.Fatalf("error = %+v, want -32700", responses[0].Error)
	}
}

func TestPing(t *testing.T) {
	s := newSession(t)
	responses := s.call(t, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	if len(responses) != 1 || responses[0].Error != nil {
		t.Fatalf("responses = %+v", responses)
	}
}
