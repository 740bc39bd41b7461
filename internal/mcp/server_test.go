package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"text2sql/internal/catalog"
	"text2sql/internal/database"
	"text2sql/internal/executor"
	"text2sql/internal/llm"
	"text2sql/internal/loop"
	"text2sql/internal/prompts"
)

// cannedProvider writes a COUNT query and accepts it.
type cannedProvider struct {
	registry *prompts.Registry
}

func (p cannedProvider) Name() string  { return "canned" }
func (p cannedProvider) Model() string { return "canned-1" }

func (p cannedProvider) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	content := "Relevant: orders"
	switch req.System {
	case p.registry.System(prompts.SQLWriter):
		content = "```sql\nSELECT COUNT(*) AS n FROM orders\n```"
	case p.registry.System(prompts.SQLValidator):
		content = "ACCEPTED"
	}
	return &llm.Response{Content: content, Model: "canned-1"}, nil
}

// blockingProvider signals started on its first call and fails once
// release is closed.
type blockingProvider struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Name() string  { return "blocking" }
func (p *blockingProvider) Model() string { return "blocking-1" }

func (p *blockingProvider) Invoke(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		return nil, errors.New("model unavailable")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, cannedProvider{registry: prompts.Default()})
}

func newTestServerWith(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	state, err := database.OpenState(ctx, filepath.Join(dir, "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	cat := catalog.New(dir, catalog.WithLogger(logger))
	registry := prompts.Default()
	m := loop.NewManager(state, cat, executor.New(cat, logger), provider, registry,
		loop.Settings{RevisionLimit: 2}, logger)
	return NewServer(m, "test", logger)
}

// roundTrip feeds requests through Serve and decodes one response per line.
func roundTrip(t *testing.T, s *Server, requests ...string) []JSONRPCResponse {
	t.Helper()
	var out strings.Builder
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(strings.Join(requests, "\n")), &out))

	var responses []JSONRPCResponse
	sc := bufio.NewScanner(strings.NewReader(out.String()))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func call(id int, action string, params interface{}) string {
	data, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      ToolName,
			"arguments": map[string]interface{}{"action": action, "params": params},
		},
	})
	return string(data)
}

// textOf decodes the JSON text content of a tools/call result.
func textOf(t *testing.T, resp JSONRPCResponse, v interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	result := resp.Result.(map[string]interface{})
	content := result["content"].([]interface{})
	require.Len(t, content, 1)
	text := content[0].(map[string]interface{})["text"].(string)
	require.NoError(t, json.Unmarshal([]byte(text), v))
}

func TestInitializeAndToolsList(t *testing.T) {
	s := newTestServer(t)
	responses := roundTrip(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, responses, 2)

	info := responses[0].Result.(map[string]interface{})
	assert.Equal(t, protocolVersion, info["protocolVersion"])

	tools := responses[1].Result.(map[string]interface{})["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, ToolName, tools[0].(map[string]interface{})["name"])
}

func TestProtocolErrors(t *testing.T) {
	s := newTestServer(t)
	responses := roundTrip(t, s,
		`{not json`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"other","arguments":{"action":"list_actions"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"text2sql","arguments":{}}}`,
		call(4, "drop_everything", nil),
	)
	require.Len(t, responses, 5)
	assert.Equal(t, codeParseError, responses[0].Error.Code)
	assert.Equal(t, codeMethodNotFound, responses[1].Error.Code)
	assert.Equal(t, codeInvalidParams, responses[2].Error.Code)
	assert.Equal(t, codeInvalidParams, responses[3].Error.Code)
	assert.Equal(t, codeActionFailed, responses[4].Error.Code)
}

func TestIngestAskExecuteDescribe(t *testing.T) {
	s := newTestServer(t)

	responses := roundTrip(t, s, call(1, "ingest", map[string]interface{}{
		"datasets": []map[string]string{
			{"name": "orders.csv", "content": "id,amount\n1,9.5\n2,3\n"},
			{"name": "broken.csv", "content": "a\n1,2\n"},
		},
	}))
	var ingested struct {
		Database string   `json:"database"`
		Schema   string   `json:"schema"`
		Failed   []string `json:"failed"`
	}
	textOf(t, responses[0], &ingested)
	require.NotEmpty(t, ingested.Database)
	assert.Contains(t, ingested.Schema, "Table: orders")
	require.Len(t, ingested.Failed, 1)
	assert.Contains(t, ingested.Failed[0], "broken.csv")

	responses = roundTrip(t, s,
		call(2, "ask", map[string]interface{}{"question": "How many orders?", "database": ingested.Database}),
		call(3, "execute", map[string]interface{}{"database": ingested.Database, "sql": "SELECT nope FROM orders"}),
		call(4, "describe", map[string]interface{}{"database": ingested.Database}),
	)
	require.Len(t, responses, 3)

	var asked struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		SQL       string `json:"sql"`
		Table     struct {
			Rows [][]float64 `json:"rows"`
		} `json:"table"`
	}
	textOf(t, responses[0], &asked)
	assert.Equal(t, database.StatusAccepted, asked.Status)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM orders", asked.SQL)
	assert.Equal(t, [][]float64{{2}}, asked.Table.Rows)

	var executed map[string]interface{}
	textOf(t, responses[1], &executed)
	assert.Contains(t, executed["error"], "no such column")

	var described struct {
		Schema string `json:"schema"`
	}
	textOf(t, responses[2], &described)
	assert.Equal(t, ingested.Schema, described.Schema)

	responses = roundTrip(t, s,
		call(5, "get_session", map[string]interface{}{"session_id": asked.SessionID}),
		call(6, "get_stats", nil),
	)
	var report struct {
		Transitions []json.RawMessage `json:"transitions"`
	}
	textOf(t, responses[0], &report)
	assert.Len(t, report.Transitions, 3)

	var stats struct {
		Stats struct {
			Sessions struct {
				Total int `json:"total"`
			} `json:"sessions"`
		} `json:"stats"`
	}
	textOf(t, responses[1], &stats)
	assert.Equal(t, 1, stats.Stats.Sessions.Total)
}

func TestAskUnknownDatabaseFails(t *testing.T) {
	s := newTestServer(t)
	responses := roundTrip(t, s, call(1, "ask", map[string]interface{}{"question": "q", "database": "user_data_00000000.db"}))
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeActionFailed, responses[0].Error.Code)
}

func TestListActionsMatchesEnum(t *testing.T) {
	s := newTestServer(t)
	responses := roundTrip(t, s, call(1, "list_actions", nil))
	var listed struct {
		Count int `json:"count"`
	}
	textOf(t, responses[0], &listed)
	assert.Equal(t, len(actionNames()), listed.Count)
}

func TestDrainWaitsForRequestInFlight(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestServerWith(t, provider)

	responses := roundTrip(t, s, call(1, "ingest", map[string]interface{}{
		"datasets": []map[string]string{{"name": "orders.csv", "content": "id\n1\n"}},
	}))
	var ingested struct {
		Database string `json:"database"`
	}
	textOf(t, responses[0], &ingested)

	pr, pw := io.Pipe()
	var out bytes.Buffer
	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background(), pr, &out) }()

	_, err := io.WriteString(pw, call(2, "ask", map[string]interface{}{"question": "q", "database": ingested.Database})+"\n")
	require.NoError(t, err)
	<-provider.started

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Drain(short), context.DeadlineExceeded)

	close(provider.release)
	require.NoError(t, s.Drain(context.Background()))

	// The session was recorded before Drain returned.
	sessions, err := s.manager.Storage().RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, database.StatusFailed, sessions[0].Status)

	_, err = io.WriteString(pw, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`+"\n")
	require.NoError(t, err)
	assert.ErrorIs(t, <-served, ErrServerClosed)
	require.NoError(t, pw.Close())

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.EqualValues(t, 2, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeActionFailed, resp.Error.Code)
}
