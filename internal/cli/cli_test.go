package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text2sql/internal/prompts"
)

var refPattern = regexp.MustCompile(`user_data_[0-9a-f]{8}\.db`)

type harness struct {
	t       *testing.T
	dataDir string
	stdin   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("TEXT2SQL_LLM_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("TEXT2SQL_LLM_REQUESTS_PER_MINUTE", "0")
	return &harness{t: t, dataDir: t.TempDir()}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(h.stdin))
	root.SetArgs(append([]string{"--data-dir", h.dataDir, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) writeCSV(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.t.TempDir(), name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) ingestOrders() string {
	h.t.Helper()
	out, err := h.run("ingest", h.writeCSV("orders.csv", "id,amount\n1,9.5\n2,3\n"))
	require.NoError(h.t, err)
	ref := refPattern.FindString(out)
	require.NotEmpty(h.t, ref, out)
	return ref
}

// fakeModel is an OpenAI-compatible endpoint that writes a COUNT query and
// accepts it.
func fakeModel(t *testing.T, calls *atomic.Int32) *httptest.Server {
	registry := prompts.Default()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		content := "Relevant: orders"
		switch body.Messages[0].Content {
		case registry.System(prompts.SQLWriter):
			content = "```sql\nSELECT COUNT(*) AS n FROM orders\n```"
		case registry.System(prompts.SQLValidator):
			content = "ACCEPTED"
		}

		resp := map[string]any{
			"id":      "c1",
			"object":  "chat.completion",
			"model":   "fake",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestDescribeExec(t *testing.T) {
	h := newHarness(t)
	ref := h.ingestOrders()

	out, err := h.run("describe", "--db", ref)
	require.NoError(t, err)
	assert.Equal(t, "Table: orders\nColumns: id (INTEGER), amount (REAL)\n\n", out)

	out, err = h.run("describe")
	require.NoError(t, err)
	assert.Equal(t, ref+"\n  orders (from orders.csv): 2 rows, 2 columns\n", out)

	csvPath := filepath.Join(t.TempDir(), "out.csv")
	out, err = h.run("exec", "--db", ref, "--csv", csvPath, "SELECT COUNT(*) AS n FROM orders")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 rows)")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "n\n2\n", string(data))

	_, err = h.run("exec", "--db", ref, "SELECT nope FROM orders")
	assert.ErrorContains(t, err, "no such column")
}

func TestIngestReportsFailedFiles(t *testing.T) {
	h := newHarness(t)
	good := h.writeCSV("good.csv", "a\n1\n")
	bad := h.writeCSV("bad.csv", "a\n1,2\n")

	out, err := h.run("ingest", "--preview", good, bad)
	assert.ErrorContains(t, err, "1 of 2 files failed")
	assert.Contains(t, out, "Table: good")
	assert.Contains(t, out, "good (from good.csv): 1 rows, 1 columns")
}

func TestAskEndToEnd(t *testing.T) {
	h := newHarness(t)
	t.Setenv("TEXT2SQL_LLM_API_KEY", "k")
	var calls atomic.Int32
	srv := fakeModel(t, &calls)
	ref := h.ingestOrders()

	csvPath := filepath.Join(t.TempDir(), "answer.csv")
	out, err := h.run("--base-url", srv.URL, "ask", "--db", ref, "--csv", csvPath, "How many orders are there?")
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT COUNT(*) AS n FROM orders")
	assert.Contains(t, out, "accepted after 1 revision(s)")
	assert.Contains(t, out, "(1 rows)")
	assert.Equal(t, int32(3), calls.Load())

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "n\n2\n", string(data))

	id := regexp.MustCompile(`session: (\S+)`).FindStringSubmatch(out)
	require.Len(t, id, 2)
	out, err = h.run("session", id[1])
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "accepted"`)

	out, err = h.run("session")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"ID", "STATUS", "REVISIONS", "DATABASE", "QUESTION"}, strings.Fields(lines[0]))
	assert.True(t, strings.HasPrefix(lines[1], id[1]), lines[1])
	assert.Contains(t, lines[1], "accepted")
	assert.Contains(t, lines[1], "How many orders are there?")

	out, err = h.run("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "sessions: 1")
	assert.Contains(t, out, string(prompts.SQLWriter))
}

func TestAskUsesStoredSecret(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	srv := fakeModel(t, &calls)
	ref := h.ingestOrders()

	_, err := h.run("--base-url", srv.URL, "ask", "--db", ref, "How many orders?")
	assert.ErrorContains(t, err, "no model API key")
	assert.Zero(t, calls.Load())

	out, err := h.run("secrets", "set", APIKeySecret, "k")
	require.NoError(t, err)
	assert.Contains(t, out, "stored")

	_, err = h.run("--base-url", srv.URL, "ask", "--db", ref, "How many orders?")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAskRequiresDB(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("ask", "anything")
	assert.ErrorContains(t, err, "db")
}

func TestMigrate(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1")
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--provider", "bard", "migrate")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestServeAnswersOverStdio(t *testing.T) {
	h := newHarness(t)
	t.Setenv("TEXT2SQL_LLM_API_KEY", "k")
	h.stdin = `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n"

	out, err := h.run("serve")
	require.NoError(t, err)

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &resp))
	require.Len(t, resp.Result.Tools, 1)
	assert.Equal(t, "text2sql", resp.Result.Tools[0].Name)

	out, err = h.run("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat")
}
