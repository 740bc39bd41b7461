package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"text2sql/internal/catalog"
	"text2sql/internal/loop"
)

type action struct {
	name        string
	description string
	parameters  []string
}

var actions = []action{
	{
		name:        "ingest",
		description: "Load CSV files into a new store, or into an existing one when database is given",
		parameters:  []string{"files (paths)", "datasets ([{name, content}], optional)", "database (optional)"},
	},
	{
		name:        "ask",
		description: "Answer a question: write SQL, review and revise it, then execute it",
		parameters:  []string{"question", "database", "revision_limit (optional)", "temperature (optional)", "schema (optional)", "skip_execution (optional)"},
	},
	{
		name:        "execute",
		description: "Run a SQL statement against a store",
		parameters:  []string{"database", "sql"},
	},
	{
		name:        "describe",
		description: "Show the tables and columns of a store",
		parameters:  []string{"database"},
	},
	{
		name:        "get_session",
		description: "Show the recorded transitions, feedback and result of a session",
		parameters:  []string{"session_id"},
	},
	{
		name:        "list_actions",
		description: "List all available actions (this action)",
		parameters:  []string{},
	},
	{
		name:        "get_stats",
		description: "Session counts, model usage, metrics and latency percentiles",
		parameters:  []string{"window_minutes (optional, default 60)"},
	},
}

func actionNames() []string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.name
	}
	return names
}

// dispatchAction routes actions to appropriate handlers
func (s *Server) dispatchAction(ctx context.Context, name string, params json.RawMessage) (interface{}, error) {
	switch name {
	case "ingest":
		return s.handleIngest(ctx, params)
	case "ask":
		return s.handleAsk(ctx, params)
	case "execute":
		return s.handleExecute(ctx, params)
	case "describe":
		return s.handleDescribe(ctx, params)
	case "get_session":
		return s.handleGetSession(ctx, params)
	case "list_actions":
		return s.handleListActions()
	case "get_stats":
		return s.handleGetStats(ctx, params)
	default:
		return nil, fmt.Errorf("unknown action: %s", name)
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

type ingestResult struct {
	*catalog.Ingestion
	Failed []string `json:"failed,omitempty"`
}

func (s *Server) handleIngest(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params struct {
		Database string   `json:"database"`
		Files    []string `json:"files"`
		Datasets []struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		} `json:"datasets"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	var datasets []catalog.Dataset
	for _, f := range params.Files {
		datasets = append(datasets, catalog.FileDataset(f))
	}
	for _, d := range params.Datasets {
		if d.Name == "" {
			return nil, errors.New("dataset name is required")
		}
		datasets = append(datasets, catalog.BytesDataset(d.Name, []byte(d.Content)))
	}
	if len(datasets) == 0 {
		return nil, errors.New("missing files or datasets")
	}

	in, err := s.manager.Ingest(ctx, loop.IngestRequest{Database: params.Database, Datasets: datasets})
	if err != nil {
		return nil, err
	}
	res := ingestResult{Ingestion: in}
	for _, e := range in.Errors {
		res.Failed = append(res.Failed, e.Error())
	}
	return res, nil
}

type askResult struct {
	*loop.AskResponse
	Error string `json:"error,omitempty"`
}

func (s *Server) handleAsk(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req loop.AskRequest
	if err := decodeParams(raw, &req); err != nil {
		return nil, err
	}
	if req.Database == "" {
		return nil, errors.New("missing database")
	}

	resp, err := s.manager.Ask(ctx, req)
	if err != nil {
		return nil, err
	}
	res := askResult{AskResponse: resp}
	if err := resp.Err(); err != nil {
		res.Error = err.Error()
	}
	return res, nil
}

func (s *Server) handleExecute(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params struct {
		Database string `json:"database"`
		SQL      string `json:"sql"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Database == "" || params.SQL == "" {
		return nil, errors.New("missing database or sql")
	}

	res := s.manager.Execute(ctx, params.Database, params.SQL)
	out := map[string]interface{}{
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if res.OK() {
		out["columns"] = res.Table.Columns
		out["rows"] = res.Table.Rows
		out["row_count"] = len(res.Table.Rows)
	} else {
		out["error"] = res.Err.Message
	}
	return out, nil
}

func (s *Server) handleDescribe(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params struct {
		Database string `json:"database"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Database == "" {
		return nil, errors.New("missing database")
	}

	tables, err := s.manager.Describe(ctx, params.Database)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"database": params.Database,
		"tables":   tables,
		"schema":   catalog.FormatSchema(tables),
	}, nil
}

func (s *Server) handleGetSession(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, errors.New("missing session_id")
	}
	return s.manager.Storage().LoadSession(ctx, params.SessionID)
}

func (s *Server) handleListActions() (interface{}, error) {
	list := make([]map[string]interface{}, len(actions))
	for i, a := range actions {
		list[i] = map[string]interface{}{
			"name":        a.name,
			"description": a.description,
			"parameters":  a.parameters,
		}
	}
	return map[string]interface{}{
		"actions": list,
		"count":   len(list),
	}, nil
}

func (s *Server) handleGetStats(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params struct {
		WindowMinutes int `json:"window_minutes"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.WindowMinutes <= 0 {
		params.WindowMinutes = 60
	}

	stats, err := s.manager.Storage().Stats(ctx, time.Duration(params.WindowMinutes)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return map[string]interface{}{
		"window_minutes": params.WindowMinutes,
		"stats":          stats,
		"timestamp":      time.Now().Unix(),
	}, nil
}
