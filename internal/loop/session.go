package loop

import (
	"text2sql/internal/catalog"
	"text2sql/internal/executor"
)

// AskRequest asks one question against a store. Schema is optional: when
// empty it is derived from the store.
type AskRequest struct {
	Question      string   `json:"question"`
	Database      string   `json:"database"`
	Schema        string   `json:"schema,omitempty"`
	RevisionLimit int      `json:"revision_limit,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	SkipExecution bool     `json:"skip_execution,omitempty"`
}

// AskResponse is the outcome of a session.
type AskResponse struct {
	SessionID string                   `json:"session_id"`
	Status    string                   `json:"status"`
	SQL       string                   `json:"sql"`
	Accepted  bool                     `json:"accepted"`
	Revisions int                      `json:"revisions"`
	Feedback  []string                 `json:"feedback"`
	NoQuery   bool                     `json:"no_query,omitempty"`
	Table     *executor.Table          `json:"table,omitempty"`
	ExecError *executor.ExecutionError `json:"execution_error,omitempty"`
}

// Err returns ErrNoQuery when the loop produced no SQL, the execution error
// when the engine rejected the query, or nil.
func (r *AskResponse) Err() error {
	switch {
	case r.NoQuery:
		return ErrNoQuery
	case r.ExecError != nil:
		return r.ExecError
	default:
		return nil
	}
}

// IngestRequest loads datasets, into a new store unless Database is set.
type IngestRequest struct {
	Database string
	Datasets []catalog.Dataset
}
