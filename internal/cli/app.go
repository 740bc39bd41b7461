package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"text2sql/internal/catalog"
	"text2sql/internal/database"
	"text2sql/internal/executor"
	"text2sql/internal/llm"
	"text2sql/internal/loop"
	"text2sql/internal/prompts"
)

// APIKeySecret is the secrets table entry consulted when no key is configured.
const APIKeySecret = "LLM_API_KEY"

type services struct {
	state   *sql.DB
	catalog *catalog.Catalog
	manager *loop.Manager
}

func (s *services) Close() error {
	return s.state.Close()
}

// services opens the state database and builds the manager. The model
// provider is only built when withModel is set, so data-only commands work
// without an API key.
func (a *app) services(ctx context.Context, withModel bool) (*services, error) {
	state, err := database.OpenState(ctx, a.cfg.Storage.StateDB, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	svc, err := a.build(ctx, state, withModel)
	if err != nil {
		_ = state.Close()
		return nil, err
	}
	return svc, nil
}

func (a *app) build(ctx context.Context, state *sql.DB, withModel bool) (*services, error) {
	cat := catalog.New(a.cfg.Storage.DataDir,
		catalog.WithLogger(a.logger),
		catalog.WithPreviewRows(a.cfg.Ingest.PreviewRows),
		catalog.WithConcurrency(a.cfg.Ingest.Concurrency),
		catalog.WithRecorder(database.NewLifecycleDB(state)))

	registry := prompts.Default()
	if a.cfg.Prompts.File != "" {
		var err error
		if registry, err = prompts.Load(a.cfg.Prompts.File); err != nil {
			return nil, err
		}
	}

	acceptance, err := loop.ParseAcceptance(a.cfg.Loop.Acceptance)
	if err != nil {
		return nil, err
	}

	var provider llm.Provider
	if withModel {
		if provider, err = a.provider(ctx, state); err != nil {
			return nil, err
		}
	}

	m := loop.NewManager(state, cat, executor.New(cat, a.logger), provider, registry, loop.Settings{
		RevisionLimit: a.cfg.Loop.RevisionLimit,
		Temperature:   a.cfg.LLM.Temperature,
		Acceptance:    acceptance,
		CallTimeout:   a.cfg.Loop.CallTimeout,
	}, a.logger)

	return &services{state: state, catalog: cat, manager: m}, nil
}

func (a *app) provider(ctx context.Context, state *sql.DB) (llm.Provider, error) {
	key := a.cfg.LLM.APIKey
	if key == "" {
		secret, err := database.NewMetadataDB(state).GetSecret(ctx, APIKeySecret)
		switch {
		case err == nil:
			key = secret
			a.logger.Debug("using API key from secrets table")
		case errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("no model API key: set TEXT2SQL_LLM_API_KEY or GROQ_API_KEY, or run 'text2sql secrets set %s <key>'", APIKeySecret)
		default:
			return nil, err
		}
	}

	return llm.New(llm.Config{
		Provider:          a.cfg.LLM.Provider,
		BaseURL:           a.cfg.LLM.BaseURL,
		Model:             a.cfg.LLM.Model,
		APIKey:            key,
		MaxTokens:         a.cfg.LLM.MaxTokens,
		Timeout:           a.cfg.LLM.Timeout,
		RequestsPerMinute: a.cfg.LLM.RequestsPerMinute,
	}, a.logger.With(zap.String("component", "llm")))
}
