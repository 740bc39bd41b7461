// Package loop drives the schema-finder, writer, validator and improver
// roles until a query is accepted or the revision budget runs out.
package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"text2sql/internal/extract"
	"text2sql/internal/llm"
	"text2sql/internal/prompts"
)

// Loop runs one question at a time. A Loop holds no per-run state and may be
// reused sequentially or concurrently.
type Loop struct {
	provider    llm.Provider
	prompts     *prompts.Registry
	temperature float64
	acceptance  Acceptance
	callTimeout time.Duration
	observer    Observer
	logger      *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithTemperature sets the sampling temperature forwarded to every call.
func WithTemperature(t float64) Option {
	return func(l *Loop) { l.temperature = t }
}

// WithAcceptance selects the validator verdict check.
func WithAcceptance(a Acceptance) Option {
	return func(l *Loop) { l.acceptance = a }
}

// WithCallTimeout bounds each model call. Zero means no deadline beyond the
// caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loop) { l.callTimeout = d }
}

// WithObserver installs a transition and invocation hook.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loop over a provider and a prompt registry.
func New(provider llm.Provider, registry *prompts.Registry, opts ...Option) *Loop {
	l := &Loop{
		provider:   provider,
		prompts:    registry,
		acceptance: AcceptWord,
		observer:   nopObserver{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives a request to a terminal phase. A model failure aborts the run
// with a *ModelInvocationError and no partial outcome.
func (l *Loop) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.RevisionLimit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRevisionLimit, req.RevisionLimit)
	}

	s := Start(req)
	bound := MaxInvocations(req.RevisionLimit)

	for calls := 0; !s.Phase.Terminal(); calls++ {
		if calls >= bound {
			return nil, fmt.Errorf("revision loop exceeded %d model calls in phase %s", bound, s.Phase)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := l.step(ctx, s)
		if err != nil {
			l.logger.Error("revision loop aborted",
				zap.String("phase", string(s.Phase)),
				zap.Int("revision", s.Revision),
				zap.Error(err))
			return nil, err
		}

		l.logger.Debug("transition",
			zap.String("phase", string(s.Phase)),
			zap.String("next", string(next.Phase)),
			zap.Int("revision", next.Revision))
		if err := l.observer.OnTransition(ctx, s, next); err != nil {
			l.logger.Warn("observer failed on transition", zap.Error(err))
		}
		s = next
	}

	return outcomeOf(s), nil
}

func (l *Loop) step(ctx context.Context, s State) (State, error) {
	switch s.Phase {
	case PhaseSchemaFinding:
		return l.findSchema(ctx, s)
	case PhaseWriting:
		return l.write(ctx, s)
	case PhaseValidating:
		return l.validate(ctx, s)
	case PhaseImproving:
		return l.improve(ctx, s)
	default:
		return s, fmt.Errorf("no transition from phase %s", s.Phase)
	}
}

// findSchema surfaces relevant tables. The notes are kept for audit only;
// the writer works from the full schema.
func (l *Loop) findSchema(ctx context.Context, s State) (State, error) {
	notes, err := l.invoke(ctx, prompts.SchemaFinder, prompts.Vars{Schema: s.Schema, Question: s.Question})
	if err != nil {
		return s, err
	}
	s.SchemaNotes = notes
	s.Phase = PhaseWriting
	return s, nil
}

func (l *Loop) write(ctx context.Context, s State) (State, error) {
	response, err := l.invoke(ctx, prompts.SQLWriter, prompts.Vars{
		Schema:   s.Schema,
		Question: s.Question,
		Feedback: s.LatestFeedback(),
	})
	if err != nil {
		return s, err
	}
	s.SQL = extract.SQL(response)
	s.Revision++
	s.Phase = PhaseValidating
	return s, nil
}

func (l *Loop) validate(ctx context.Context, s State) (State, error) {
	response, err := l.invoke(ctx, prompts.SQLValidator, prompts.Vars{
		Schema:   s.Schema,
		Question: s.Question,
		SQL:      s.SQL,
	})
	if err != nil {
		return s, err
	}
	s.Accepted = IsAccepted(response, l.acceptance)
	s.Phase = decide(s)
	return s, nil
}

// decide picks the phase after a validation.
func decide(s State) Phase {
	switch {
	case s.Accepted:
		return PhaseAccepted
	case s.Revision >= s.RevisionLimit:
		return PhaseExhausted
	default:
		return PhaseImproving
	}
}

func (l *Loop) improve(ctx context.Context, s State) (State, error) {
	feedback, err := l.invoke(ctx, prompts.SQLImprover, prompts.Vars{
		Schema:   s.Schema,
		Question: s.Question,
		SQL:      s.SQL,
	})
	if err != nil {
		return s, err
	}
	s = s.withFeedback(feedback)
	s.Phase = PhaseWriting
	return s, nil
}

func (l *Loop) invoke(ctx context.Context, role prompts.Role, vars prompts.Vars) (string, error) {
	system, user, err := l.prompts.Render(role, vars)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if l.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
	}

	resp, err := l.provider.Invoke(callCtx, llm.Request{System: system, User: user, Temperature: l.temperature})
	if err == nil && resp == nil {
		err = llm.ErrEmptyResponse
	}

	inv := Invocation{Role: role, Temperature: l.temperature, Response: resp, Err: err}
	if obsErr := l.observer.OnInvocation(ctx, inv); obsErr != nil {
		l.logger.Warn("observer failed on invocation", zap.String("role", string(role)), zap.Error(obsErr))
	}

	if err != nil {
		return "", &ModelInvocationError{Role: role, Err: err}
	}
	return resp.Content, nil
}
