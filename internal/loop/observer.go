package loop

import (
	"context"

	"text2sql/internal/llm"
	"text2sql/internal/prompts"
)

// Invocation describes one model call. Response is nil when Err is set.
type Invocation struct {
	Role        prompts.Role
	Temperature float64
	Response    *llm.Response
	Err         error
}

// Observer is told about every transition and model call. Its errors are
// logged and never change the run.
type Observer interface {
	OnTransition(ctx context.Context, from, to State) error
	OnInvocation(ctx context.Context, inv Invocation) error
}

// Observers fans out to several observers, returning the first error.
type Observers []Observer

func (o Observers) OnTransition(ctx context.Context, from, to State) error {
	var first error
	for _, obs := range o {
		if err := obs.OnTransition(ctx, from, to); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (o Observers) OnInvocation(ctx context.Context, inv Invocation) error {
	var first error
	for _, obs := range o {
		if err := obs.OnInvocation(ctx, inv); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type nopObserver struct{}

func (nopObserver) OnTransition(context.Context, State, State) error { return nil }
func (nopObserver) OnInvocation(context.Context, Invocation) error  { return nil }
