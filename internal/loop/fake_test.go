package loop

import (
	"context"
	"sync"
	"time"

	"text2sql/internal/llm"
	"text2sql/internal/prompts"
)

type call struct {
	Role prompts.Role
	User string
}

// scriptedProvider answers by role, popping queued responses and falling
// back to a default per role.
type scriptedProvider struct {
	registry *prompts.Registry

	mu        sync.Mutex
	responses map[prompts.Role][]string
	defaults  map[prompts.Role]string
	errs      map[prompts.Role]error
	block     bool
	calls     []call
}

func newScripted() *scriptedProvider {
	return &scriptedProvider{
		registry:  prompts.Default(),
		responses: make(map[prompts.Role][]string),
		defaults: map[prompts.Role]string{
			prompts.SchemaFinder: "Relevant: orders(id, amount)",
			prompts.SQLWriter:    "```sql\nSELECT COUNT(*) FROM orders\n```",
			prompts.SQLValidator: "ACCEPTED",
			prompts.SQLImprover:  "Use COUNT(*) on orders.",
		},
		errs: make(map[prompts.Role]error),
	}
}

func (p *scriptedProvider) queue(role prompts.Role, responses ...string) *scriptedProvider {
	p.responses[role] = append(p.responses[role], responses...)
	return p
}

func (p *scriptedProvider) fail(role prompts.Role, err error) *scriptedProvider {
	p.errs[role] = err
	return p
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	role := p.roleOf(req.System)

	p.mu.Lock()
	p.calls = append(p.calls, call{Role: role, User: req.User})
	err := p.errs[role]
	content := p.defaults[role]
	if q := p.responses[role]; len(q) > 0 {
		content = q[0]
		p.responses[role] = q[1:]
	}
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &llm.Response{
		Content:          content,
		Model:            "scripted-1",
		PromptTokens:     12,
		CompletionTokens: 4,
		Latency:          3 * time.Millisecond,
	}, nil
}

func (p *scriptedProvider) roleOf(system string) prompts.Role {
	for _, r := range prompts.Roles {
		if p.registry.System(r) == system {
			return r
		}
	}
	return ""
}

func (p *scriptedProvider) roles() []prompts.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]prompts.Role, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Role
	}
	return out
}

func (p *scriptedProvider) usersFor(role prompts.Role) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if c.Role == role {
			out = append(out, c.User)
		}
	}
	return out
}

type temperatureProbe struct {
	*scriptedProvider
	seen []float64
}

func (p *temperatureProbe) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.seen = append(p.seen, req.Temperature)
	return p.scriptedProvider.Invoke(ctx, req)
}
