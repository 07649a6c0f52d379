package engine

import (
	"context"
	"fmt"
)

// Delegate is a hand-written implementation of one operation. It receives
// the call arguments unchanged and bypasses derivation, binding,
// execution and projection entirely.
//
// A delegate returning a *Result has it passed through; any other value
// is returned as Result.Value.
type Delegate func(ctx context.Context, args ...any) (any, error)

func (e *Engine) custom(ctx context.Context, p *plan, args []any) (*Result, error) {
	id := e.ids.Generate()
	e.logger.Debug("calling custom delegate",
		"op", p.key,
		"call_id", id,
	)
	v, err := p.delegate(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.key, err)
	}
	if r, ok := v.(*Result); ok {
		return r, nil
	}
	return &Result{Value: v}, nil
}
