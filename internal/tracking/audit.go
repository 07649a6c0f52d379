package tracking

import (
	"context"

	"github.com/google/uuid"
)

// Auditor names the principal recorded in created-by and modified-by
// fields.
type Auditor interface {
	Current(ctx context.Context) string
}

// AuditorFunc adapts a func to Auditor.
type AuditorFunc func(ctx context.Context) string

// Current implements Auditor.
func (f AuditorFunc) Current(ctx context.Context) string {
	return f(ctx)
}

// RandomAuditor returns a random UUID per call. It is the default when no
// principal is known.
var RandomAuditor = AuditorFunc(func(context.Context) string {
	return uuid.NewString()
})
