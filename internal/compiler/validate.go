package compiler

import (
	"fmt"

	"github.com/roach88/repoql/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrNoContracts = "E100" // no repository declared

	// Contract errors (E101-E109)
	ErrUnknownEntity      = "E101" // contract entity is not declared
	ErrDuplicateContract  = "E102" // contract name declared twice
	ErrDuplicateMethod    = "E103" // method declared twice in a contract
	ErrInvalidOperation   = "E104" // operation descriptor is malformed
	ErrUnknownNamedQuery  = "E105" // named_query override has no query
	ErrNativeWithoutQuery = "E106" // native flag without query text
	ErrCountWithoutPage   = "E107" // count_query on a non-page method
	ErrUnknownGraph       = "E108" // fetch names an undeclared graph

	// Projection errors (E110-E119)
	ErrUnknownAccessor = "E110" // nested accessor does not resolve
)

// ValidationError represents a contract validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled bundle for declaration errors that need no
// query parsing. Returns all errors found (does not fail-fast).
//
// Query text, derivation and projection mapping are checked by the engine
// at registration.
func Validate(b *Bundle) []ValidationError {
	var errs []ValidationError

	if len(b.Contracts) == 0 {
		errs = append(errs, ValidationError{
			Field:   "repository",
			Message: "at least one repository is required",
			Code:    ErrNoContracts,
		})
	}

	contracts := make(map[string]bool)
	for _, c := range b.Contracts {
		if contracts[c.Name] {
			errs = append(errs, ValidationError{
				Field:   "repository." + c.Name,
				Message: fmt.Sprintf("duplicate repository %q", c.Name),
				Code:    ErrDuplicateContract,
			})
		}
		contracts[c.Name] = true

		meta, ok := b.Schema.Entity(c.Entity)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   "repository." + c.Name + ".entity",
				Message: fmt.Sprintf("unknown entity %q", c.Entity),
				Code:    ErrUnknownEntity,
			})
		}

		methods := make(map[string]bool)
		shapes := make(map[string]bool)
		for _, op := range c.Operations {
			errs = append(errs, validateOperation(b.Schema, meta, op, methods)...)
			if meta == nil || op.Projection == "" || shapes[op.Projection] {
				continue
			}
			shapes[op.Projection] = true
			if p, ok := b.Schema.Projection(op.Projection); ok {
				errs = append(errs, validateProjection(b.Schema, meta, p)...)
			}
		}
	}

	return errs
}

func validateOperation(schema *ir.Schema, meta *ir.Entity, op ir.Operation, seen map[string]bool) []ValidationError {
	var errs []ValidationError
	field := fmt.Sprintf("repository.%s.methods.%s", op.ID.Contract, op.ID.Method)

	if seen[op.ID.Method] {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("duplicate method %q", op.ID.Method),
			Code:    ErrDuplicateMethod,
		})
	}
	seen[op.ID.Method] = true

	if err := op.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInvalidOperation})
	}

	if op.NamedQuery != "" {
		if _, ok := schema.NamedQuery(op.NamedQuery); !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".named_query",
				Message: fmt.Sprintf("no query named %q", op.NamedQuery),
				Code:    ErrUnknownNamedQuery,
			})
		}
	}

	if op.Native && op.Query == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".native",
			Message: "native methods need query text",
			Code:    ErrNativeWithoutQuery,
		})
	}

	if op.CountQuery != "" && op.Returns != ir.ReturnPage {
		errs = append(errs, ValidationError{
			Field:   field + ".count_query",
			Message: fmt.Sprintf("count_query needs a page return, got %q", op.Returns),
			Code:    ErrCountWithoutPage,
		})
	}

	if meta != nil && op.Fetch != nil && op.Fetch.Graph != "" {
		if _, ok := meta.Graphs[op.Fetch.Graph]; !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".fetch",
				Message: fmt.Sprintf("entity %q declares no graph %q", meta.Name, op.Fetch.Graph),
				Code:    ErrUnknownGraph,
			})
		}
	}

	return errs
}

// validateProjection checks that every accessor of a shape resolves on the
// entity it is applied to.
func validateProjection(schema *ir.Schema, meta *ir.Entity, p *ir.Projection) []ValidationError {
	var errs []ValidationError
	for _, a := range p.Accessors {
		// Flat accessors may name a column alias of an explicit query.
		if len(a.Nested) == 0 {
			continue
		}
		rel, ok := meta.Relation(a.Name)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   "projection." + p.Name,
				Message: fmt.Sprintf("nested accessor %q is not a relation of %q", a.Name, meta.Name),
				Code:    ErrUnknownAccessor,
			})
			continue
		}
		target, ok := schema.Entity(rel.Target)
		if !ok {
			continue
		}
		for _, n := range a.Nested {
			if _, ok := target.Field(n); !ok {
				errs = append(errs, ValidationError{
					Field:   "projection." + p.Name,
					Message: fmt.Sprintf("accessor %q is not a field of %q", a.Name+"."+n, target.Name),
					Code:    ErrUnknownAccessor,
				})
			}
		}
	}
	return errs
}
