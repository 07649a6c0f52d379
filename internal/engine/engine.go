package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/projection"
	"github.com/roach88/repoql/internal/querysql"
	"github.com/roach88/repoql/internal/store"
)

// Store is the part of the store the engine needs. *store.Store
// implements it.
type Store interface {
	Query(ctx context.Context, req store.Request) (*store.RowSet, error)
	Exec(ctx context.Context, req store.Request) (int64, error)
	Dialect() ir.Dialect
	Rebind(query string) string
}

// WorkingSet is the tracked set of records that outlives a single call.
// tracking.Session is the reference implementation.
//
// The engine attaches every entity record it returns, reads tracked
// records before loading a deferred relation, flushes before a bulk
// statement when asked to and clears or invalidates after one.
// Synchronization is the working set's job.
type WorkingSet interface {
	Attach(e *projection.Entity, readOnly bool) *projection.Entity
	Tracked(entity string, id any) (*projection.Entity, bool)
	Invalidate(entity string, id any)
	Clear()
	Flush(ctx context.Context) error
}

// Engine resolves operation contracts into plans and executes calls.
//
// Thread-safety model:
//   - Register(): safe from any goroutine
//   - Repository.Call(): safe from any goroutine; plans are read-only
//     after registration
//
// INVARIANTS:
//   - A broken operation fails Register, never its first call, unless the
//     failure needs the store (native text)
//   - Each call runs at most one content statement, plus one count
//     statement in page mode, content first
type Engine struct {
	store     Store
	schema    *ir.Schema
	compiler  *querysql.Compiler
	projector *projection.Projector
	ctors     *projection.Constructors
	ws        WorkingSet
	logger    *slog.Logger
	metrics   *metrics.Metrics
	ids       IDGenerator

	mu    sync.RWMutex
	repos map[string]*Repository
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkingSet sets the working set results are attached to. Without
// one, every call returns detached records.
func WithWorkingSet(ws WorkingSet) Option {
	return func(e *Engine) {
		e.ws = ws
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the collectors statements are counted in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithConstructors sets the constructors "select new" queries and DTO
// projections name.
func WithConstructors(c *projection.Constructors) Option {
	return func(e *Engine) {
		e.ctors = c
	}
}

// WithIDGenerator sets the call id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// New creates an engine over a store and the entity schema.
func New(st Store, schema *ir.Schema, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		schema:    schema,
		compiler:  querysql.NewCompiler(schema, st.Dialect()),
		projector: projection.NewProjector(schema),
		ctors:     projection.NewConstructors(),
		logger:    slog.Default(),
		ids:       UUIDv7Generator{},
		repos:     make(map[string]*Repository),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the entity schema.
func (e *Engine) Schema() *ir.Schema {
	return e.schema
}

// Metrics returns the metrics collectors, or nil.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// RegisterOption configures a single registration.
type RegisterOption func(*registration)

type registration struct {
	custom map[string]Delegate
}

// WithCustom registers a hand-written implementation of one method of the
// contract. It is chosen after explicit and named query text and before
// method-name derivation.
func WithCustom(method string, d Delegate) RegisterOption {
	return func(r *registration) {
		r.custom[method] = d
	}
}

// Register resolves and checks every operation of a contract and returns
// its repository.
//
// Register fails fast: every broken operation is reported in one joined
// error, and nothing is registered unless all operations pass.
func (e *Engine) Register(c ir.Contract, opts ...RegisterOption) (*Repository, error) {
	reg := &registration{custom: make(map[string]Delegate)}
	for _, opt := range opts {
		opt(reg)
	}

	if c.Name == "" {
		return nil, fmt.Errorf("contract has no name")
	}
	for method := range reg.custom {
		if _, ok := c.Operation(method); !ok {
			return nil, fmt.Errorf("%s: custom delegate for undeclared method %q", c.Name, method)
		}
	}

	repo := &Repository{engine: e, contract: c, plans: make(map[string]*plan, len(c.Operations))}
	var errs []error
	for _, op := range c.Operations {
		if op.ID.Contract == "" {
			op.ID.Contract = c.Name
		}
		if op.Entity == "" {
			op.Entity = c.Entity
		}
		p, err := e.resolve(op, reg.custom[op.ID.Method])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		repo.plans[op.ID.Method] = p
		e.logger.Debug("operation resolved",
			"op", p.key,
			"strategy", p.strategy,
		)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.repos[c.Name]; dup {
		return nil, fmt.Errorf("contract %q is already registered", c.Name)
	}
	e.repos[c.Name] = repo
	return repo, nil
}

// Repository returns a registered repository by contract name.
func (e *Engine) Repository(name string) (*Repository, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.repos[name]
	return r, ok
}

// Repositories returns the registered contract names, sorted.
func (e *Engine) Repositories() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.repos))
	for n := range e.repos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Repository is the callable form of a registered contract.
type Repository struct {
	engine   *Engine
	contract ir.Contract
	plans    map[string]*plan
}

// Name returns the contract name.
func (r *Repository) Name() string {
	return r.contract.Name
}

// Methods returns the method names of the contract in declaration order.
func (r *Repository) Methods() []string {
	out := make([]string, 0, len(r.contract.Operations))
	for _, op := range r.contract.Operations {
		out = append(out, op.ID.Method)
	}
	return out
}

// Strategy returns the query source a method resolved to.
func (r *Repository) Strategy(method string) (Strategy, bool) {
	p, ok := r.plans[method]
	if !ok {
		return "", false
	}
	return p.strategy, true
}

// Operation returns the declaration of a method.
func (r *Repository) Operation(method string) (ir.Operation, bool) {
	p, ok := r.plans[method]
	if !ok {
		return ir.Operation{}, false
	}
	return p.op, true
}
