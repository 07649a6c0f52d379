package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/roach88/repoql/internal/compiler"
	"github.com/roach88/repoql/internal/engine"
	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/page"
	"github.com/roach88/repoql/internal/store"
	"github.com/roach88/repoql/internal/testutil"
	"github.com/roach88/repoql/internal/tracking"
)

// scenarioAuditor is the principal recorded in audit columns of records
// saved during a scenario.
const scenarioAuditor = "harness"

// Harness is the scenario execution environment: one fresh store, the
// compiled contracts registered on an engine whose statements are
// recorded, and a working set with a deterministic clock.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	session *tracking.Session
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
	result  *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and apply the schema
// 2. Insert seed rows
// 3. Compile the contracts and register every repository
// 4. Execute steps with expect validation
// 5. Evaluate assertions and return the result
//
// An error is returned when the scenario cannot be set up; a failing step
// or assertion is reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(store.Config{Driver: ir.DialectSQLite, DSN: ":memory:"})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ddl, err := os.ReadFile(scenario.schemaPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if err := st.ApplySchema(ctx, string(ddl)); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := seed(ctx, st, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	v, err := compiler.LoadDir(scenario.Contracts)
	if err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}
	bundle, errs := compiler.Compile(v, false)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile contracts: %w", errs[0])
	}

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result: NewResult(),
	}
	h.session = tracking.New(st, bundle.Schema,
		tracking.WithAuditor(tracking.AuditorFunc(func(context.Context) string { return scenarioAuditor })),
		tracking.WithClock(h.clock.Now),
	)
	h.engine = engine.New(&recorder{store: st, result: h.result}, bundle.Schema,
		engine.WithWorkingSet(h.session),
		engine.WithLogger(h.logger),
		engine.WithMetrics(metrics.New()),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("harness-call")),
	)
	for _, c := range bundle.Contracts {
		if _, err := h.engine.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", c.Name, err)
		}
	}

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

// seed inserts the seed rows directly, bypassing the recorder.
func seed(ctx context.Context, st *store.Store, tables []SeedTable) error {
	for _, t := range tables {
		for j, row := range t.Rows {
			cols := make([]string, 0, len(row))
			for col := range row {
				if !validIdentifier.MatchString(col) {
					return fmt.Errorf("%s row %d: invalid column name %q", t.Table, j, col)
				}
				cols = append(cols, col)
			}
			sort.Strings(cols)

			args := make([]any, len(cols))
			for k, col := range cols {
				args[k] = row[col]
			}
			query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				t.Table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
			if _, err := st.Exec(ctx, store.Request{SQL: st.Rebind(query), Args: args, Op: "seed"}); err != nil {
				return fmt.Errorf("%s row %d: %w", t.Table, j, err)
			}
		}
	}
	return nil
}

// executeStep calls one repository method and checks its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step) {
	contract, method, _ := strings.Cut(step.Call, ".")
	fail := func(format string, args ...any) {
		h.result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Call, fmt.Sprintf(format, args...)))
	}

	repo, ok := h.engine.Repository(contract)
	if !ok {
		fail("no repository %q", contract)
		return
	}
	op, ok := repo.Operation(method)
	if !ok {
		fail("no method %q", method)
		return
	}
	args, values, err := arguments(op, step)
	if err != nil {
		fail("%v", err)
		return
	}

	h.result.add(TraceEvent{Type: EventCall, Op: step.Call, Args: values})
	res, err := repo.Call(ctx, method, args...)

	outcome := TraceEvent{Type: EventOutcome, Op: step.Call, Outcome: "ok"}
	if err != nil {
		outcome.Outcome = engine.ErrorCode(err)
		h.logger.Debug("call failed", "op", step.Call, "error", err)
	} else if op.Modifying != nil {
		outcome.Rows = rows(res.Affected)
	} else {
		outcome.Rows = rows(int64(len(res.Items)))
	}
	h.result.add(outcome)

	for _, msg := range checkExpect(step.Expect, res, err) {
		fail("%s", msg)
	}
}

// arguments converts the step's YAML values into call arguments following
// the declared parameters. values are the converted value arguments, as
// recorded in the trace.
func arguments(op ir.Operation, step Step) ([]any, []any, error) {
	var args, values []any
	next := 0
	for _, prm := range op.Params {
		switch prm.Type {
		case ir.TypePageable:
			if step.Page == nil {
				return nil, nil, fmt.Errorf("parameter %q needs a page", prm.Name)
			}
			req, err := step.Page.request()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, req)
		case ir.TypeShape:
			if step.Shape == "" {
				return nil, nil, fmt.Errorf("parameter %q needs a shape", prm.Name)
			}
			args = append(args, engine.Shape(step.Shape))
		default:
			if next >= len(step.Args) {
				return nil, nil, fmt.Errorf("missing argument for parameter %q", prm.Name)
			}
			v, err := convertArg(prm.Type, step.Args[next])
			if err != nil {
				return nil, nil, fmt.Errorf("parameter %q: %w", prm.Name, err)
			}
			next++
			args = append(args, v)
			values = append(values, v)
		}
	}
	if next != len(step.Args) {
		return nil, nil, fmt.Errorf("expected %d argument(s), got %d", next, len(step.Args))
	}
	return args, values, nil
}

// request converts the page spec into a page request.
func (p *PageSpec) request() (page.Request, error) {
	req := page.Of(p.Index, p.Size)
	for _, s := range p.Sort {
		o, err := page.ParseSort(s)
		if err != nil {
			return page.Request{}, err
		}
		req.Sort = append(req.Sort, o)
	}
	if p.Total != nil {
		req = req.WithTotal(*p.Total)
	}
	return req, nil
}

// convertArg converts a decoded YAML value to the canonical Go value of a
// parameter type. Strings are parsed as command-line literals.
func convertArg(t ir.ParamType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && t != ir.TypeString {
		return t.ParseLiteral(s)
	}
	switch t {
	case ir.TypeInt:
		if n, ok := v.(int); ok {
			return int64(n), nil
		}
	case ir.TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case float64:
			return n, nil
		}
	}
	if !t.Accepts(v) {
		return nil, fmt.Errorf("want %s, got %T", t, v)
	}
	return v, nil
}
