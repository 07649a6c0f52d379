package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a repository scenario: contracts, seed data, calls with
// expected results and assertions over the trace and the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Contracts is the directory of the CUE contract package.
	Contracts string `yaml:"contracts"`

	// Schema is the DDL file applied to the fresh store. Defaults to
	// schema.sql in the contracts directory.
	Schema string `yaml:"schema,omitempty"`

	// Seed lists rows inserted before the first step. Seed statements are
	// not traced.
	Seed []SeedTable `yaml:"seed,omitempty"`

	// Steps are the repository calls, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	// Supported types: trace_contains, trace_order, statement_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SeedTable is a batch of rows for one table.
type SeedTable struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// Step is one repository call.
type Step struct {
	// Call is "Contract.method".
	Call string `yaml:"call"`

	// Args are the value arguments in declaration order. They are
	// converted to the declared parameter types.
	Args []any `yaml:"args,omitempty"`

	// Page fills the pageable parameter.
	Page *PageSpec `yaml:"page,omitempty"`

	// Shape fills the shape parameter.
	Shape string `yaml:"shape,omitempty"`

	// Expect validates the call result. If nil, the call must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// PageSpec describes a page request.
type PageSpec struct {
	Index int      `yaml:"index"`
	Size  int      `yaml:"size"`
	Sort  []string `yaml:"sort,omitempty"` // "property[,asc|desc]"
	Total *int64   `yaml:"total,omitempty"`
}

// Expect specifies the expected outcome of a call.
type Expect struct {
	// Error is the expected error code, e.g. NON_UNIQUE_RESULT. When set
	// the other fields are ignored.
	Error string `yaml:"error,omitempty"`

	// Count is the number of returned items.
	Count *int `yaml:"count,omitempty"`

	// Items are matched in order against the JSON form of the returned
	// items. Objects match as subsets.
	Items []any `yaml:"items,omitempty"`

	// Affected is the row count of a bulk statement.
	Affected *int64 `yaml:"affected,omitempty"`

	// Total, TotalPages and HasNext check the page of a paged call.
	Total      *int64 `yaml:"total,omitempty"`
	TotalPages *int   `yaml:"total_pages,omitempty"`
	HasNext    *bool  `yaml:"has_next,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a statement of Op contains SQL
	// - "trace_order": Ops were called in this order
	// - "statement_count": Op issued exactly Count statements
	// - "final_state": query Table and verify expected values
	Type string `yaml:"type"`

	// Op is "Contract.method" (trace_contains, statement_count).
	Op string `yaml:"op,omitempty"`

	// SQL is a fragment the statement must contain (trace_contains).
	SQL string `yaml:"sql,omitempty"`

	// Ops is the expected call order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of statements (statement_count).
	Count int `yaml:"count,omitempty"`

	// Table is the table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match - only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertStatementCount = "statement_count"
	AssertFinalState     = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// Relative contracts and schema paths are resolved against the scenario
// file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	if scenario.Contracts != "" && !filepath.IsAbs(scenario.Contracts) {
		scenario.Contracts = filepath.Join(base, scenario.Contracts)
	}
	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(base, scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// schemaPath returns the DDL file the scenario's store is created with.
func (s *Scenario) schemaPath() string {
	if s.Schema != "" {
		return s.Schema
	}
	return filepath.Join(s.Contracts, "schema.sql")
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Contracts == "" {
		return fmt.Errorf("contracts directory is required")
	}
	if info, err := os.Stat(s.Contracts); err != nil || !info.IsDir() {
		return fmt.Errorf("contracts directory not found: %s", s.Contracts)
	}
	if _, err := os.Stat(s.schemaPath()); err != nil {
		return fmt.Errorf("schema file not found: %s", s.schemaPath())
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, seed := range s.Seed {
		if !validIdentifier.MatchString(seed.Table) {
			return fmt.Errorf("seed[%d]: invalid table name %q", i, seed.Table)
		}
		for j, row := range seed.Rows {
			if len(row) == 0 {
				return fmt.Errorf("seed[%d].rows[%d]: row is empty", i, j)
			}
		}
	}

	for i, step := range s.Steps {
		contract, method, ok := strings.Cut(step.Call, ".")
		if !ok || contract == "" || method == "" {
			return fmt.Errorf("steps[%d]: call must be Contract.method, got %q", i, step.Call)
		}
		if step.Page != nil && step.Page.Size < 1 {
			return fmt.Errorf("steps[%d].page: size must be positive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" || a.SQL == "" {
			return fmt.Errorf("assertions[%d]: op and sql are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertStatementCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for statement_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for statement_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
