package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contractsDir = "../../testdata/contracts"

// writeScenario writes content to a scenario file whose contracts key can
// reach the shared member contracts through an absolute path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func absContracts(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(contractsDir)
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
contracts: `+absContracts(t)+`
seed:
  - table: member
    rows:
      - { username: member1, age: 10 }
steps:
  - call: MemberRepository.findByAge
    args: [10]
    page: { index: 0, size: 2, sort: ["username,desc"] }
    expect:
      count: 1
      total: 1
assertions:
  - type: statement_count
    op: MemberRepository.findByAge
    count: 2
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, filepath.Join(absContracts(t), "schema.sql"), scenario.schemaPath())
	require.Len(t, scenario.Seed, 1)
	assert.Equal(t, "member1", scenario.Seed[0].Rows[0]["username"])
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, []any{10}, scenario.Steps[0].Args)
	assert.Equal(t, []string{"username,desc"}, scenario.Steps[0].Page.Sort)
	assert.Equal(t, 1, *scenario.Steps[0].Expect.Count)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_ResolvesRelativePaths(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/member_queries.yaml")
	require.NoError(t, err)

	want, err := filepath.Abs(contractsDir)
	require.NoError(t, err)
	got, err := filepath.Abs(scenario.Contracts)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/path/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelled key"
contracts: `+absContracts(t)+`
steps:
  - call: MemberRepository.findAll
assertion:
  - type: trace_order
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_ValidationErrors(t *testing.T) {
	contracts := absContracts(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\ncontracts: " + contracts + "\nsteps: [{call: A.b}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\ncontracts: " + contracts + "\nsteps: [{call: A.b}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing contracts",
			content: "name: n\ndescription: d\nsteps: [{call: A.b}]\n",
			wantErr: "contracts directory is required",
		},
		{
			name:    "contracts not a directory",
			content: "name: n\ndescription: d\ncontracts: /nonexistent/contracts\nsteps: [{call: A.b}]\n",
			wantErr: "contracts directory not found",
		},
		{
			name:    "schema not found",
			content: "name: n\ndescription: d\ncontracts: " + contracts + "\nschema: missing.sql\nsteps: [{call: A.b}]\n",
			wantErr: "schema file not found",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\ncontracts: " + contracts + "\n",
			wantErr: "steps list is required",
		},
		{
			name:    "call without method",
			content: "name: n\ndescription: d\ncontracts: " + contracts + "\nsteps: [{call: findAll}]\n",
			wantErr: "call must be Contract.method",
		},
		{
			name:    "page without size",
			content: "name: n\ndescription: d\ncontracts: " + contracts + "\nsteps: [{call: A.b, page: {index: 1}}]\n",
			wantErr: "size must be positive",
		},
		{
			name:    "bad seed table",
			content: "name: n\ndescription: d\ncontracts: " + contracts + "\nseed: [{table: \"member; drop\", rows: [{a: 1}]}]\nsteps: [{call: A.b}]\n",
			wantErr: "invalid table name",
		},
		{
			name:    "empty seed row",
			content: "name: n\ndescription: d\ncontracts: " + contracts + "\nseed: [{table: member, rows: [{}]}]\nsteps: [{call: A.b}]\n",
			wantErr: "row is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAssertion(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"missing type", Assertion{}, "type is required"},
		{"trace_contains without sql", Assertion{Type: AssertTraceContains, Op: "A.b"}, "op and sql are required"},
		{"trace_order without ops", Assertion{Type: AssertTraceOrder}, "ops list is required"},
		{"statement_count without op", Assertion{Type: AssertStatementCount}, "op is required"},
		{"statement_count negative", Assertion{Type: AssertStatementCount, Op: "A.b", Count: -1}, "non-negative"},
		{"final_state without table", Assertion{Type: AssertFinalState}, "table is required"},
		{"final_state without expect", Assertion{Type: AssertFinalState, Table: "member"}, "expect is required"},
		{"unknown type", Assertion{Type: "trace_count"}, `unknown assertion type "trace_count"`},
		{"valid", Assertion{Type: AssertStatementCount, Op: "A.b", Count: 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(3, &tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "assertions[3]")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"member_b.yaml", "member_a.yml", "team.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "member_a.yml"),
		filepath.Join(dir, "member_b.yaml"),
		filepath.Join(dir, "team.yaml"),
	}, files)

	files, err = FindScenarios(dir, "member_*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = FindScenarios(dir, "[")
	assert.Error(t, err)

	_, err = FindScenarios(filepath.Join(dir, "missing"), "")
	assert.Error(t, err)
}
