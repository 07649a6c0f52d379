package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teamEntity declares a minimal entity for contract fixtures.
const teamEntity = `
entity: Team: {
	id: "id"
	fields: {
		id: {type: "int", column: "team_id"}
		name: "string"
	}
}
`

func TestValidateValidContracts(t *testing.T) {
	out, _, err := execute(t, "validate", contractsDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ All contracts valid (2 repositories,")
	assert.Contains(t, out, "⚠ Relation cycle:")
}

func TestValidateValidContractsJSON(t *testing.T) {
	out, _, err := execute(t, "validate", contractsDir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status   string           `json:"status"`
		Data     ValidationResult `json:"data"`
		Warnings []string         `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Files)
	assert.Equal(t, 2, resp.Data.Contracts)
	assert.Greater(t, resp.Data.Operations, 20)
	require.Len(t, resp.Data.Cycles, 1)
	assert.Equal(t, "warning", resp.Data.Cycles[0].Level)
	assert.Len(t, resp.Warnings, 1)
}

func TestValidateDefaultsToConfiguredDirectory(t *testing.T) {
	t.Setenv("REPOQL_CONTRACTS", contractsDir)

	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All contracts valid")
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, _, err := execute(t, "validate", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, _, err := execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, out, "no CUE files found")
}

func TestValidateSyntaxError(t *testing.T) {
	dir := writeFile(t, "contracts.cue", "package broken\n\nentity: Team: {\n")

	_, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateDeclarationError(t *testing.T) {
	dir := writeFile(t, "contracts.cue", "package broken\n"+teamEntity+`
repository: PlayerRepository: {
	entity: "Player"
	methods: findByName: params: [{name: "string"}]
}
`)

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, `E101: repository.PlayerRepository.entity: unknown entity "Player"`)
}

func TestValidateRegistrationErrorsJSON(t *testing.T) {
	dir := writeFile(t, "contracts.cue", "package broken\n"+teamEntity+`
repository: TeamRepository: {
	entity: "Team"
	methods: frobnicate: {}
}

repository: TeamQueries: {
	entity: "Team"
	methods: findBroken: query: "select t from Team t where"
}
`)

	out, _, err := execute(t, "validate", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 error(s)")

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 2)

	// Sorted by repository name
	assert.Equal(t, "repository.TeamQueries", resp.Data.Errors[0].Field)
	assert.Equal(t, "INVALID_QUERY", resp.Data.Errors[0].Code)
	assert.Equal(t, "repository.TeamRepository", resp.Data.Errors[1].Field)
	assert.Equal(t, "NO_STRATEGY_APPLICABLE", resp.Data.Errors[1].Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_QUERY", resp.Error.Code)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"cue", ErrCodeBuildFailed},
		{"entity", ErrCodeInvalidEntity},
		{"id", ErrCodeInvalidEntity},
		{"fields", ErrCodeInvalidEntity},
		{"type", ErrCodeInvalidType},
		{"projection", ErrCodeInvalidProjection},
		{"projection.team", ErrCodeInvalidProjection},
		{"query", ErrCodeInvalidNamedQuery},
		{"repository", ErrCodeInvalidRepository},
		{"repository.entity", ErrCodeInvalidRepository},
		{"methods", ErrCodeInvalidRepository},
		{"unknown", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}
