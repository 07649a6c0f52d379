package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../../testdata/scenarios"

// TestDemoScenarios runs every scenario shipped in testdata/scenarios.
// These scenarios serve as:
// 1. End-to-end validation of the repository engine
// 2. Reference examples of the scenario format
// 3. Regression test fixtures
func TestDemoScenarios(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed: %v", result.Errors)
		})
	}
}

func TestDemoScenarioTraceOrder(t *testing.T) {
	scenario, err := LoadScenario(scenariosDir + "/member_paging.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	// First page: call, content, count, outcome. Content runs before count.
	var types []string
	for _, event := range result.Trace[:4] {
		types = append(types, event.Type)
	}
	assert.Equal(t, []string{EventCall, EventQuery, EventQuery, EventOutcome}, types)
	assert.Contains(t, result.Trace[1].SQL, "LIMIT 3")
	assert.Contains(t, result.Trace[2].SQL, "SELECT COUNT(*)")

	// Second page carries its total: no count statement.
	assert.Equal(t, EventCall, result.Trace[4].Type)
	assert.Equal(t, EventQuery, result.Trace[5].Type)
	assert.Contains(t, result.Trace[5].SQL, "OFFSET 3")
	assert.Equal(t, EventOutcome, result.Trace[6].Type)
}

func TestDemoScenarioOutcomes(t *testing.T) {
	scenario, err := LoadScenario(scenariosDir + "/member_projections.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	outcomes := map[string]string{}
	for _, event := range result.Trace {
		if event.Type == EventOutcome {
			outcomes[event.Op] = event.Outcome
		}
	}
	assert.Equal(t, map[string]string{
		"MemberRepository.findNestedByUsername":      "ok",
		"MemberRepository.findProjectionsByUsername": "ok",
		"MemberRepository.findShapeByUsername":       "ok",
		"MemberRepository.findMemberByUsername":      "NON_UNIQUE_RESULT",
		"MemberRepository.findByNames":               "ok",
	}, outcomes)
}
