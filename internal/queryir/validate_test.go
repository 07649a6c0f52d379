package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
)

func testSchema(t *testing.T) *ir.Schema {
	t.Helper()
	s := ir.NewSchema()
	require.NoError(t, s.AddEntity(ir.Entity{
		Name:   "Team",
		ID:     "id",
		Fields: []ir.Field{{Name: "id", Type: ir.TypeInt}, {Name: "name"}},
		Relations: []ir.Relation{
			{Name: "members", Target: "Member", Kind: ir.RelationMany, Column: "team_id"},
		},
	}))
	require.NoError(t, s.AddEntity(ir.Entity{
		Name: "Member",
		ID:   "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt},
			{Name: "username"},
			{Name: "age", Type: ir.TypeInt},
			{Name: "active", Type: ir.TypeBool},
		},
		Relations: []ir.Relation{{Name: "team", Target: "Team", Column: "team_id"}},
	}))
	require.NoError(t, s.Validate())
	return s
}

func TestValidate_ValidSelect(t *testing.T) {
	res := Validate(Select{
		Entity: "Member",
		Filter: And{Predicates: []Predicate{
			Compare{Path: Path{Field: "username"}, Op: OpContaining},
			Compare{Path: Path{Relation: "team", Field: "name"}, Op: OpEquals, Param: 1, IgnoreCase: true},
			Compare{Path: Path{Field: "active"}, Op: OpTrue},
		}},
		Sort:  []Order{{Path: Path{Field: "age"}, Desc: true}},
		Fetch: []string{"team"},
	}, testSchema(t))

	assert.True(t, res.Valid(), res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{"nil query", nil, "nil query"},
		{"unknown entity", Select{Entity: "Ghost"}, `unknown entity "Ghost"`},
		{"unknown field", Count{Entity: "Member", Filter: Compare{Path: Path{Field: "nickname"}}}, `no field "nickname"`},
		{"unknown relation", Select{Entity: "Member", Sort: []Order{{Path: Path{Relation: "club", Field: "name"}}}}, `no relation "club"`},
		{"collection path", Select{Entity: "Team", Filter: Compare{Path: Path{Relation: "members", Field: "username"}}}, "crosses collection"},
		{"textual on int", Select{Entity: "Member", Filter: Compare{Path: Path{Field: "age"}, Op: OpLike}}, "needs a string field"},
		{"true on string", Delete{Entity: "Member", Filter: Compare{Path: Path{Field: "username"}, Op: OpTrue}}, "needs a bool field"},
		{"ignore case on int", Select{Entity: "Member", Filter: Compare{Path: Path{Field: "age"}, IgnoreCase: true}}, "ignore-case"},
		{"negative window", Select{Entity: "Member", Limit: -1}, "negative row window"},
		{"unknown fetch", Select{Entity: "Member", Fetch: []string{"club"}}, `no relation "club" to fetch`},
		{"duplicate fetch", Select{Entity: "Member", Fetch: []string{"team", "team"}}, "fetched twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.query, testSchema(t))
			require.False(t, res.Valid())
			assert.Contains(t, res.Errors[0], tt.want)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	res := Validate(Select{Entity: "Team", Fetch: []string{"members"}, Limit: 10}, testSchema(t))
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "collection is fetched")

	res = Validate(&Select{Entity: "Member", Distinct: true, Lock: ir.LockPessimisticWrite}, testSchema(t))
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "requests lock")
}
