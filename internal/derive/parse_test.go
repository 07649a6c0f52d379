package derive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/queryir"
	"github.com/roach88/repoql/internal/testutil"
)

func field(name string) queryir.Path {
	return queryir.Path{Field: name}
}

func TestParse_UsernameAndAgeGreaterThan(t *testing.T) {
	tree, err := Parse(testutil.MemberSchema(), "Member", "findByUsernameAndAgeGreaterThan", 2)
	require.NoError(t, err)

	assert.Equal(t, KindFind, tree.Subject.Kind)
	require.Len(t, tree.Clauses, 2)
	assert.Equal(t, Clause{Path: field("username"), Op: queryir.OpEquals, Param: 0}, tree.Clauses[0])
	assert.Equal(t, Clause{Connector: ConnAnd, Path: field("age"), Op: queryir.OpGreaterThan, Param: 1}, tree.Clauses[1])

	assert.Equal(t, queryir.And{Predicates: []queryir.Predicate{
		queryir.Compare{Path: field("username"), Op: queryir.OpEquals, Param: 0},
		queryir.Compare{Path: field("age"), Op: queryir.OpGreaterThan, Param: 1},
	}}, tree.Predicate())
}

func TestParse_TopWithoutPredicate(t *testing.T) {
	tree, err := Parse(testutil.MemberSchema(), "Member", "findTop3HelloBy", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, tree.Subject.Limit)
	assert.Empty(t, tree.Clauses)
	assert.Nil(t, tree.Predicate())

	sel, ok := tree.Query("Member").(queryir.Select)
	require.True(t, ok)
	assert.Equal(t, 3, sel.Limit)
	assert.Nil(t, sel.Filter)
}

func TestParse_Subjects(t *testing.T) {
	tests := []struct {
		method   string
		params   int
		kind     Kind
		distinct bool
		limit    int
	}{
		{"findFirstByAge", 1, KindFind, false, 1},
		{"findFirst10ByAge", 1, KindFind, false, 10},
		{"findDistinctByUsername", 1, KindFind, true, 0},
		{"readByAge", 1, KindFind, false, 0},
		{"getByAge", 1, KindFind, false, 0},
		{"queryByAge", 1, KindFind, false, 0},
		{"searchByAge", 1, KindFind, false, 0},
		{"streamByAge", 1, KindFind, false, 0},
		{"countByAge", 1, KindCount, false, 0},
		{"existsByUsername", 1, KindExists, false, 1},
		{"deleteByAge", 1, KindDelete, false, 0},
		{"removeByAge", 1, KindDelete, false, 0},
		{"findAll", 0, KindFind, false, 0},
		{"count", 0, KindCount, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			tree, err := Parse(testutil.MemberSchema(), "Member", tt.method, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, tree.Subject.Kind)
			assert.Equal(t, tt.distinct, tree.Subject.Distinct)
			assert.Equal(t, tt.limit, tree.Subject.Limit)
		})
	}
}

func TestParse_Operators(t *testing.T) {
	tests := []struct {
		method     string
		params     int
		op         queryir.Operator
		ignoreCase bool
	}{
		{"findByAge", 1, queryir.OpEquals, false},
		{"findByAgeIs", 1, queryir.OpEquals, false},
		{"findByAgeEquals", 1, queryir.OpEquals, false},
		{"findByAgeNot", 1, queryir.OpNotEquals, false},
		{"findByAgeGreaterThan", 1, queryir.OpGreaterThan, false},
		{"findByAgeGreaterThanEqual", 1, queryir.OpGreaterThanEqual, false},
		{"findByAgeLessThan", 1, queryir.OpLessThan, false},
		{"findByAgeIsLessThanEqual", 1, queryir.OpLessThanEqual, false},
		{"findByAgeBetween", 2, queryir.OpBetween, false},
		{"findByCreatedDateAfter", 1, queryir.OpGreaterThan, false},
		{"findByCreatedDateBefore", 1, queryir.OpLessThan, false},
		{"findByUsernameLike", 1, queryir.OpLike, false},
		{"findByUsernameNotLike", 1, queryir.OpNotLike, false},
		{"findByUsernameStartingWith", 1, queryir.OpStartingWith, false},
		{"findByUsernameEndsWith", 1, queryir.OpEndingWith, false},
		{"findByUsernameContaining", 1, queryir.OpContaining, false},
		{"findByUsernameNotContaining", 1, queryir.OpNotContaining, false},
		{"findByUsernameIn", 1, queryir.OpIn, false},
		{"findByUsernameNotIn", 1, queryir.OpNotIn, false},
		{"findByUsernameIsNull", 0, queryir.OpIsNull, false},
		{"findByUsernameIsNotNull", 0, queryir.OpIsNotNull, false},
		{"findByUsernameNotNull", 0, queryir.OpIsNotNull, false},
		{"findByUsernameIgnoreCase", 1, queryir.OpEquals, true},
		{"findByUsernameContainingIgnoringCase", 1, queryir.OpContaining, true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			tree, err := Parse(testutil.MemberSchema(), "Member", tt.method, tt.params)
			require.NoError(t, err)
			require.Len(t, tree.Clauses, 1)
			assert.Equal(t, tt.op, tree.Clauses[0].Op)
			assert.Equal(t, tt.ignoreCase, tree.Clauses[0].IgnoreCase)
		})
	}
}

func TestParse_RelationPaths(t *testing.T) {
	schema := testutil.MemberSchema()

	tree, err := Parse(schema, "Member", "findByTeamName", 1)
	require.NoError(t, err)
	assert.Equal(t, queryir.Path{Relation: "team", Field: "name"}, tree.Clauses[0].Path)

	tree, err = Parse(schema, "Member", "findByTeam_Name", 1)
	require.NoError(t, err)
	assert.Equal(t, queryir.Path{Relation: "team", Field: "name"}, tree.Clauses[0].Path)

	tree, err = Parse(schema, "Member", "findByTeam", 1)
	require.NoError(t, err)
	assert.Equal(t, queryir.Path{Relation: "team", Field: "id"}, tree.Clauses[0].Path)

	// Collections cannot be traversed by derivation.
	_, err = Parse(schema, "Team", "findByMembersUsername", 1)
	assert.True(t, HasCode(err, ErrUnknownField))
}

func TestParse_ConnectorsFoldLeftToRight(t *testing.T) {
	tree, err := Parse(testutil.MemberSchema(), "Member", "findByUsernameAndAgeOrAgeLessThan", 3)
	require.NoError(t, err)

	assert.Equal(t, queryir.Or{Predicates: []queryir.Predicate{
		queryir.And{Predicates: []queryir.Predicate{
			queryir.Compare{Path: field("username"), Op: queryir.OpEquals, Param: 0},
			queryir.Compare{Path: field("age"), Op: queryir.OpEquals, Param: 1},
		}},
		queryir.Compare{Path: field("age"), Op: queryir.OpLessThan, Param: 2},
	}}, tree.Predicate())
}

func TestParse_BetweenConsumesTwoSlots(t *testing.T) {
	tree, err := Parse(testutil.MemberSchema(), "Member", "findByAgeBetweenAndUsername", 3)
	require.NoError(t, err)

	assert.Equal(t, 0, tree.Clauses[0].Param)
	assert.Equal(t, 2, tree.Clauses[1].Param)
	assert.Equal(t, 3, tree.Slots())
}

func TestParse_OrderBy(t *testing.T) {
	tree, err := Parse(testutil.MemberSchema(), "Member", "findByAgeOrderByUsernameDescIdAsc", 1)
	require.NoError(t, err)

	assert.Equal(t, []queryir.Order{
		{Path: field("username"), Desc: true},
		{Path: field("id")},
	}, tree.OrderBy)

	tree, err = Parse(testutil.MemberSchema(), "Member", "findAllByOrderByAge", 0)
	require.NoError(t, err)
	assert.Empty(t, tree.Clauses)
	assert.Equal(t, []queryir.Order{{Path: field("age")}}, tree.OrderBy)
}

func TestParse_AllIgnoreCase(t *testing.T) {
	tree, err := Parse(testutil.MemberSchema(), "Member", "findByUsernameAndAgeAllIgnoreCase", 2)
	require.NoError(t, err)

	assert.True(t, tree.Clauses[0].IgnoreCase)
	assert.False(t, tree.Clauses[1].IgnoreCase, "non-string properties are compared as-is")
}

func TestParse_QueryKinds(t *testing.T) {
	schema := testutil.MemberSchema()

	tree, err := Parse(schema, "Member", "countByAgeGreaterThan", 1)
	require.NoError(t, err)
	assert.IsType(t, queryir.Count{}, tree.Query("Member"))

	tree, err = Parse(schema, "Member", "existsByUsername", 1)
	require.NoError(t, err)
	count, ok := tree.Query("Member").(queryir.Count)
	require.True(t, ok)
	assert.True(t, count.Exists)

	tree, err = Parse(schema, "Member", "deleteByAgeLessThan", 1)
	require.NoError(t, err)
	assert.IsType(t, queryir.Delete{}, tree.Query("Member"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		method string
		params int
		code   ErrorCode
		token  string
	}{
		{"findByUsernam", 1, ErrUnknownField, "Usernam"},
		{"findByUsernameAndNickname", 2, ErrUnknownField, "Nickname"},
		{"findByUsernameFrobnicate", 1, ErrUnrecognizedOperator, "Frobnicate"},
		{"findByAgeGreaterThanX", 1, ErrUnrecognizedOperator, "GreaterThanX"},
		{"findByAgeContaining", 1, ErrUnrecognizedOperator, "AgeContaining"},
		{"findByAgeIgnoreCase", 1, ErrUnrecognizedOperator, "Age"},
		{"findByUsernameOrderBy", 1, ErrUnknownField, ""},
		{"findByAgeOrderByNickname", 1, ErrUnknownField, "Nickname"},
		{"countTop3ByAge", 1, ErrUnrecognizedOperator, "Top3"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := Parse(testutil.MemberSchema(), "Member", tt.method, tt.params)
			require.Error(t, err)
			derr, ok := IsError(err)
			require.True(t, ok, "expected *Error, got %T", err)
			assert.Equal(t, tt.code, derr.Code)
			assert.Equal(t, tt.token, derr.Token)
		})
	}
}

func TestParse_ArityMustMatch(t *testing.T) {
	schema := testutil.MemberSchema()

	for _, params := range []int{0, 1, 3} {
		_, err := Parse(schema, "Member", "findByUsernameAndAgeGreaterThan", params)
		require.Error(t, err)
		derr, ok := IsError(err)
		require.True(t, ok)
		assert.Equal(t, ErrParameterCountMismatch, derr.Code)
		assert.Equal(t, 2, derr.Expected)
		assert.Equal(t, params, derr.Actual)
	}

	_, err := Parse(schema, "Member", "findByUsernameIsNull", 0)
	assert.NoError(t, err)
	_, err = Parse(schema, "Member", "findByAgeBetween", 1)
	assert.True(t, HasCode(err, ErrParameterCountMismatch))
}

func TestParse_NotDerivable(t *testing.T) {
	for _, method := range []string{"findMemberCustom", "lookupByAge", "finder", "update"} {
		_, err := Parse(testutil.MemberSchema(), "Member", method, 0)
		assert.True(t, errors.Is(err, ErrNotDerivable), method)
	}
}

func TestParse_UnknownEntity(t *testing.T) {
	_, err := Parse(ir.NewSchema(), "Ghost", "findByName", 1)
	assert.True(t, HasCode(err, ErrUnknownField))
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"Team", "Name"}, splitWords("TeamName"))
	assert.Equal(t, []string{"User", "ID", "Name"}, splitWords("UserIDName"))
	assert.Equal(t, []string{"Age2", "Max"}, splitWords("Age2Max"))
	assert.Equal(t, []string{"Username"}, splitWords("Username"))
}
