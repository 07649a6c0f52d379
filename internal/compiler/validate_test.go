package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
)

func memberBundle(t *testing.T, ops ...ir.Operation) *Bundle {
	t.Helper()
	s := ir.NewSchema()
	require.NoError(t, s.AddEntity(ir.Entity{
		Name:   "Team",
		ID:     "id",
		Fields: []ir.Field{{Name: "id", Type: ir.TypeInt}, {Name: "name", Type: ir.TypeString}},
	}))
	require.NoError(t, s.AddEntity(ir.Entity{
		Name: "Member",
		ID:   "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt},
			{Name: "username", Type: ir.TypeString},
		},
		Relations: []ir.Relation{{Name: "team", Target: "Team", Kind: ir.RelationOne, Column: "team_id"}},
		Graphs:    map[string][]string{"Member.all": {"team"}},
	}))
	require.NoError(t, s.AddNamedQuery(ir.NamedQuery{Name: "Member.byName", Query: "select m from Member m"}))

	for i := range ops {
		ops[i].ID.Contract = "MemberRepository"
		if ops[i].Entity == "" {
			ops[i].Entity = "Member"
		}
		if ops[i].Returns == "" {
			ops[i].Returns = ir.ReturnList
		}
	}
	return &Bundle{
		Schema:    s,
		Contracts: []ir.Contract{{Name: "MemberRepository", Entity: "Member", Operations: ops}},
	}
}

func method(name string) ir.Operation {
	return ir.Operation{ID: ir.OperationID{Method: name}}
}

func TestValidateValidBundle(t *testing.T) {
	b := memberBundle(t, method("findByUsername"), method("findAll"))
	assert.Empty(t, Validate(b))
}

func TestValidateNoContracts(t *testing.T) {
	b := memberBundle(t)
	b.Contracts = nil

	errs := Validate(b)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrNoContracts, errs[0].Code)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		op    func() ir.Operation
		code  string
		field string
	}{
		{
			name: "unknown named query",
			op: func() ir.Operation {
				op := method("findByName")
				op.NamedQuery = "Member.missing"
				return op
			},
			code:  ErrUnknownNamedQuery,
			field: "repository.MemberRepository.methods.findByName.named_query",
		},
		{
			name: "native without query",
			op: func() ir.Operation {
				op := method("findNative")
				op.Native = true
				return op
			},
			code:  ErrNativeWithoutQuery,
			field: "repository.MemberRepository.methods.findNative.native",
		},
		{
			name: "count query on a list",
			op: func() ir.Operation {
				op := method("findCounted")
				op.Query = "select m from Member m"
				op.CountQuery = "select count(m) from Member m"
				return op
			},
			code:  ErrCountWithoutPage,
			field: "repository.MemberRepository.methods.findCounted.count_query",
		},
		{
			name: "unknown graph",
			op: func() ir.Operation {
				op := method("findAll")
				op.Fetch = &ir.FetchSpec{Strategy: ir.FetchGraph, Graph: "Member.none"}
				return op
			},
			code:  ErrUnknownGraph,
			field: "repository.MemberRepository.methods.findAll.fetch",
		},
		{
			name: "page without pageable",
			op: func() ir.Operation {
				op := method("findByUsername")
				op.Returns = ir.ReturnPage
				return op
			},
			code:  ErrInvalidOperation,
			field: "repository.MemberRepository.methods.findByUsername",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(memberBundle(t, tt.op()))
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateDuplicates(t *testing.T) {
	b := memberBundle(t, method("findAll"), method("findAll"))
	b.Contracts = append(b.Contracts, b.Contracts[0])

	errs := Validate(b)
	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []string{ErrDuplicateMethod, ErrDuplicateContract, ErrDuplicateMethod}, codes)
}

func TestValidateUnknownEntity(t *testing.T) {
	b := memberBundle(t, method("findAll"))
	b.Contracts[0].Entity = "Order"

	errs := Validate(b)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownEntity, errs[0].Code)
	assert.Contains(t, errs[0].Error(), `unknown entity "Order"`)
}

func TestValidateProjectionAccessors(t *testing.T) {
	first := method("findBrokenByUsername")
	first.Projection = "Broken"
	second := method("findBrokenAll")
	second.Projection = "Broken"
	b := memberBundle(t, first, second)
	require.NoError(t, b.Schema.AddProjection(ir.Projection{
		Name: "Broken",
		Accessors: []ir.Accessor{
			{Name: "username"},
			{Name: "owner", Nested: []string{"name"}},
			{Name: "team", Nested: []string{"name", "budget"}},
		},
	}))

	errs := Validate(b)
	require.Len(t, errs, 2, "a shape shared by two methods is reported once")
	assert.Equal(t, ErrUnknownAccessor, errs[0].Code)
	assert.Contains(t, errs[0].Message, `"owner" is not a relation`)
	assert.Contains(t, errs[1].Message, `"team.budget" is not a field of "Team"`)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "repository.R", Message: "boom", Code: ErrDuplicateContract}
	assert.Equal(t, "[E102] repository.R: boom", err.Error())

	err.Line = 7
	assert.Equal(t, "[E102] line 7: repository.R: boom", err.Error())
}
