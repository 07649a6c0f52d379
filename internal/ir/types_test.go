package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationID_String(t *testing.T) {
	id := OperationID{Contract: "MemberRepository", Method: "findByUsername"}
	assert.Equal(t, "MemberRepository.findByUsername", id.String())
}

func TestOperation_NamedQueryKey(t *testing.T) {
	op := Operation{ID: OperationID{Contract: "MemberRepository", Method: "findByUsername"}, Entity: "Member"}
	assert.Equal(t, "Member.findByUsername", op.NamedQueryKey())

	op.NamedQuery = "Member.byName"
	assert.Equal(t, "Member.byName", op.NamedQueryKey())
}

func TestOperation_ValueParams(t *testing.T) {
	op := Operation{
		Params: []Param{
			{Name: "age", Position: 0, Type: TypeInt},
			{Name: "pageable", Position: 1, Type: TypePageable},
			{Name: "type", Position: 2, Type: TypeShape},
		},
	}
	params := op.ValueParams()
	require.Len(t, params, 1)
	assert.Equal(t, "age", params[0].Name)
}

func TestOperation_Validate(t *testing.T) {
	base := func() Operation {
		return Operation{
			ID:      OperationID{Contract: "MemberRepository", Method: "findByAge"},
			Entity:  "Member",
			Returns: ReturnList,
			Params:  []Param{{Name: "age", Position: 0, Type: TypeInt}},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(op *Operation)
		wantErr string
	}{
		{name: "valid", mutate: func(op *Operation) {}},
		{name: "missing method", mutate: func(op *Operation) { op.ID.Method = "" }, wantErr: "no method name"},
		{name: "bad return", mutate: func(op *Operation) { op.Returns = "stream" }, wantErr: "invalid return kind"},
		{name: "bad lock", mutate: func(op *Operation) { op.Lock = "exclusive" }, wantErr: "invalid lock mode"},
		{name: "position gap", mutate: func(op *Operation) { op.Params[0].Position = 3 }, wantErr: "declared at position 3"},
		{name: "page without pageable", mutate: func(op *Operation) { op.Returns = ReturnPage }, wantErr: "requires a pageable parameter"},
		{
			name: "pageable without page",
			mutate: func(op *Operation) {
				op.Params = append(op.Params, Param{Name: "p", Position: 1, Type: TypePageable})
			},
			wantErr: "requires a page or slice return",
		},
		{name: "shapes without selector", mutate: func(op *Operation) { op.Shapes = []string{"UsernameOnly"} }, wantErr: "require a shape parameter"},
		{name: "negative limit", mutate: func(op *Operation) { op.Limit = -1 }, wantErr: "negative limit"},
		{
			name: "duplicate param",
			mutate: func(op *Operation) {
				op.Params = append(op.Params, Param{Name: "age", Position: 1, Type: TypeInt})
			},
			wantErr: "duplicate parameter",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			op := base()
			tc.mutate(&op)
			err := op.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSchema_AddEntityDefaults(t *testing.T) {
	s := NewSchema()
	err := s.AddEntity(Entity{
		Name: "OrderLine",
		ID:   "id",
		Fields: []Field{
			{Name: "id", Type: TypeInt},
			{Name: "unitPrice", Type: TypeFloat},
			{Name: "sku"},
		},
		Relations: []Relation{{Name: "order", Target: "OrderLine", Column: "order_id"}},
	})
	require.NoError(t, err)

	e, ok := s.Entity("OrderLine")
	require.True(t, ok)
	assert.Equal(t, "order_line", e.Table)

	f, ok := e.Field("unitPrice")
	require.True(t, ok)
	assert.Equal(t, "unit_price", f.Column)

	sku, _ := e.Field("sku")
	assert.Equal(t, TypeString, sku.Type)

	rel, ok := e.Relation("order")
	require.True(t, ok)
	assert.Equal(t, RelationOne, rel.Kind)

	byCol, ok := e.FieldByColumn("UNIT_PRICE")
	require.True(t, ok)
	assert.Equal(t, "unitPrice", byCol.Name)
}

func TestSchema_AddEntityErrors(t *testing.T) {
	testCases := []struct {
		name    string
		entity  Entity
		wantErr string
	}{
		{name: "no name", entity: Entity{}, wantErr: "no name"},
		{name: "missing id", entity: Entity{Name: "A", ID: "id", Fields: []Field{{Name: "x"}}}, wantErr: "id field"},
		{name: "duplicate field", entity: Entity{Name: "A", ID: "x", Fields: []Field{{Name: "x"}, {Name: "x"}}}, wantErr: "duplicate field"},
		{name: "non scalar field", entity: Entity{Name: "A", ID: "x", Fields: []Field{{Name: "x", Type: TypeCollection}}}, wantErr: "non-scalar"},
		{
			name:    "relation without column",
			entity:  Entity{Name: "A", ID: "x", Fields: []Field{{Name: "x"}}, Relations: []Relation{{Name: "b", Target: "B"}}},
			wantErr: "no join column",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewSchema().AddEntity(tc.entity)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSchema_Validate(t *testing.T) {
	s := NewSchema()
	require.NoError(t, s.AddEntity(Entity{
		Name:      "Member",
		ID:        "id",
		Fields:    []Field{{Name: "id", Type: TypeInt}},
		Relations: []Relation{{Name: "team", Target: "Team", Column: "team_id"}},
	}))
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity \"Team\"")

	require.NoError(t, s.AddEntity(Entity{Name: "Team", ID: "id", Fields: []Field{{Name: "id", Type: TypeInt}}}))
	assert.NoError(t, s.Validate())
}

func TestParamType_Accepts(t *testing.T) {
	assert.True(t, TypeString.Accepts("a"))
	assert.True(t, TypeInt.Accepts(10))
	assert.True(t, TypeInt.Accepts(int64(10)))
	assert.False(t, TypeInt.Accepts("10"))
	assert.True(t, TypeCollection.Accepts([]string{"AAA", "BBB"}))
	assert.False(t, TypeCollection.Accepts([]byte("AAA")))
	assert.True(t, TypeBool.Accepts(nil))
	assert.False(t, TypeCollection.Accepts(nil))
}

func TestParamType_ParseLiteral(t *testing.T) {
	v, err := TypeInt.ParseLiteral("15")
	require.NoError(t, err)
	assert.Equal(t, int64(15), v)

	v, err = TypeCollection.ParseLiteral("AAA, BBB,")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, v)

	_, err = TypeInt.ParseLiteral("x")
	assert.Error(t, err)

	_, err = TypeShape.ParseLiteral("UsernameOnly")
	assert.Error(t, err)
}
