package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
)

func schemaOf(t *testing.T, entities ...ir.Entity) *ir.Schema {
	t.Helper()
	s := ir.NewSchema()
	for _, e := range entities {
		if e.ID == "" {
			e.ID = "id"
			e.Fields = append([]ir.Field{{Name: "id", Type: ir.TypeInt}}, e.Fields...)
		}
		require.NoError(t, s.AddEntity(e))
	}
	return s
}

func rel(name, target string) ir.Relation {
	return ir.Relation{Name: name, Target: target, Kind: ir.RelationOne, Column: name + "_id"}
}

func TestAnalyzeCycles(t *testing.T) {
	tests := []struct {
		name     string
		entities []ir.Entity
		want     []CycleWarning
	}{
		{
			name: "no relations",
			entities: []ir.Entity{
				{Name: "Member"},
			},
			want: []CycleWarning{},
		},
		{
			name: "one direction only",
			entities: []ir.Entity{
				{Name: "Team"},
				{Name: "Member", Relations: []ir.Relation{rel("team", "Team")}},
			},
			want: []CycleWarning{},
		},
		{
			name: "bidirectional",
			entities: []ir.Entity{
				{Name: "Team", Relations: []ir.Relation{{Name: "members", Target: "Member", Kind: ir.RelationMany, Column: "team_id"}}},
				{Name: "Member", Relations: []ir.Relation{rel("team", "Team")}},
			},
			want: []CycleWarning{{
				Path:    []string{"Team.members", "Member.team"},
				Message: "Relation cycle: Team.members → Member.team → Team",
				Level:   "warning",
			}},
		},
		{
			name: "self reference",
			entities: []ir.Entity{
				{Name: "Category", Relations: []ir.Relation{rel("parent", "Category")}},
			},
			want: []CycleWarning{{
				Path:    []string{"Category.parent"},
				Message: "Self-referencing relation: Category.parent",
				Level:   "warning",
			}},
		},
		{
			name: "three entities",
			entities: []ir.Entity{
				{Name: "Order", Relations: []ir.Relation{rel("customer", "Customer")}},
				{Name: "Customer", Relations: []ir.Relation{rel("account", "Account")}},
				{Name: "Account", Relations: []ir.Relation{rel("lastOrder", "Order")}},
			},
			want: []CycleWarning{{
				Path:    []string{"Order.customer", "Customer.account", "Account.lastOrder"},
				Message: "Relation cycle: Order.customer → Customer.account → Account.lastOrder → Order",
				Level:   "warning",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnalyzeCycles(schemaOf(t, tt.entities...)))
		})
	}
}

func TestAnalyzeCyclesSeparateComponents(t *testing.T) {
	s := schemaOf(t,
		ir.Entity{Name: "Node", Relations: []ir.Relation{rel("next", "Node")}},
		ir.Entity{Name: "Team", Relations: []ir.Relation{{Name: "members", Target: "Member", Kind: ir.RelationMany, Column: "team_id"}}},
		ir.Entity{Name: "Member", Relations: []ir.Relation{rel("team", "Team")}},
	)

	warnings := AnalyzeCycles(s)
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{"Node.next"}, warnings[0].Path)
	assert.Equal(t, []string{"Team.members", "Member.team"}, warnings[1].Path)
}
