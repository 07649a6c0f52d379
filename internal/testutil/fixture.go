package testutil

import (
	"context"
	_ "embed"
	"path/filepath"
	"testing"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/store"
)

//go:embed testdata/schema.sql
var schemaSQL string

// SchemaSQL returns the DDL of the member/team fixture.
func SchemaSQL() string {
	return schemaSQL
}

// MemberSchema builds the mapping of the member/team fixture:
//
//	Team(id, name) 1 ── * Member(id, username, age, team, audit columns)
//
// It registers the "Member.all" entity graph and the UsernameOnly,
// NestedClosedProjections and MemberProjection shapes.
func MemberSchema() *ir.Schema {
	s := ir.NewSchema()
	must(s.AddEntity(ir.Entity{
		Name: "Team",
		ID:   "id",
		Fields: []ir.Field{
			{Name: "id", Column: "team_id", Type: ir.TypeInt},
			{Name: "name", Type: ir.TypeString},
		},
		Relations: []ir.Relation{
			{Name: "members", Target: "Member", Kind: ir.RelationMany, Column: "team_id"},
		},
	}))
	must(s.AddEntity(ir.Entity{
		Name: "Member",
		ID:   "id",
		Fields: []ir.Field{
			{Name: "id", Column: "member_id", Type: ir.TypeInt},
			{Name: "username", Type: ir.TypeString},
			{Name: "age", Type: ir.TypeInt},
			{Name: "createdDate", Type: ir.TypeTime},
			{Name: "lastModifiedDate", Type: ir.TypeTime},
			{Name: "createdBy", Type: ir.TypeString},
			{Name: "lastModifiedBy", Type: ir.TypeString},
		},
		Relations: []ir.Relation{
			{Name: "team", Target: "Team", Kind: ir.RelationOne, Column: "team_id"},
		},
		Graphs: map[string][]string{"Member.all": {"team"}},
		Audit: &ir.AuditColumns{
			CreatedAt: "createdDate",
			UpdatedAt: "lastModifiedDate",
			CreatedBy: "createdBy",
			UpdatedBy: "lastModifiedBy",
		},
	}))
	must(s.AddProjection(ir.Projection{
		Name:      "UsernameOnly",
		Accessors: []ir.Accessor{{Name: "username"}},
	}))
	must(s.AddProjection(ir.Projection{
		Name: "NestedClosedProjections",
		Accessors: []ir.Accessor{
			{Name: "username"},
			{Name: "team", Nested: []string{"name"}},
		},
	}))
	must(s.AddProjection(ir.Projection{
		Name:      "MemberProjection",
		Accessors: []ir.Accessor{{Name: "id"}, {Name: "username"}, {Name: "teamName"}},
	}))
	must(s.Validate())
	return s
}

// OpenStore opens a file-backed SQLite store in a temporary directory with
// the fixture schema applied. The store is closed when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repoql.db")
	st, err := store.Open(store.Config{Driver: ir.DialectSQLite, DSN: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.ApplySchema(context.Background(), schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return st
}

// SeedTeam inserts a team and returns its id.
func SeedTeam(t testing.TB, st *store.Store, name string) int64 {
	t.Helper()
	return insert(t, st, "INSERT INTO team (name) VALUES (?) RETURNING team_id", name)
}

// SeedMember inserts a member and returns its id. teamID may be nil.
func SeedMember(t testing.TB, st *store.Store, username string, age int, teamID any) int64 {
	t.Helper()
	return insert(t, st,
		"INSERT INTO member (username, age, team_id) VALUES (?, ?, ?) RETURNING member_id",
		username, age, teamID)
}

func insert(t testing.TB, st *store.Store, query string, args ...any) int64 {
	t.Helper()
	rs, err := st.Query(context.Background(), store.Request{SQL: st.Rebind(query), Args: args})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if rs.Len() != 1 {
		t.Fatalf("seed: expected one returned id, got %d rows", rs.Len())
	}
	id, ok := rs.Rows[0][0].(int64)
	if !ok {
		t.Fatalf("seed: returned id has type %T", rs.Rows[0][0])
	}
	return id
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
