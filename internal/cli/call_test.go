package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/page"
	"github.com/roach88/repoql/internal/store"
	"github.com/roach88/repoql/internal/testutil"
)

// seededDatabase creates a SQLite database file holding team teamA and
// five members: member1 (10, teamA), member2 (20, teamA), member3,
// member4 and member5 (10, no team). The store is closed before the path
// is returned.
func seededDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repoql.db")
	st, err := store.Open(store.Config{Driver: ir.DialectSQLite, DSN: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if err := st.ApplySchema(context.Background(), testutil.SchemaSQL()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	team := testutil.SeedTeam(t, st, "teamA")
	testutil.SeedMember(t, st, "member1", 10, team)
	testutil.SeedMember(t, st, "member2", 20, team)
	testutil.SeedMember(t, st, "member3", 10, nil)
	testutil.SeedMember(t, st, "member4", 10, nil)
	testutil.SeedMember(t, st, "member5", 10, nil)
	return path
}

type callResponse struct {
	Status string     `json:"status"`
	Data   CallOutput `json:"data"`
	Error  *CLIError  `json:"error"`
}

// callJSON runs the call command against dsn and decodes its JSON output.
func callJSON(t *testing.T, dsn string, args ...string) (callResponse, error) {
	t.Helper()
	args = append([]string{"call", contractsDir}, args...)
	args = append(args, "--dsn", dsn, "--format", "json")
	out, _, err := execute(t, args...)

	var resp callResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp, err
}

func usernames(t *testing.T, items []any) []string {
	t.Helper()
	names := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("item has type %T", item)
		}
		names = append(names, m["username"].(string))
	}
	return names
}

func TestCallDerivedFinder(t *testing.T) {
	dsn := seededDatabase(t)

	resp, err := callJSON(t, dsn, "MemberRepository.findByUsernameAndAgeGreaterThan", "member2", "15")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "MemberRepository.findByUsernameAndAgeGreaterThan", resp.Data.Op)
	require.Len(t, resp.Data.Items, 1)

	item := resp.Data.Items[0].(map[string]any)
	assert.Equal(t, "member2", item["username"])
	assert.Equal(t, float64(20), item["age"])
	assert.Equal(t, map[string]any{"id": float64(1)}, item["team"], "deferred relation renders its id")
	assert.Nil(t, resp.Data.Page)
	assert.Nil(t, resp.Data.Affected)
}

func TestCallEntityGraph(t *testing.T) {
	dsn := seededDatabase(t)

	resp, err := callJSON(t, dsn, "MemberRepository.findAll")
	require.NoError(t, err)
	require.Len(t, resp.Data.Items, 5)

	first := resp.Data.Items[0].(map[string]any)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "teamA"}, first["team"])
}

func TestCallPage(t *testing.T) {
	dsn := seededDatabase(t)

	tests := []struct {
		name       string
		args       []string
		wantItems  []string
		totalPages int
		hasNext    bool
	}{
		{
			name:       "first page sorted",
			args:       []string{"--size", "2", "--sort", "username,desc"},
			wantItems:  []string{"member5", "member4"},
			totalPages: 2,
			hasNext:    true,
		},
		{
			name:       "last page with known total",
			args:       []string{"--page", "1", "--size", "2", "--sort", "username", "--total", "4"},
			wantItems:  []string{"member4", "member5"},
			totalPages: 2,
			hasNext:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"MemberRepository.findByAge", "10"}, tt.args...)
			resp, err := callJSON(t, dsn, args...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantItems, usernames(t, resp.Data.Items))
			require.NotNil(t, resp.Data.Page)
			assert.True(t, resp.Data.Page.Total.Valid)
			assert.Equal(t, int64(4), resp.Data.Page.Total.Int64)
			assert.Equal(t, tt.totalPages, resp.Data.Page.TotalPages)
			assert.Equal(t, tt.hasNext, resp.Data.Page.HasNext)
		})
	}
}

func TestCallPageText(t *testing.T) {
	dsn := seededDatabase(t)

	out, _, err := execute(t, "call", contractsDir, "MemberRepository.findByAge", "10",
		"--size", "3", "--sort", "username", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, `"username":"member1"`)
	assert.Contains(t, out, "page 0 of 2 (4 total, size 3)\n")
}

func TestCallShape(t *testing.T) {
	dsn := seededDatabase(t)

	resp, err := callJSON(t, dsn, "MemberRepository.findShapeByUsername", "member1", "--shape", "UsernameOnly")
	require.NoError(t, err)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, map[string]any{"username": "member1"}, resp.Data.Items[0])

	_, err = callJSON(t, dsn, "MemberRepository.findShapeByUsername", "member1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `parameter "type" needs --shape`)
}

func TestCallCollectionArgument(t *testing.T) {
	dsn := seededDatabase(t)

	resp, err := callJSON(t, dsn, "MemberRepository.findByNames", "member1,member3")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"member1", "member3"}, usernames(t, resp.Data.Items))
}

func TestCallBulk(t *testing.T) {
	dsn := seededDatabase(t)

	resp, err := callJSON(t, dsn, "MemberRepository.bulkAgePlus", "10")
	require.NoError(t, err)
	require.NotNil(t, resp.Data.Affected)
	assert.Equal(t, int64(5), *resp.Data.Affected)

	resp, err = callJSON(t, dsn, "MemberRepository.countByAgeGreaterThan", "20")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1)}, resp.Data.Items)

	out, _, err := execute(t, "call", contractsDir, "MemberRepository.bulkAgePlus", "100", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "0 row(s) affected\n")
}

func TestCallSingleResult(t *testing.T) {
	dsn := seededDatabase(t)

	resp, err := callJSON(t, dsn, "MemberRepository.findMemberByUsername", "member9")
	require.NoError(t, err)
	assert.Empty(t, resp.Data.Items, "no match is an empty result")

	// A second member1 makes the single-result method ambiguous.
	st, err := store.Open(store.Config{Driver: ir.DialectSQLite, DSN: dsn})
	require.NoError(t, err)
	testutil.SeedMember(t, st, "member1", 30, nil)
	require.NoError(t, st.Close())

	resp, err = callJSON(t, dsn, "MemberRepository.findMemberByUsername", "member1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NON_UNIQUE_RESULT", resp.Error.Code)
}

func TestCallArgumentErrors(t *testing.T) {
	dsn := seededDatabase(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing argument", []string{"MemberRepository.findByUsername"}, `missing argument for parameter "username"`},
		{"extra argument", []string{"MemberRepository.findByUsername", "member1", "member2"}, "expected 1 argument(s), got 2"},
		{"bad int", []string{"MemberRepository.countByAgeGreaterThan", "ten"}, `parameter "age"`},
		{"bad page size", []string{"MemberRepository.findByAge", "10", "--size", "0"}, `invalid size "0"`},
		{"bad sort", []string{"MemberRepository.findByAge", "10", "--sort", "username,sideways"}, "invalid direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := callJSON(t, dsn, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeUsage, resp.Error.Code)
		})
	}
}

func TestCallWithSchemaFile(t *testing.T) {
	// A fresh in-memory database gets the schema from --schema.
	resp, err := callJSON(t, ":memory:", "MemberRepository.findByUsername", "member1",
		"--schema", filepath.Join(contractsDir, "schema.sql"))
	require.NoError(t, err)
	assert.Empty(t, resp.Data.Items)

	_, err = callJSON(t, ":memory:", "MemberRepository.findByUsername", "member1", "--schema", "/nonexistent/schema.sql")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCallStoreFailure(t *testing.T) {
	// Without a schema the table does not exist.
	resp, err := callJSON(t, ":memory:", "MemberRepository.findByUsername", "member1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "STORE_FAILURE", resp.Error.Code)
}

func TestCallUnreachableDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing", "dir")
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	resp, err := callJSON(t, filepath.Join(dir, "repoql.db"), "MemberRepository.findByUsername", "member1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "STORE_FAILURE", resp.Error.Code)
}

func TestCallArguments(t *testing.T) {
	op := ir.Operation{
		ID: ir.OperationID{Contract: "MemberRepository", Method: "findByAge"},
		Params: []ir.Param{
			{Name: "age", Position: 0, Type: ir.TypeInt},
			{Name: "page", Position: 1, Type: ir.TypePageable},
			{Name: "team", Position: 2, Type: ir.TypeString},
		},
	}
	req := page.Of(1, 5)

	args, err := callArguments(op, []string{"10", "null"}, req, "")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), req, nil}, args)

	_, err = callArguments(op, []string{"null"}, req, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing argument for parameter "team"`)
}

func TestPageRequestFromFlags(t *testing.T) {
	opts := &CallOptions{Total: -1}
	req, err := opts.pageRequest()
	require.NoError(t, err)
	assert.Equal(t, 0, req.Index)
	assert.Equal(t, page.DefaultSize, req.Size)
	assert.False(t, req.Total.Valid)

	opts = &CallOptions{Page: "2", Size: "5", Sort: []string{"age,desc", "username"}, Total: 12}
	req, err = opts.pageRequest()
	require.NoError(t, err)
	assert.Equal(t, 2, req.Index)
	assert.Equal(t, 5, req.Size)
	assert.Equal(t, []page.Order{page.By("age", page.Desc), page.By("username", page.Asc)}, req.Sort)
	assert.Equal(t, int64(12), req.Total.Int64)
}
