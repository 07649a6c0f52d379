package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/metrics"
	"github.com/roach88/repoql/internal/page"
	"github.com/roach88/repoql/internal/projection"
	"github.com/roach88/repoql/internal/store"
	"github.com/roach88/repoql/internal/testutil"
)

func bulkAgePlus(mod ir.Modifying) ir.Operation {
	o := op("bulkAgePlus", ir.ReturnSingle, "age", ir.TypeInt)
	o.Query = "update Member m set m.age = m.age + 1 where m.age >= :age"
	o.Modifying = &mod
	return o
}

func TestBulk_AddsOneToAge(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 19, 20, 21, 40)
	repo := f.register(t, bulkAgePlus(ir.Modifying{Clear: true}))

	res, err := repo.Call(context.Background(), "bulkAgePlus", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Affected)
	n, _, err := One[int64](res)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, float64(1), f.statements(metrics.KindBulk))
}

func TestBulk_ClearKeepsReadsFresh(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 19, 20, 21, 40)
	repo := f.register(t,
		bulkAgePlus(ir.Modifying{Clear: true}),
		op("findMemberByUsername", ir.ReturnSingle, "username", ir.TypeString),
	)
	ctx := context.Background()

	res, err := repo.Call(ctx, "findMemberByUsername", "member5")
	require.NoError(t, err)
	before, _, err := One[*projection.Entity](res)
	require.NoError(t, err)
	assert.Equal(t, int64(40), before.Int("age"))

	_, err = repo.Call(ctx, "bulkAgePlus", 20)
	require.NoError(t, err)
	assert.Equal(t, 0, f.ws.Len())

	res, err = repo.Call(ctx, "findMemberByUsername", "member5")
	require.NoError(t, err)
	after, _, err := One[*projection.Entity](res)
	require.NoError(t, err)
	assert.Equal(t, int64(41), after.Int("age"))
	assert.NotSame(t, before, after)
}

func TestBulk_WithoutClearReadsStaleTrackedCopy(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 40)
	repo := f.register(t,
		bulkAgePlus(ir.Modifying{}),
		op("findMemberByUsername", ir.ReturnSingle, "username", ir.TypeString),
	)
	ctx := context.Background()

	res, err := repo.Call(ctx, "findMemberByUsername", "member1")
	require.NoError(t, err)
	before, _, _ := One[*projection.Entity](res)

	_, err = repo.Call(ctx, "bulkAgePlus", 20)
	require.NoError(t, err)

	// The documented hazard: the tracked instance wins over the fresh row.
	res, err = repo.Call(ctx, "findMemberByUsername", "member1")
	require.NoError(t, err)
	after, _, _ := One[*projection.Entity](res)
	assert.Same(t, before, after)
	assert.Equal(t, int64(40), after.Int("age"))
}

func TestBulk_FlushWritesPendingChangesFirst(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10)
	repo := f.register(t,
		bulkAgePlus(ir.Modifying{Flush: true, Clear: true}),
		op("findMemberByUsername", ir.ReturnSingle, "username", ir.TypeString),
	)
	ctx := context.Background()

	res, err := repo.Call(ctx, "findMemberByUsername", "member1")
	require.NoError(t, err)
	m, _, _ := One[*projection.Entity](res)
	require.NoError(t, m.Set("age", 50))

	res, err = repo.Call(ctx, "bulkAgePlus", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	res, err = repo.Call(ctx, "findMemberByUsername", "member1")
	require.NoError(t, err)
	m, _, _ = One[*projection.Entity](res)
	assert.Equal(t, int64(51), m.Int("age"))
	assert.Equal(t, "tester", m.String("lastModifiedBy"))
}

func TestCall_LockAndReadOnlyHints(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10)
	o := op("findMemberByUsername", ir.ReturnSingle, "username", ir.TypeString)
	o.Lock = ir.LockPessimisticWrite
	o.Hints.ReadOnly = true
	repo := f.register(t, o)
	ctx := context.Background()

	x, err := repo.Explain("findMemberByUsername")
	require.NoError(t, err)
	assert.Equal(t, ir.LockPessimisticWrite, x.Content.Lock)
	assert.NotContains(t, x.Content.SQL, "FOR UPDATE", "sqlite has no row locks")

	res, err := repo.Call(ctx, "findMemberByUsername", "member1")
	require.NoError(t, err)
	m, _, err := One[*projection.Entity](res)
	require.NoError(t, err)
	require.NoError(t, m.Set("age", 50))
	require.NoError(t, f.ws.Flush(ctx))

	rs, err := f.store.Query(ctx, store.Request{SQL: "SELECT age FROM member WHERE username = ?", Args: []any{"member1"}})
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.EqualValues(t, 10, rs.Rows[0][0])
}

func TestBulk_DerivedDeleteInvalidatesRemovedRecords(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 20)
	repo := f.register(t,
		op("deleteByUsername", ir.ReturnSingle, "username", ir.TypeString),
		op("findByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt),
	)
	ctx := context.Background()

	_, err := repo.Call(ctx, "findByAgeGreaterThan", 0)
	require.NoError(t, err)
	require.Equal(t, 2, f.ws.Len())

	res, err := repo.Call(ctx, "deleteByUsername", "member1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, 1, f.ws.Len())

	res, err = repo.Call(ctx, "findByAgeGreaterThan", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"member2"}, usernames(t, res.Items))
}

func TestProjection_ClosedRoundTrip(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 20)
	closed := op("findProjectionsByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt)
	closed.Projection = "UsernameOnly"
	repo := f.register(t, closed, op("findByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt))
	ctx := context.Background()

	res, err := repo.Call(ctx, "findProjectionsByAgeGreaterThan", 0)
	require.NoError(t, err)
	views, err := List[*projection.View](res)
	require.NoError(t, err)

	res, err = repo.Call(ctx, "findByAgeGreaterThan", 0)
	require.NoError(t, err)
	full := entities(t, res.Items)

	require.Len(t, views, len(full))
	for i, v := range views {
		assert.Equal(t, []string{"username"}, v.Keys())
		assert.Equal(t, full[i].Get("username"), v.Get("username"))
	}

	x, err := repo.Explain("findProjectionsByAgeGreaterThan")
	require.NoError(t, err)
	assert.NotContains(t, x.Content.SQL, "t0.age AS")
	assert.Contains(t, x.Content.SQL, `t0.username AS "username"`)
}

func TestProjection_NestedSecondaryFetchVersusJoin(t *testing.T) {
	st := testutil.OpenStore(t)
	teamA := testutil.SeedTeam(t, st, "teamA")
	teamB := testutil.SeedTeam(t, st, "teamB")
	testutil.SeedMember(t, st, "member1", 10, teamA)
	testutil.SeedMember(t, st, "member2", 20, teamA)
	testutil.SeedMember(t, st, "member3", 30, teamB)

	lazy := op("findNestedByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt)
	lazy.Projection = "NestedClosedProjections"
	eager := op("findJoinedByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt)
	eager.Projection = "NestedClosedProjections"
	eager.Fetch = &ir.FetchSpec{Strategy: ir.FetchJoin, Paths: []string{"team"}}

	for _, tt := range []struct {
		name    string
		op      ir.Operation
		fetches float64
	}{
		{"one fetch per distinct team", lazy, 2},
		{"fetch join", eager, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWith(t, st, testutil.MemberSchema())
			repo := f.register(t, tt.op)

			res, err := repo.Call(context.Background(), tt.op.ID.Method, 0)
			require.NoError(t, err)
			views, err := List[*projection.View](res)
			require.NoError(t, err)
			require.Len(t, views, 3)

			var teams []string
			for _, v := range views {
				teams = append(teams, v.Nested("team").String("name"))
			}
			assert.Equal(t, []string{"teamA", "teamA", "teamB"}, teams)
			assert.Equal(t, tt.fetches, f.secondaryFetches("Team"))
		})
	}
}

func TestFetch_EntityGraphLoadsRelationInOneStatement(t *testing.T) {
	st := testutil.OpenStore(t)
	team := testutil.SeedTeam(t, st, "teamA")
	testutil.SeedMember(t, st, "member1", 10, team)
	testutil.SeedMember(t, st, "member2", 20, team)

	graph := op("findAll", ir.ReturnList)
	graph.Fetch = &ir.FetchSpec{Strategy: ir.FetchGraph, Graph: "Member.all"}
	lazy := op("findByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt)

	t.Run("graph", func(t *testing.T) {
		f := newFixtureWith(t, st, testutil.MemberSchema())
		repo := f.register(t, graph)
		res, err := repo.Call(context.Background(), "findAll")
		require.NoError(t, err)
		for _, m := range entities(t, res.Items) {
			require.True(t, m.Ref("team").Loaded())
			tm, err := m.Ref("team").Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "teamA", tm.String("name"))
		}
		assert.Equal(t, float64(0), f.secondaryFetches("Team"))
		assert.Equal(t, float64(1), f.statements(metrics.KindContent))
	})

	t.Run("deferred", func(t *testing.T) {
		f := newFixtureWith(t, st, testutil.MemberSchema())
		repo := f.register(t, lazy)
		res, err := repo.Call(context.Background(), "findByAgeGreaterThan", 0)
		require.NoError(t, err)
		for _, m := range entities(t, res.Items) {
			assert.False(t, m.Ref("team").Loaded())
			tm, err := m.Ref("team").Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "teamA", tm.String("name"))
		}
		// Both members share one deferred handle per team.
		assert.Equal(t, float64(1), f.secondaryFetches("Team"))
	})
}

func TestFetch_CollectionJoinFoldsRows(t *testing.T) {
	f := newFixture(t)
	team := testutil.SeedTeam(t, f.store, "teamA")
	testutil.SeedMember(t, f.store, "member1", 10, team)
	testutil.SeedMember(t, f.store, "member2", 20, team)

	o := op("findTeams", ir.ReturnList)
	o.Query = "select t from Team t join fetch t.members"
	repo, err := f.engine.Register(ir.Contract{Name: "TeamRepository", Entity: "Team", Operations: []ir.Operation{o}})
	require.NoError(t, err)

	res, err := repo.Call(context.Background(), "findTeams")
	require.NoError(t, err)
	teams := entities(t, res.Items)
	require.Len(t, teams, 1)
	members, err := teams[0].Collection("members").Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

// seedTeams inserts teamA, teamB and teamC with three members each.
func seedTeams(t *testing.T, f *fixture) {
	t.Helper()
	for _, name := range []string{"teamA", "teamB", "teamC"} {
		team := testutil.SeedTeam(t, f.store, name)
		for i := 1; i <= 3; i++ {
			testutil.SeedMember(t, f.store, fmt.Sprintf("%s-member%d", name, i), 10*i, team)
		}
	}
}

func teamNames(t *testing.T, items []any) []string {
	t.Helper()
	var out []string
	for _, team := range entities(t, items) {
		members, err := team.Collection("members").Get(context.Background())
		require.NoError(t, err)
		assert.Len(t, members, 3, team.String("name"))
		out = append(out, team.String("name"))
	}
	return out
}

func TestFetch_CollectionJoinWindowsRootRecords(t *testing.T) {
	f := newFixture(t)
	seedTeams(t, f)

	paged := op("findTeams", ir.ReturnPage, "page", ir.TypePageable)
	paged.Query = "select t from Team t join fetch t.members"
	sliced := op("findTeamSlice", ir.ReturnSlice, "page", ir.TypePageable)
	sliced.Query = "select t from Team t join fetch t.members"
	top := op("findTop2ByOrderByNameDesc", ir.ReturnList)
	top.Fetch = &ir.FetchSpec{Strategy: ir.FetchJoin, Paths: []string{"members"}}
	repo, err := f.engine.Register(ir.Contract{
		Name:       "TeamRepository",
		Entity:     "Team",
		Operations: []ir.Operation{paged, sliced, top},
	})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name    string
		method  string
		req     page.Request
		want    []string
		hasNext bool
	}{
		{name: "first page", method: "findTeams", req: page.Of(0, 2), want: []string{"teamA", "teamB"}, hasNext: true},
		{name: "last page", method: "findTeams", req: page.Of(1, 2), want: []string{"teamC"}},
		{name: "past the end", method: "findTeams", req: page.Of(5, 2)},
		{name: "slice", method: "findTeamSlice", req: page.Of(0, 2), want: []string{"teamA", "teamB"}, hasNext: true},
		{name: "last slice", method: "findTeamSlice", req: page.Of(1, 2), want: []string{"teamC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.Call(ctx, tt.method, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, teamNames(t, res.Page.Content))
			assert.Equal(t, tt.hasNext, res.Page.HasNext())
			if !res.Page.IsSlice() {
				assert.Equal(t, int64(3), res.Page.Total.Int64)
				assert.Equal(t, 2, res.Page.TotalPages())
			}
		})
	}

	t.Run("top", func(t *testing.T) {
		res, err := repo.Call(ctx, "findTop2ByOrderByNameDesc")
		require.NoError(t, err)
		assert.Equal(t, []string{"teamC", "teamB"}, teamNames(t, res.Items))

		x, err := repo.Explain("findTop2ByOrderByNameDesc")
		require.NoError(t, err)
		assert.NotContains(t, x.Content.SQL, "LIMIT")
	})
}

func TestDerived_DistinctTopDeduplicatesBeforeTruncation(t *testing.T) {
	f := newFixture(t)
	for _, m := range []struct {
		username string
		age      int
	}{{"AAA", 10}, {"AAA", 20}, {"BBB", 30}, {"CCC", 40}} {
		testutil.SeedMember(t, f.store, m.username, m.age, nil)
	}
	distinct := op("findDistinctTop2ByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt)
	distinct.Projection = "UsernameOnly"
	plain := op("findTop2ByAgeGreaterThan", ir.ReturnList, "age", ir.TypeInt)
	plain.Projection = "UsernameOnly"
	repo := f.register(t, distinct, plain)

	tests := []struct {
		method string
		want   []string
	}{
		{"findDistinctTop2ByAgeGreaterThan", []string{"AAA", "BBB"}},
		{"findTop2ByAgeGreaterThan", []string{"AAA", "AAA"}},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			res, err := repo.Call(context.Background(), tt.method, 0)
			require.NoError(t, err)
			views, err := List[*projection.View](res)
			require.NoError(t, err)
			var got []string
			for _, v := range views {
				got = append(got, v.String("username"))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProjection_DynamicShape(t *testing.T) {
	f := newFixture(t)
	team := testutil.SeedTeam(t, f.store, "teamA")
	testutil.SeedMember(t, f.store, "member1", 10, team)
	o := op("findByUsername", ir.ReturnList, "username", ir.TypeString, "type", ir.TypeShape)
	o.Shapes = []string{"UsernameOnly", "NestedClosedProjections"}
	repo := f.register(t, o)
	ctx := context.Background()

	res, err := repo.Call(ctx, "findByUsername", "member1", Shape("UsernameOnly"))
	require.NoError(t, err)
	v, _, err := One[*projection.View](res)
	require.NoError(t, err)
	assert.Equal(t, "member1", v.String("username"))

	res, err = repo.Call(ctx, "findByUsername", "member1", "NestedClosedProjections")
	require.NoError(t, err)
	v, _, err = One[*projection.View](res)
	require.NoError(t, err)
	assert.Equal(t, "teamA", v.Nested("team").String("name"))

	res, err = repo.Call(ctx, "findByUsername", "member1", Shape("Member"))
	require.NoError(t, err)
	_, _, err = One[*projection.Entity](res)
	require.NoError(t, err)

	_, err = repo.Call(ctx, "findByUsername", "member1", Shape("Unknown"))
	require.Error(t, err)
	assert.True(t, IsExecutionError(err, ErrInvalidArgument))
}

type memberDto struct {
	ID       int64
	Username string
	TeamName string
}

func TestProjection_ConstructorExpression(t *testing.T) {
	ctors := projection.NewConstructors()
	require.NoError(t, ctors.Register("MemberDto", func(id int64, username, teamName string) memberDto {
		return memberDto{ID: id, Username: username, TeamName: teamName}
	}))
	f := newFixture(t, WithConstructors(ctors))
	team := testutil.SeedTeam(t, f.store, "teamA")
	id := testutil.SeedMember(t, f.store, "member1", 10, team)

	o := op("findMemberDto", ir.ReturnList)
	o.Query = "select new repoql.dto.MemberDto(m.id, m.username, t.name) from Member m join m.team t"
	repo := f.register(t, o)

	res, err := repo.Call(context.Background(), "findMemberDto")
	require.NoError(t, err)
	dtos, err := List[memberDto](res)
	require.NoError(t, err)
	assert.Equal(t, []memberDto{{ID: id, Username: "member1", TeamName: "teamA"}}, dtos)
}

func TestProjection_ConstructorMismatchFailsRegistration(t *testing.T) {
	ctors := projection.NewConstructors()
	require.NoError(t, ctors.Register("MemberDto", func(username string, id int64) memberDto {
		return memberDto{ID: id, Username: username}
	}))
	f := newFixture(t, WithConstructors(ctors))

	o := op("findMemberDto", ir.ReturnList)
	o.Query = "select new MemberDto(m.id, m.username, t.name) from Member m join m.team t"
	_, err := f.engine.Register(memberContract(o))
	require.Error(t, err)
	assert.True(t, IsProjectionError(err, projection.ErrConstructorMismatch))
}

func TestExplicit_ScalarAndTupleResults(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 20)
	names := op("findUsernameList", ir.ReturnList)
	names.Query = "select m.username from Member m"
	pairs := op("findUsernameAndAge", ir.ReturnList)
	pairs.Query = "select m.username, m.age from Member m order by m.age desc"
	repo := f.register(t, names, pairs)
	ctx := context.Background()

	res, err := repo.Call(ctx, "findUsernameList")
	require.NoError(t, err)
	got, err := List[string](res)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"member1", "member2"}, got)

	res, err = repo.Call(ctx, "findUsernameAndAge")
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, []any{"member2", int64(20)}, res.Items[0])
}

func TestNative_ProjectsEntitiesFromRawColumns(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 20)
	o := op("findByNativeQuery", ir.ReturnList, "username", ir.TypeString)
	o.Query = "SELECT member_id, username, age, team_id FROM member WHERE username = ?"
	o.Native = true
	repo := f.register(t, o)

	res, err := repo.Call(context.Background(), "findByNativeQuery", "member2")
	require.NoError(t, err)
	got := entities(t, res.Items)
	require.Len(t, got, 1)
	assert.Equal(t, int64(20), got[0].Int("age"))
}

func TestNative_UnmappableSelectFailsFirstCall(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10)
	o := op("findNativeNames", ir.ReturnList)
	o.Query = "SELECT username FROM member"
	o.Native = true
	repo := f.register(t, o)

	_, err := repo.Call(context.Background(), "findNativeNames")
	require.Error(t, err)
	assert.True(t, IsProjectionError(err, projection.ErrUnmappableField))
}

func TestNative_Paging(t *testing.T) {
	f := newFixture(t)
	seedAges(t, f.store, 10, 20, 30)
	o := op("findNativePage", ir.ReturnPage, "page", ir.TypePageable)
	o.Query = "SELECT member_id, username, age, team_id FROM member ORDER BY member_id"
	o.CountQuery = "SELECT count(*) FROM member"
	o.Native = true
	repo := f.register(t, o)
	ctx := context.Background()

	res, err := repo.Call(ctx, "findNativePage", page.Of(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"member3"}, usernames(t, res.Page.Content))
	assert.Equal(t, int64(3), res.Page.Total.Int64)

	_, err = repo.Call(ctx, "findNativePage", page.Of(0, 2, page.By("username", page.Asc)))
	require.Error(t, err)
	assert.True(t, IsExecutionError(err, ErrInvalidArgument))
}

func TestExplain(t *testing.T) {
	f := newFixture(t)
	paged := op("findByAge", ir.ReturnPage, "age", ir.TypeInt, "page", ir.TypePageable)
	repo := f.register(t, paged, bulkAgePlus(ir.Modifying{Clear: true}))

	x, err := repo.Explain("findByAge")
	require.NoError(t, err)
	assert.Equal(t, StrategyDerived, x.Strategy)
	assert.Contains(t, x.Content.SQL, "WHERE t0.age = ? ORDER BY t0.member_id ASC")
	assert.Equal(t, `SELECT COUNT(*) AS "count" FROM member t0 WHERE t0.age = ?`, x.Count.SQL)
	assert.Contains(t, x.Deferred["team"], "FROM team t0 WHERE t0.team_id = ?")
	assert.Equal(t, "entity", x.Shapes[""])

	x, err = repo.Explain("bulkAgePlus")
	require.NoError(t, err)
	assert.Equal(t, StrategyExplicit, x.Strategy)
	assert.True(t, x.Bulk.Clear)
	assert.Contains(t, x.Content.SQL, "UPDATE member SET")
}
