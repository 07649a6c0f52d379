package tracking

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/repoql/internal/ir"
	"github.com/roach88/repoql/internal/projection"
	"github.com/roach88/repoql/internal/queryir"
	"github.com/roach88/repoql/internal/querysql"
	"github.com/roach88/repoql/internal/store"
)

// Store is the part of the store the session needs.
type Store interface {
	store.Querier
	InTx(ctx context.Context, fn func(store.Querier) error) error
	Rebind(query string) string
	Dialect() ir.Dialect
}

// Option configures a Session.
type Option func(*Session)

// WithAuditor sets the auditor. The default is RandomAuditor.
func WithAuditor(a Auditor) Option {
	return func(s *Session) { s.auditor = a }
}

// WithClock sets the time source of audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is an identity map of tracked records. It is safe for
// concurrent use.
type Session struct {
	st        Store
	schema    *ir.Schema
	compiler  *querysql.Compiler
	projector *projection.Projector
	auditor   Auditor
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

type entry struct {
	record   *projection.Entity
	readOnly bool
	snapshot map[string]any // field and foreign key values at attach or flush
	forced   bool           // write every field on the next flush
}

// New creates an empty session over a store.
func New(st Store, schema *ir.Schema, opts ...Option) *Session {
	s := &Session{
		st:        st,
		schema:    schema,
		compiler:  querysql.NewCompiler(schema, st.Dialect()),
		projector: projection.NewProjector(schema),
		auditor:   RandomAuditor,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(entity string, id any) string {
	return fmt.Sprintf("%s#%v", entity, id)
}

// Attach tracks a record and returns the tracked instance. When a record
// with the same identity is already tracked, the tracked instance wins and
// e is discarded. Records without an identifier are returned untracked.
func (s *Session) Attach(e *projection.Entity, readOnly bool) *projection.Entity {
	if e == nil || e.ID() == nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachLocked(e, readOnly)
}

func (s *Session) attachLocked(e *projection.Entity, readOnly bool) *projection.Entity {
	k := key(e.Type(), e.ID())
	if existing, ok := s.entries[k]; ok {
		return existing.record
	}
	en := &entry{record: e, readOnly: readOnly}
	if !readOnly {
		en.snapshot = capture(e)
	}
	s.entries[k] = en
	s.order = append(s.order, k)
	return e
}

// Tracked returns the tracked record of an identity.
func (s *Session) Tracked(entity string, id any) (*projection.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	en, ok := s.entries[key(entity, id)]
	if !ok {
		return nil, false
	}
	return en.record, true
}

// Len returns the number of tracked records.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Invalidate stops tracking one record. Pending changes to it are lost.
func (s *Session) Invalidate(entity string, id any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(entity, id)
	if _, ok := s.entries[k]; !ok {
		return
	}
	delete(s.entries, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Clear stops tracking every record. Pending changes are lost.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.order = nil
}

// Find returns the tracked record of an identity, loading and attaching it
// when it is not tracked. It returns nil when no such record exists.
func (s *Session) Find(ctx context.Context, entity string, id any) (*projection.Entity, error) {
	if e, ok := s.Tracked(entity, id); ok {
		return e, nil
	}
	stmt, err := s.compiler.Compile(queryir.Select{
		Entity: entity,
		Filter: queryir.Compare{Path: queryir.Path{Field: s.idField(entity)}, Op: queryir.OpEquals, Param: 0},
	})
	if err != nil {
		return nil, err
	}
	records, err := s.load(ctx, stmt, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Load implements projection.Loader.
func (s *Session) Load(ctx context.Context, entity string, id any) (*projection.Entity, error) {
	return s.Find(ctx, entity, id)
}

// LoadBy implements projection.Loader.
func (s *Session) LoadBy(ctx context.Context, entity, column string, value any) ([]*projection.Entity, error) {
	stmt, err := s.compiler.CompileLookup(entity, column)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, stmt, value)
}

func (s *Session) idField(entity string) string {
	meta, ok := s.schema.Entity(entity)
	if !ok {
		return ""
	}
	return meta.ID
}

func (s *Session) load(ctx context.Context, stmt *querysql.Statement, arg any) ([]*projection.Entity, error) {
	rs, err := s.st.Query(ctx, store.Request{SQL: s.st.Rebind(stmt.SQL), Args: []any{arg}, Op: "tracking.load"})
	if err != nil {
		return nil, err
	}
	items, err := s.projector.Project(ctx, stmt, rs, projection.EntityTarget{}, s)
	if err != nil {
		return nil, err
	}
	out := make([]*projection.Entity, 0, len(items))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		out = append(out, s.attachLocked(it.(*projection.Entity), false))
	}
	return out, nil
}

// Save stores a record. A record without an identifier is inserted at
// once and attached with its generated identifier. A record with one is
// attached and written on the next Flush.
func (s *Session) Save(ctx context.Context, e *projection.Entity) (*projection.Entity, error) {
	if e.ID() != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		k := key(e.Type(), e.ID())
		if en, ok := s.entries[k]; ok {
			if en.record != e {
				return nil, fmt.Errorf("save %s %v: another instance is already tracked", e.Type(), e.ID())
			}
			return e, nil
		}
		s.entries[k] = &entry{record: e, snapshot: capture(e), forced: true}
		s.order = append(s.order, k)
		return e, nil
	}

	meta := e.Meta()
	s.stampCreated(ctx, e)
	cols, arg := columns(meta, e, true)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ":" + c.param
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		meta.Table, joinColumns(cols), strings.Join(names, ", "), meta.IDField().Column)
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", meta.Name, err)
	}
	rs, err := s.st.Query(ctx, store.Request{SQL: s.st.Rebind(bound), Args: args, Op: "tracking.save"})
	if err != nil {
		return nil, err
	}
	if rs.Len() != 1 {
		return nil, fmt.Errorf("save %s: expected one generated identifier, got %d rows", meta.Name, rs.Len())
	}
	if err := e.Set(meta.ID, rs.Rows[0][0]); err != nil {
		return nil, err
	}
	return s.Attach(e, false), nil
}

// Remove deletes a record from the store and stops tracking it.
func (s *Session) Remove(ctx context.Context, e *projection.Entity) error {
	meta := e.Meta()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", meta.Table, meta.IDField().Column)
	if _, err := s.st.Exec(ctx, store.Request{SQL: s.st.Rebind(query), Args: []any{e.ID()}, Op: "tracking.remove"}); err != nil {
		return err
	}
	s.Invalidate(e.Type(), e.ID())
	return nil
}

// Flush writes every changed tracked record in one transaction. Snapshots
// are refreshed only when the transaction commits.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type pending struct {
		en    *entry
		query string
	}
	var writes []pending
	for _, k := range s.order {
		en := s.entries[k]
		if en.readOnly {
			continue
		}
		changed := dirty(en)
		if len(changed) == 0 && !en.forced {
			continue
		}
		s.stampModified(ctx, en.record)
		meta := en.record.Meta()
		cols, _ := columns(meta, en.record, false)
		if !en.forced {
			changed = dirty(en)
			cols = only(cols, changed)
		}
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c.column + " = :" + c.param
		}
		writes = append(writes, pending{
			en: en,
			query: fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s",
				meta.Table, strings.Join(sets, ", "), meta.IDField().Column, meta.ID),
		})
	}
	if len(writes) == 0 {
		return nil
	}

	err := s.st.InTx(ctx, func(q store.Querier) error {
		for _, w := range writes {
			_, arg := columns(w.en.record.Meta(), w.en.record, false)
			arg[w.en.record.Meta().ID] = w.en.record.ID()
			bound, args, err := sqlx.Named(w.query, arg)
			if err != nil {
				return fmt.Errorf("flush %s: %w", w.en.record.Type(), err)
			}
			if _, err := q.Exec(ctx, store.Request{SQL: s.st.Rebind(bound), Args: args, Op: "tracking.flush"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, w := range writes {
		w.en.snapshot = capture(w.en.record)
		w.en.forced = false
	}
	return nil
}

func (s *Session) stampCreated(ctx context.Context, e *projection.Entity) {
	a := e.Meta().Audit
	if a == nil {
		return
	}
	now, who := s.now(), s.auditor.Current(ctx)
	setIf(e, a.CreatedAt, now)
	setIf(e, a.UpdatedAt, now)
	setIf(e, a.CreatedBy, who)
	setIf(e, a.UpdatedBy, who)
}

func (s *Session) stampModified(ctx context.Context, e *projection.Entity) {
	a := e.Meta().Audit
	if a == nil {
		return
	}
	setIf(e, a.UpdatedAt, s.now())
	setIf(e, a.UpdatedBy, s.auditor.Current(ctx))
}

func setIf(e *projection.Entity, field string, v any) {
	if field != "" {
		_ = e.Set(field, v)
	}
}

// column is one written column and its named parameter.
type column struct {
	key    string // snapshot key
	column string
	param  string
}

func fkKey(rel string) string {
	return "fk_" + rel
}

// columns lists the writable columns of a record: every field except the
// identifier, then the foreign key of every selected single-valued
// relation. The map holds the named parameter values.
func columns(meta *ir.Entity, e *projection.Entity, insert bool) ([]column, map[string]any) {
	var cols []column
	arg := make(map[string]any)
	for _, f := range meta.Fields {
		if f.Name == meta.ID {
			continue
		}
		if insert && !e.Has(f.Name) {
			continue
		}
		cols = append(cols, column{key: f.Name, column: f.Column, param: f.Name})
		arg[f.Name] = e.Get(f.Name)
	}
	for _, rel := range meta.Relations {
		if rel.Kind != ir.RelationOne || !e.RefSet(rel.Name) {
			continue
		}
		k := fkKey(rel.Name)
		cols = append(cols, column{key: k, column: rel.Column, param: k})
		arg[k] = e.Ref(rel.Name).ID()
	}
	return cols, arg
}

func joinColumns(cols []column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.column
	}
	return strings.Join(names, ", ")
}

func only(cols []column, keys []string) []column {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []column
	for _, c := range cols {
		if want[c.key] {
			out = append(out, c)
		}
	}
	return out
}

// capture records the field values and foreign keys of a record.
func capture(e *projection.Entity) map[string]any {
	snap := e.Values()
	for _, rel := range e.Meta().Relations {
		if rel.Kind == ir.RelationOne && e.RefSet(rel.Name) {
			snap[fkKey(rel.Name)] = e.Ref(rel.Name).ID()
		}
	}
	return snap
}

// dirty returns the snapshot keys whose values changed, sorted.
func dirty(en *entry) []string {
	now := capture(en.record)
	var changed []string
	for k, v := range now {
		if old, ok := en.snapshot[k]; !ok || !equal(old, v) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func equal(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA && okB {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
