package ir

import "fmt"

// OperationID identifies an operation by its owning contract and method name.
type OperationID struct {
	Contract string `json:"contract"`
	Method   string `json:"method"`
}

// String returns the "Contract.method" form used in logs and errors.
func (id OperationID) String() string {
	return id.Contract + "." + id.Method
}

// ReturnKind is the declared return shape of an operation.
type ReturnKind string

const (
	ReturnList     ReturnKind = "list"
	ReturnSingle   ReturnKind = "single"
	ReturnOptional ReturnKind = "optional"
	ReturnPage     ReturnKind = "page"
	ReturnSlice    ReturnKind = "slice"
)

// ValidReturnKinds defines allowed return kinds.
var ValidReturnKinds = map[ReturnKind]bool{
	ReturnList:     true,
	ReturnSingle:   true,
	ReturnOptional: true,
	ReturnPage:     true,
	ReturnSlice:    true,
}

// Paged reports whether the return kind takes a page request.
func (k ReturnKind) Paged() bool {
	return k == ReturnPage || k == ReturnSlice
}

// LockMode is the lock intent of a query. The compiler renders it as a
// locking clause where the dialect has one.
type LockMode string

const (
	LockNone             LockMode = ""
	LockPessimisticRead  LockMode = "pessimistic_read"
	LockPessimisticWrite LockMode = "pessimistic_write"
	LockOptimistic       LockMode = "optimistic"
)

// ValidLockModes defines allowed lock modes.
var ValidLockModes = map[LockMode]bool{
	LockNone:             true,
	LockPessimisticRead:  true,
	LockPessimisticWrite: true,
	LockOptimistic:       true,
}

// FetchStrategy selects how related records are loaded eagerly.
type FetchStrategy string

const (
	// FetchJoin rewrites the query with a LEFT JOIN per relation path.
	FetchJoin FetchStrategy = "join"

	// FetchGraph declares relation paths (ad-hoc or a named entity graph)
	// without hand-written join syntax.
	FetchGraph FetchStrategy = "graph"
)

// FetchSpec describes the eager fetch attached to an operation.
// A nil *FetchSpec means every relation is resolved lazily.
type FetchSpec struct {
	Strategy FetchStrategy `json:"strategy"`
	Paths    []string      `json:"paths,omitempty"`
	Graph    string        `json:"graph,omitempty"` // named entity graph, FetchGraph only
}

// Hints are execution hints that change no query text.
type Hints struct {
	// ReadOnly signals that returned records need no change-tracking snapshot.
	ReadOnly bool `json:"read_only,omitempty"`
}

// Modifying marks an operation as a bulk mutation.
type Modifying struct {
	// Flush writes pending working-set changes before the statement runs.
	Flush bool `json:"flush,omitempty"`

	// Clear empties the working set after the statement so no stale tracked
	// copy is read back as authoritative.
	Clear bool `json:"clear,omitempty"`
}

// Param is a declared operation parameter.
type Param struct {
	Name     string    `json:"name"`
	Position int       `json:"position"` // zero-based declaration position
	Type     ParamType `json:"type"`
}

// Operation is the descriptor of one contract method.
//
// Resolution order for the query source is explicit Query text, then the
// named query registered under NamedQueryKey(), then a custom delegate, then
// method-name derivation.
type Operation struct {
	ID         OperationID `json:"id"`
	Entity     string      `json:"entity"`
	Params     []Param     `json:"params,omitempty"`
	Returns    ReturnKind  `json:"returns"`
	Query      string      `json:"query,omitempty"`
	Native     bool        `json:"native,omitempty"`
	CountQuery string      `json:"count_query,omitempty"`
	NamedQuery string      `json:"named_query,omitempty"`
	Fetch      *FetchSpec  `json:"fetch,omitempty"`
	Lock       LockMode    `json:"lock,omitempty"`
	Hints      Hints       `json:"hints"`
	Limit      int         `json:"limit,omitempty"`
	Projection string      `json:"projection,omitempty"`
	Shapes     []string    `json:"shapes,omitempty"`
	Modifying  *Modifying  `json:"modifying,omitempty"`
}

// NamedQueryKey returns the key under which a named query is looked up.
func (op Operation) NamedQueryKey() string {
	if op.NamedQuery != "" {
		return op.NamedQuery
	}
	return op.Entity + "." + op.ID.Method
}

// ValueParams returns the parameters bound into the query, in declaration order.
func (op Operation) ValueParams() []Param {
	var params []Param
	for _, p := range op.Params {
		if p.Type.IsValue() {
			params = append(params, p)
		}
	}
	return params
}

// Param looks up a declared parameter by name.
func (op Operation) Param(name string) (Param, bool) {
	for _, p := range op.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// HasParamOfType reports whether a parameter of the given type is declared.
func (op Operation) HasParamOfType(t ParamType) bool {
	for _, p := range op.Params {
		if p.Type == t {
			return true
		}
	}
	return false
}

// Validate checks descriptor-level invariants that need no schema.
func (op Operation) Validate() error {
	if op.ID.Method == "" {
		return fmt.Errorf("operation in %q has no method name", op.ID.Contract)
	}
	if !ValidReturnKinds[op.Returns] {
		return fmt.Errorf("%s: invalid return kind %q", op.ID, op.Returns)
	}
	if !ValidLockModes[op.Lock] {
		return fmt.Errorf("%s: invalid lock mode %q", op.ID, op.Lock)
	}
	seen := make(map[string]bool, len(op.Params))
	for i, p := range op.Params {
		if p.Position != i {
			return fmt.Errorf("%s: parameter %q declared at position %d, want %d", op.ID, p.Name, p.Position, i)
		}
		if !ValidParamTypes[p.Type] {
			return fmt.Errorf("%s: parameter %q has invalid type %q", op.ID, p.Name, p.Type)
		}
		if p.Name != "" && seen[p.Name] {
			return fmt.Errorf("%s: duplicate parameter %q", op.ID, p.Name)
		}
		seen[p.Name] = true
	}
	if op.Returns.Paged() && !op.HasParamOfType(TypePageable) {
		return fmt.Errorf("%s: %s return requires a pageable parameter", op.ID, op.Returns)
	}
	if !op.Returns.Paged() && op.HasParamOfType(TypePageable) {
		return fmt.Errorf("%s: pageable parameter requires a page or slice return", op.ID)
	}
	if len(op.Shapes) > 0 && !op.HasParamOfType(TypeShape) {
		return fmt.Errorf("%s: dynamic shapes require a shape parameter", op.ID)
	}
	if op.Fetch != nil && op.Fetch.Strategy != FetchJoin && op.Fetch.Strategy != FetchGraph {
		return fmt.Errorf("%s: invalid fetch strategy %q", op.ID, op.Fetch.Strategy)
	}
	if op.Limit < 0 {
		return fmt.Errorf("%s: negative limit %d", op.ID, op.Limit)
	}
	return nil
}

// Contract is a named set of operations over one entity.
type Contract struct {
	Name       string      `json:"name"`
	Entity     string      `json:"entity"`
	Operations []Operation `json:"operations"`
}

// Operation looks up an operation by method name.
func (c Contract) Operation(method string) (Operation, bool) {
	for _, op := range c.Operations {
		if op.ID.Method == method {
			return op, true
		}
	}
	return Operation{}, false
}

// NamedQuery is query text registered process-wide under a
// "Entity.method" key. Read-only after registration.
type NamedQuery struct {
	Name       string `json:"name"`
	Query      string `json:"query"`
	Native     bool   `json:"native,omitempty"`
	CountQuery string `json:"count_query,omitempty"`
}
