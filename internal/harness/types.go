package harness

// Trace event types.
const (
	EventCall    = "call"    // a repository call and its value arguments
	EventQuery   = "query"   // a reading statement
	EventExec    = "exec"    // a writing statement
	EventOutcome = "outcome" // the result of a call
)

// TraceEvent is one entry of the scenario trace. Statement events carry
// the SQL exactly as the store received it.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Op      string `json:"op"`
	SQL     string `json:"sql,omitempty"`
	Args    []any  `json:"args,omitempty"`
	Rows    *int64 `json:"rows,omitempty"`    // rows returned or affected, items of an outcome
	Outcome string `json:"outcome,omitempty"` // "ok" or the error code
}

// IsStatement reports whether the event is a statement sent to the store.
func (e TraceEvent) IsStatement() bool {
	return e.Type == EventQuery || e.Type == EventExec
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and every
	// assertion matched.
	Pass bool `json:"pass"`

	// Trace contains calls, statements and outcomes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// add appends an event with the next sequence number.
func (r *Result) add(e TraceEvent) {
	e.Seq = int64(len(r.Trace)) + 1
	r.Trace = append(r.Trace, e)
}

func rows(n int64) *int64 {
	return &n
}
