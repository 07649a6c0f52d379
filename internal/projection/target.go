package projection

import (
	"fmt"

	"github.com/roach88/repoql/internal/ir"
)

// Target is the shape rows are projected into.
type Target interface {
	fmt.Stringer
	target()
}

// EntityTarget projects rows into *Entity records of the statement entity.
type EntityTarget struct{}

// ScalarTarget projects the single column of each row.
type ScalarTarget struct{}

// TupleTarget projects each row into a []any of all columns.
type TupleTarget struct{}

// ShapeTarget projects rows into *View records of a closed or nested
// projection.
type ShapeTarget struct {
	Shape *ir.Projection
}

// DTOTarget projects rows through a registered constructor.
type DTOTarget struct {
	Ctor *Constructor
}

func (EntityTarget) target() {}
func (ScalarTarget) target() {}
func (TupleTarget) target()  {}
func (ShapeTarget) target()  {}
func (DTOTarget) target()    {}

func (EntityTarget) String() string { return "entity" }
func (ScalarTarget) String() string { return "scalar" }
func (TupleTarget) String() string  { return "tuple" }

func (t ShapeTarget) String() string {
	return "shape " + t.Shape.Name
}

func (t DTOTarget) String() string {
	return "dto " + t.Ctor.Name()
}
