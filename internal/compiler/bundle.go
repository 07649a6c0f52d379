package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/repoql/internal/ir"
)

// Bundle is the compiled content of a contract directory: the schema the
// engine is built over and the contracts registered against it.
type Bundle struct {
	Schema    *ir.Schema
	Contracts []ir.Contract
}

// Contract looks up a compiled contract by name.
func (b *Bundle) Contract(name string) (ir.Contract, bool) {
	for _, c := range b.Contracts {
		if c.Name == name {
			return c, true
		}
	}
	return ir.Contract{}, false
}

// LoadDir loads the CUE package in dir and builds its value.
func LoadDir(dir string) (cue.Value, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// Compile builds a bundle from the top-level entity, projection, query and
// repository sections of v. With failFast unset every broken declaration is
// reported; the returned bundle then holds what did compile.
func Compile(v cue.Value, failFast bool) (*Bundle, []error) {
	b := &Bundle{Schema: ir.NewSchema()}
	var errs []error
	fail := func(err error) bool {
		errs = append(errs, err)
		return failFast
	}

	sections := []struct {
		name    string
		compile func(cue.Value) error
	}{
		{"entity", func(v cue.Value) error {
			e, err := CompileEntity(v)
			if err != nil {
				return err
			}
			return b.Schema.AddEntity(*e)
		}},
		{"projection", func(v cue.Value) error {
			p, err := CompileProjection(v)
			if err != nil {
				return err
			}
			return b.Schema.AddProjection(*p)
		}},
		{"query", func(v cue.Value) error {
			nq, err := CompileNamedQuery(v)
			if err != nil {
				return err
			}
			return b.Schema.AddNamedQuery(*nq)
		}},
		{"repository", func(v cue.Value) error {
			c, err := CompileContract(v)
			if err != nil {
				return err
			}
			b.Contracts = append(b.Contracts, *c)
			return nil
		}},
	}

	for _, s := range sections {
		sv := v.LookupPath(cue.ParsePath(s.name))
		if !sv.Exists() {
			continue
		}
		iter, err := sv.Fields()
		if err != nil {
			if fail(formatCUEError(err)) {
				return b, errs
			}
			continue
		}
		for iter.Next() {
			if err := s.compile(iter.Value()); err != nil {
				if fail(fmt.Errorf("%s.%s: %w", s.name, name(iter.Label()), err)) {
					return b, errs
				}
			}
		}
	}

	if len(b.Schema.Entities()) == 0 && len(errs) == 0 {
		errs = append(errs, &CompileError{Field: "entity", Message: "no entities found in contracts"})
		return b, errs
	}
	if err := b.Schema.Validate(); err != nil {
		errs = append(errs, err)
	}
	return b, errs
}
