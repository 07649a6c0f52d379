package projection

import (
	"context"
	"fmt"
	"sync"
)

// Loader resolves deferred relation handles.
type Loader interface {
	// Load returns the record of entity with the given identifier, or nil
	// when it does not exist.
	Load(ctx context.Context, entity string, id any) (*Entity, error)

	// LoadBy returns the records of entity whose column equals value,
	// ordered by identifier.
	LoadBy(ctx context.Context, entity, column string, value any) ([]*Entity, error)
}

// Ref is the deferred handle of a single-valued relation.
type Ref struct {
	target string
	id     any
	loader Loader

	mu     sync.Mutex
	loaded bool
	value  *Entity
}

// NewRef creates a handle that loads target record id on first Get.
func NewRef(target string, id any, loader Loader) *Ref {
	return &Ref{target: target, id: id, loader: loader}
}

// Resolved creates a handle that is already loaded with e.
func Resolved(e *Entity) *Ref {
	return &Ref{target: e.Type(), id: e.ID(), loaded: true, value: e}
}

// Target returns the related entity name.
func (r *Ref) Target() string {
	if r == nil {
		return ""
	}
	return r.target
}

// ID returns the related identifier without loading.
func (r *Ref) ID() any {
	if r == nil {
		return nil
	}
	return r.id
}

// Loaded reports whether the related record is in memory.
func (r *Ref) Loaded() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Get returns the related record, loading it on first use. A nil handle
// (empty relation) returns nil.
func (r *Ref) Get(ctx context.Context) (*Entity, error) {
	if r == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.value, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("load %s %v: no loader", r.target, r.id)
	}
	e, err := r.loader.Load(ctx, r.target, r.id)
	if err != nil {
		return nil, err
	}
	r.value = e
	r.loaded = true
	return e, nil
}

// Collection is the deferred handle of a collection relation.
type Collection struct {
	target string
	column string
	owner  any
	loader Loader

	mu     sync.Mutex
	loaded bool
	items  []*Entity
}

// NewCollection creates a handle that loads the target records whose
// column equals owner on first Get.
func NewCollection(target, column string, owner any, loader Loader) *Collection {
	return &Collection{target: target, column: column, owner: owner, loader: loader}
}

// Loaded reports whether the records are in memory.
func (c *Collection) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Get returns the related records, loading them on first use.
func (c *Collection) Get(ctx context.Context) ([]*Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.items, nil
	}
	if c.loader == nil {
		return nil, fmt.Errorf("load %s by %s: no loader", c.target, c.column)
	}
	items, err := c.loader.LoadBy(ctx, c.target, c.column, c.owner)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Entity{}
	}
	c.items = items
	c.loaded = true
	return items, nil
}

func (c *Collection) add(e *Entity) {
	for _, item := range c.items {
		if sameID(item.ID(), e.ID()) {
			return
		}
	}
	c.items = append(c.items, e)
}
