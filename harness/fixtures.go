package harness

import (
	"errors"
	"fmt"
	"sync"

	"github.com/netresearch/flaky/core"
)

// ErrUnknownFixture is returned when an item requests a fixture no
// definition exists for.
var ErrUnknownFixture = errors.New("unknown fixture")

// FixtureFunc builds a fixture value. The returned finalizer, if any, runs
// when the fixture's scope is torn down.
type FixtureFunc func(r *Request) (any, func() error, error)

// FixtureDef declares a fixture with its lifetime.
type FixtureDef struct {
	Name  string
	Scope core.Scope
	Fn    FixtureFunc
}

// Request resolves fixtures for one item. Fixture functions may resolve
// other fixtures through it.
type Request struct {
	Item   *TestItem
	engine *FixtureEngine
}

// Fixture resolves a named fixture, building it if its scope has no cached
// instance yet.
func (r *Request) Fixture(name string) (any, error) {
	return r.engine.Resolve(name, r)
}

type activeFixture struct {
	value     any
	finalizer func() error
}

// FixtureEngine caches fixture instances per scope and finalizes them in
// reverse creation order when a scope is torn down. One engine serves one
// worker; the host serializes access.
type FixtureEngine struct {
	mu     sync.Mutex
	defs   map[string]*FixtureDef
	caches map[core.Scope]map[string]*activeFixture
	order  map[core.Scope][]string
}

func NewFixtureEngine(defs map[string]*FixtureDef) *FixtureEngine {
	e := &FixtureEngine{
		defs:   defs,
		caches: make(map[core.Scope]map[string]*activeFixture),
		order:  make(map[core.Scope][]string),
	}
	for scope := core.ScopeFunction; scope <= core.ScopeSession; scope++ {
		e.caches[scope] = make(map[string]*activeFixture)
	}
	return e
}

// Resolve returns the cached instance for the fixture's scope or builds a
// fresh one.
func (e *FixtureEngine) Resolve(name string, r *Request) (any, error) {
	e.mu.Lock()
	def, ok := e.defs[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFixture, name)
	}

	e.mu.Lock()
	if active, ok := e.caches[def.Scope][name]; ok {
		e.mu.Unlock()
		return active.value, nil
	}
	e.mu.Unlock()

	value, finalizer, err := def.Fn(r)
	if err != nil {
		return nil, fmt.Errorf("fixture %q: %w", name, err)
	}

	e.mu.Lock()
	e.caches[def.Scope][name] = &activeFixture{value: value, finalizer: finalizer}
	e.order[def.Scope] = append(e.order[def.Scope], name)
	e.mu.Unlock()
	return value, nil
}

// TeardownScopes finalizes every scope narrower than upTo, in reverse
// creation order within each scope. All finalizers run even when one
// fails; the first error is returned.
func (e *FixtureEngine) TeardownScopes(upTo core.Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for scope := core.ScopeFunction; scope < upTo; scope++ {
		names := e.order[scope]
		for i := len(names) - 1; i >= 0; i-- {
			active := e.caches[scope][names[i]]
			if active == nil || active.finalizer == nil {
				continue
			}
			if err := active.finalizer(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("finalize fixture %q: %w", names[i], err)
			}
		}
		e.caches[scope] = make(map[string]*activeFixture)
		e.order[scope] = nil
	}
	return firstErr
}

// Active reports whether the named fixture currently has a live instance.
func (e *FixtureEngine) Active(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.defs[name]
	if !ok {
		return false
	}
	_, ok = e.caches[def.Scope][name]
	return ok
}
