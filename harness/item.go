// Package harness is a minimal host test harness: runnable items with
// scoped fixtures and markers, the per-item run protocol, a terminal
// reporter and parallel worker sessions. The retry engine plugs into it
// through the hook surface it exposes.
package harness

import (
	"github.com/armon/circbuf"

	"github.com/netresearch/flaky/core"
)

// Fixtures holds the resolved fixture values a test body receives.
type Fixtures map[string]any

// Get returns a fixture value by name, or nil.
func (f Fixtures) Get(name string) any {
	return f[name]
}

// BodyFunc is a test body. A nil error is a pass; core.ErrSkipped (possibly
// wrapped) requests a skip; anything else fails the call stage.
type BodyFunc func(fx Fixtures) error

// TestItem is a runnable test with its fixtures and markers. It satisfies
// the engine's item contract.
type TestItem struct {
	name     string
	module   string
	class    string
	fixtures []string
	markers  []*core.Marker
	body     BodyFunc
	stash    *core.Stash

	dir string
	env []string

	// request state: resolved fixture values for the current attempt
	resolved map[string]any

	cmdOut, cmdErr *circbuf.Buffer
}

var _ core.Item = (*TestItem)(nil)

// ItemOption configures a test item at construction.
type ItemOption func(*TestItem)

// InModule places the item in a module; module-scoped fixtures are shared
// between consecutive items of the same module.
func InModule(module string) ItemOption {
	return func(i *TestItem) { i.module = module }
}

// InClass places the item in a class within its module.
func InClass(class string) ItemOption {
	return func(i *TestItem) { i.class = class }
}

// WithFixtures declares the fixtures the body receives, resolved in order
// during setup.
func WithFixtures(names ...string) ItemOption {
	return func(i *TestItem) { i.fixtures = append(i.fixtures, names...) }
}

// WithMarkers attaches markers to the item.
func WithMarkers(markers ...*core.Marker) ItemOption {
	return func(i *TestItem) { i.markers = append(i.markers, markers...) }
}

// WithDir sets the working directory for command-backed items.
func WithDir(dir string) ItemOption {
	return func(i *TestItem) { i.dir = dir }
}

// WithEnvironment appends environment variables for command-backed items.
func WithEnvironment(env ...string) ItemOption {
	return func(i *TestItem) { i.env = append(i.env, env...) }
}

// NewTest builds a function-backed test item.
func NewTest(name string, body BodyFunc, opts ...ItemOption) *TestItem {
	item := &TestItem{
		name:  name,
		body:  body,
		stash: core.NewStash(),
	}
	for _, opt := range opts {
		opt(item)
	}
	return item
}

func (i *TestItem) Name() string { return i.name }

func (i *TestItem) NodeID() string {
	id := i.name
	if i.class != "" {
		id = i.class + "::" + id
	}
	if i.module != "" {
		id = i.module + "::" + id
	}
	return id
}

func (i *TestItem) Module() string { return i.module }

func (i *TestItem) Class() string { return i.class }

func (i *TestItem) Stash() *core.Stash { return i.stash }

// ClosestMarker returns the last-added marker with the given name, or nil.
func (i *TestItem) ClosestMarker(name string) *core.Marker {
	for n := len(i.markers) - 1; n >= 0; n-- {
		if i.markers[n].Name == name {
			return i.markers[n]
		}
	}
	return nil
}

// AddMarker attaches a marker after construction; used by auto-marking.
func (i *TestItem) AddMarker(m *core.Marker) {
	i.markers = append(i.markers, m)
}

// ResetRequest drops the resolved fixture values so the next setup
// re-resolves them.
func (i *TestItem) ResetRequest() error {
	i.resolved = nil
	return nil
}

// Flaky builds a flaky marker.
func Flaky(mark *core.FlakyMark) *core.Marker {
	if mark == nil {
		mark = &core.FlakyMark{}
	}
	return &core.Marker{Name: core.MarkerFlaky, Value: mark}
}

// Xfail builds an expected-failure marker.
func Xfail(reason string, strict bool) *core.Marker {
	return &core.Marker{Name: core.MarkerXfail, Value: &core.XfailMark{Reason: reason, Strict: strict}}
}

func xfailMarkOf(item *TestItem) *core.XfailMark {
	marker := item.ClosestMarker(core.MarkerXfail)
	if marker == nil {
		return nil
	}
	mark, _ := marker.Value.(*core.XfailMark)
	return mark
}
