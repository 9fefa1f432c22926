package core

import (
	"errors"
	"time"

	"github.com/netresearch/flaky/config"
)

var (
	errBoom     = errors.New("boom")
	errIndex    = errors.New("index out of range")
	errValue    = errors.New("bad value")
	errTeardown = errors.New("finalizer exploded")
)

// TestLogger discards everything; the narrative reporter is asserted
// instead.
type TestLogger struct{}

func (*TestLogger) Criticalf(string, ...any) {}
func (*TestLogger) Debugf(string, ...any)    {}
func (*TestLogger) Errorf(string, ...any)    {}
func (*TestLogger) Noticef(string, ...any)   {}
func (*TestLogger) Warningf(string, ...any)  {}

// bufferReporter is an in-memory attempt sink for unit tests.
type bufferReporter struct {
	frames   [][]string
	contents string
}

func (b *bufferReporter) RecordAttempt(lines []string) {
	b.frames = append(b.frames, lines)
	for _, l := range lines {
		b.contents += l
	}
}

func (b *bufferReporter) Contents() string { return b.contents }
func (b *bufferReporter) Close() error     { return nil }

// testItem is a minimal Item implementation.
type testItem struct {
	name    string
	stash   *Stash
	markers []*Marker
	resets  int
}

func newTestItem(name string, markers ...*Marker) *testItem {
	return &testItem{name: name, stash: NewStash(), markers: markers}
}

func (i *testItem) Name() string   { return i.name }
func (i *testItem) NodeID() string { return "tests::" + i.name }
func (i *testItem) Stash() *Stash  { return i.stash }

func (i *testItem) ClosestMarker(name string) *Marker {
	for n := len(i.markers) - 1; n >= 0; n-- {
		if i.markers[n].Name == name {
			return i.markers[n]
		}
	}
	return nil
}

func (i *testItem) AddMarker(m *Marker) { i.markers = append(i.markers, m) }

func (i *testItem) ResetRequest() error {
	i.resets++
	return nil
}

func flakyMarker(mark *FlakyMark) *Marker {
	return &Marker{Name: MarkerFlaky, Value: mark}
}

// testHost scripts the run-protocol hooks for the retry loop: successive
// retry call results, setup and preliminary teardown outcomes, and captures
// every logged report.
type testHost struct {
	clock        Clock
	callResults  []error
	callIdx      int
	setupResults []error
	setupIdx     int
	teardowns    []error
	teardownIdx  int
	callAdvance  time.Duration

	logged     []TestReport
	interacted int
}

func newTestHost(clock Clock) *testHost {
	return &testHost{clock: clock}
}

func (h *testHost) nextCall() error {
	if h.callIdx >= len(h.callResults) {
		return nil
	}
	err := h.callResults[h.callIdx]
	h.callIdx++
	return err
}

func (h *testHost) RunSetup(item Item) *CallInfo {
	var err error
	if h.setupIdx < len(h.setupResults) {
		err = h.setupResults[h.setupIdx]
		h.setupIdx++
	}
	return CallInfoFromFunc(StageSetup, h.clock, func() error { return err })
}

func (h *testHost) RunCall(item Item) *CallInfo {
	return CallInfoFromFunc(StageCall, h.clock, func() error {
		if fc, ok := h.clock.(*FakeClock); ok && h.callAdvance > 0 {
			fc.Advance(h.callAdvance)
		}
		return h.nextCall()
	})
}

func (h *testHost) TeardownTo(item Item, scope Scope) error {
	if h.teardownIdx < len(h.teardowns) {
		err := h.teardowns[h.teardownIdx]
		h.teardownIdx++
		return err
	}
	return nil
}

func (h *testHost) MakeReport(item Item, call *CallInfo) *TestReport {
	outcome := OutcomePassed
	longrepr := ""
	switch {
	case errors.Is(call.Err, ErrSkipped):
		outcome = OutcomeSkipped
		longrepr = call.Err.Error()
	case call.Err != nil:
		outcome = OutcomeFailed
		longrepr = call.Err.Error()
	}
	return &TestReport{
		NodeID:   item.NodeID(),
		TestName: item.Name(),
		When:     call.When,
		Outcome:  outcome,
		Duration: call.Duration,
		Longrepr: longrepr,
		Err:      call.Err,
	}
}

func (h *testHost) LogReport(report *TestReport) {
	h.logged = append(h.logged, *report)
}

func (h *testHost) ExceptionInteract(Item, *CallInfo, *TestReport) {
	h.interacted++
}

// newTestPlugin wires a plugin with a configured registry, a buffer
// reporter and a scripted host.
func newTestPlugin(retries int, hooks config.ExceptionHooks) (*Plugin, *bufferReporter, *testHost, *config.Registry) {
	registry := config.NewRegistry()
	settings, err := config.NewSettings()
	if err != nil {
		panic(err)
	}
	if retries > 0 {
		settings.Retries = &retries
	}
	if err := registry.Configure(settings, hooks); err != nil {
		panic(err)
	}

	reporter := &bufferReporter{}
	plugin := New(&TestLogger{}, registry, reporter)
	clock := NewFakeClock(time.Unix(1700000000, 0))
	plugin.Clock = clock
	host := newTestHost(clock)
	plugin.SetHooks(host)
	return plugin, reporter, host, registry
}

// runCallStage pushes a passing setup report and then the failing call
// through the plugin, mimicking the host protocol up to the retry hook.
func runCallStage(plugin *Plugin, host *testHost, item *testItem, callErr error) (*TestReport, error) {
	plugin.ProtocolStart(item)

	setup := CallInfoFromFunc(StageSetup, plugin.Clock, func() error { return nil })
	if err := plugin.ProcessReport(item, setup, host.MakeReport(item, setup)); err != nil {
		return nil, err
	}

	call := CallInfoFromFunc(StageCall, plugin.Clock, func() error {
		if fc, ok := plugin.Clock.(*FakeClock); ok && host.callAdvance > 0 {
			fc.Advance(host.callAdvance)
		}
		return callErr
	})
	report := host.MakeReport(item, call)
	err := plugin.ProcessReport(item, call, report)
	return report, err
}

// finishProtocol runs the host teardown stage and closes the protocol.
func finishProtocol(plugin *Plugin, host *testHost, item *testItem) error {
	teardown := CallInfoFromFunc(StageTeardown, plugin.Clock, func() error { return nil })
	if err := plugin.ProcessReport(item, teardown, host.MakeReport(item, teardown)); err != nil {
		return err
	}
	plugin.ProtocolEnd(item)
	return nil
}
