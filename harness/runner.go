package harness

import (
	"errors"
	"fmt"

	"github.com/netresearch/flaky/core"
)

// runner executes the per-item run protocol for one process: the controller
// in serial mode, or a single worker. It is the hook surface the retry
// engine drives.
type runner struct {
	logger   core.Logger
	clock    core.Clock
	terminal *TerminalReporter
	plugin   *core.Plugin
	engine   *FixtureEngine
}

var _ core.Hooks = (*runner)(nil)

// RunSetup resolves the item's fixtures in declaration order.
func (r *runner) RunSetup(item core.Item) *core.CallInfo {
	ti := item.(*TestItem)
	return core.CallInfoFromFunc(core.StageSetup, r.clock, func() error {
		return r.setupItem(ti)
	})
}

func (r *runner) setupItem(item *TestItem) error {
	req := &Request{Item: item, engine: r.engine}
	item.resolved = make(map[string]any, len(item.fixtures))
	for _, name := range item.fixtures {
		value, err := r.engine.Resolve(name, req)
		if err != nil {
			return err
		}
		item.resolved[name] = value
	}
	return nil
}

// RunCall executes the test body with the resolved fixtures.
func (r *runner) RunCall(item core.Item) *core.CallInfo {
	ti := item.(*TestItem)
	return core.CallInfoFromFunc(core.StageCall, r.clock, func() error {
		return ti.body(Fixtures(ti.resolved))
	})
}

// TeardownTo finalizes every fixture scope narrower than the given one.
func (r *runner) TeardownTo(item core.Item, scope core.Scope) error {
	return r.engine.TeardownScopes(scope)
}

// MakeReport classifies a finished stage, applying skip and expected-failure
// semantics for the call stage.
func (r *runner) MakeReport(item core.Item, call *core.CallInfo) *core.TestReport {
	ti := item.(*TestItem)
	report := &core.TestReport{
		NodeID:   ti.NodeID(),
		TestName: ti.Name(),
		When:     call.When,
		Duration: call.Duration,
		Err:      call.Err,
	}
	if call.Err != nil {
		report.Longrepr = call.Err.Error()
	}
	if ti.cmdOut != nil {
		report.CapturedOut = ti.cmdOut.String()
	}
	if ti.cmdErr != nil {
		report.CapturedErr = ti.cmdErr.String()
	}

	xfail := xfailMarkOf(ti)
	if call.When != core.StageCall {
		report.Outcome = stageOutcome(call.Err)
		return report
	}

	switch {
	case call.Err == nil && xfail != nil && xfail.Strict:
		// An unexpected pass under strict xfail is a failure and, since the
		// call did not raise, never a retry candidate.
		report.Outcome = core.OutcomeFailed
		report.Xfail = true
		report.XfailStrict = true
		report.Longrepr = fmt.Sprintf("[XPASS(strict)] %s", xfail.Reason)
	case call.Err == nil && xfail != nil:
		report.Outcome = core.OutcomePassed
		report.Xfail = true
	case call.Err == nil:
		report.Outcome = core.OutcomePassed
	case errors.Is(call.Err, core.ErrSkipped):
		report.Outcome = core.OutcomeSkipped
	case xfail != nil:
		// Expected failures don't raise a skip but report as skipped.
		report.Outcome = core.OutcomeSkipped
		report.Xfail = true
		report.XfailStrict = xfail.Strict
	default:
		report.Outcome = core.OutcomeFailed
	}
	return report
}

func stageOutcome(err error) core.Outcome {
	switch {
	case err == nil:
		return core.OutcomePassed
	case errors.Is(err, core.ErrSkipped):
		return core.OutcomeSkipped
	default:
		return core.OutcomeFailed
	}
}

// LogReport forwards a report to the terminal reporter.
func (r *runner) LogReport(report *core.TestReport) {
	r.terminal.LogReport(report)
}

// ExceptionInteract is the debugger hand-off point; the harness only logs.
func (r *runner) ExceptionInteract(item core.Item, call *core.CallInfo, report *core.TestReport) {
	r.logger.Debugf("exception in %q during %s: %v", item.NodeID(), call.When, call.Err)
}

// runItem drives the protocol for one item: setup, call (when setup
// passed), teardown scoped against the next item, with the plugin's report
// hook after every stage.
func (r *runner) runItem(item, next *TestItem) error {
	r.plugin.ProtocolStart(item)

	setup := r.RunSetup(item)
	setupReport := r.MakeReport(item, setup)
	if err := r.plugin.ProcessReport(item, setup, setupReport); err != nil {
		return err
	}
	r.LogReport(setupReport)

	if setup.Err == nil {
		call := r.RunCall(item)
		callReport := r.MakeReport(item, call)
		if err := r.plugin.ProcessReport(item, call, callReport); err != nil {
			return err
		}
		r.LogReport(callReport)
	}

	teardown := core.CallInfoFromFunc(core.StageTeardown, r.clock, func() error {
		return r.teardownItem(item, next)
	})
	teardownReport := r.MakeReport(item, teardown)
	if err := r.plugin.ProcessReport(item, teardown, teardownReport); err != nil {
		return err
	}
	r.LogReport(teardownReport)

	r.plugin.ProtocolEnd(item)
	return nil
}

// teardownItem finalizes scopes the next item does not share: function
// always, class and module when leaving them, everything at session end.
func (r *runner) teardownItem(item, next *TestItem) error {
	switch {
	case next == nil:
		return r.engine.TeardownScopes(core.ScopeSession + 1)
	case next.module != item.module:
		return r.engine.TeardownScopes(core.ScopeSession)
	case next.class != item.class:
		return r.engine.TeardownScopes(core.ScopeModule)
	default:
		return r.engine.TeardownScopes(core.ScopeClass)
	}
}
