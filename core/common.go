package core

import (
	"time"
)

// Stage identifies a phase of the host's per-test run protocol.
type Stage string

const (
	StageSetup    Stage = "setup"
	StageCall     Stage = "call"
	StageTeardown Stage = "teardown"
)

// Stages lists the protocol phases in execution order.
var Stages = [3]Stage{StageSetup, StageCall, StageTeardown}

// Outcome is the result category of a single stage execution.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Scope is a fixture lifetime, narrowest first. Teardown between retry
// attempts finalizes every scope narrower than ScopeSession.
type Scope int

const (
	ScopeFunction Scope = iota
	ScopeClass
	ScopeModule
	ScopeSession
)

func (s Scope) String() string {
	switch s {
	case ScopeFunction:
		return "function"
	case ScopeClass:
		return "class"
	case ScopeModule:
		return "module"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// Item is the subset of the host's test item surface the retry engine needs.
type Item interface {
	Name() string
	NodeID() string
	Stash() *Stash
	ClosestMarker(name string) *Marker
	// ResetRequest re-initializes the item's fixture request state so setup
	// can run again on a retry.
	ResetRequest() error
}

// Marker attaches host-side metadata to an item. Value holds the typed
// payload, e.g. *FlakyMark for the "flaky" marker.
type Marker struct {
	Name  string
	Value any
}

// MarkerFlaky and MarkerXfail are the marker names the engine recognizes.
const (
	MarkerFlaky = "flaky"
	MarkerXfail = "xfail"
)

// FlakyMark carries the keyword arguments of a flaky marker. Nil fields fall
// back to the configured session defaults.
type FlakyMark struct {
	Retries          *int
	Delay            *time.Duration
	OnlyOn           []error
	Exclude          []error
	Condition        *bool
	CumulativeTiming *bool
}

// XfailMark marks an item as expected to fail. With Strict an unexpected
// pass is reported as a failure.
type XfailMark struct {
	Reason string
	Strict bool
}

// CallInfo captures the result and timing of running one protocol stage.
type CallInfo struct {
	When     Stage
	Err      error
	Start    time.Time
	Stop     time.Time
	Duration time.Duration
}

// CallInfoFromFunc runs fn and captures its outcome and timing.
func CallInfoFromFunc(when Stage, clk Clock, fn func() error) *CallInfo {
	start := clk.Now()
	err := fn()
	stop := clk.Now()
	return &CallInfo{
		When:     when,
		Err:      err,
		Start:    start,
		Stop:     stop,
		Duration: stop.Sub(start),
	}
}

// TestReport is the per-stage report consumed by the engine. For the final
// retry attempt the original call report is mutated in place so the host's
// accounting sees a single coherent result.
type TestReport struct {
	NodeID      string
	TestName    string
	When        Stage
	Outcome     Outcome
	Duration    time.Duration
	Longrepr    string
	Err         error
	Xfail       bool
	XfailStrict bool
	CapturedOut string
	CapturedErr string
}

func (r *TestReport) Passed() bool  { return r.Outcome == OutcomePassed }
func (r *TestReport) Failed() bool  { return r.Outcome == OutcomeFailed }
func (r *TestReport) Skipped() bool { return r.Outcome == OutcomeSkipped }

// Hooks is the host run-protocol surface the engine drives while retrying.
// The host serializes per-item hook invocations; implementations need not be
// safe for concurrent use with the same item.
type Hooks interface {
	RunSetup(item Item) *CallInfo
	RunCall(item Item) *CallInfo
	// TeardownTo finalizes every fixture scope narrower than the given one,
	// as though the session were moving on to an unrelated item.
	TeardownTo(item Item, scope Scope) error
	MakeReport(item Item, call *CallInfo) *TestReport
	LogReport(report *TestReport)
	ExceptionInteract(item Item, call *CallInfo, report *TestReport)
}

type Logger interface {
	Criticalf(format string, args ...any)
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
	Noticef(format string, args ...any)
	Warningf(format string, args ...any)
}

// AttemptReporter is the sink for the human-readable retry narrative. A
// frame is the four-string record of one attempt; see RetryManager.
type AttemptReporter interface {
	RecordAttempt(lines []string)
	Contents() string
	Close() error
}

// TerminalWriter is the subset of the host terminal reporter used for the
// session-end retry report.
type TerminalWriter interface {
	Write(s string)
	Section(title string, bold, yellow bool)
}

// MetricsRecorder interface for recording retry metrics
type MetricsRecorder interface {
	RecordTestRetry(test string, attempt int, success bool)
}
