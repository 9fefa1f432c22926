package core

import (
	"fmt"

	"github.com/netresearch/flaky/config"
)

// SessionInfo is the slice of session-scoped host configuration passed to
// the plugin when it is configured. Configure reads only Verbosity.
type SessionInfo struct {
	// Verbosity scales the narrative trace limit: 0 keeps the single-line
	// default, 1-4 raise the limit accordingly, 5+ removes it.
	Verbosity int
	// Workers is the number of parallel worker processes. The host picks
	// the reporter; Configure does not read this field.
	Workers int
	// Stash is the session config stash through which the host hands the
	// report server port to workers. Configure does not read it.
	Stash *Stash
}

// Plugin binds the retry engine to the host's per-test hooks. One instance
// serves one process (controller or worker); hook invocations for a given
// item are serialized by the host.
type Plugin struct {
	Logger   Logger
	Registry *config.Registry
	Manager  *RetryManager
	Hooks    Hooks
	Clock    Clock

	metrics MetricsRecorder
}

// New creates a plugin writing its retry narrative to the given reporter.
func New(logger Logger, registry *config.Registry, reporter AttemptReporter) *Plugin {
	return &Plugin{
		Logger:   logger,
		Registry: registry,
		Manager:  NewRetryManager(reporter),
		Clock:    NewRealClock(),
	}
}

// SetHooks installs the host run-protocol surface. It must be called before
// the first test item runs.
func (p *Plugin) SetHooks(hooks Hooks) {
	p.Hooks = hooks
}

// SetMetricsRecorder sets the metrics recorder for retry accounting.
func (p *Plugin) SetMetricsRecorder(metrics MetricsRecorder) {
	p.metrics = metrics
}

// Configure applies session-scoped host configuration.
func (p *Plugin) Configure(info SessionInfo) {
	if info.Verbosity > 0 {
		if info.Verbosity < 5 {
			p.Manager.TraceLimit = info.Verbosity
		} else {
			p.Manager.TraceLimit = -1
		}
	}
}

// MarkerDescription is the registration text for the flaky marker.
const MarkerDescription = "flaky(retries=1, delay=0, only_on=..., exclude=..., condition=...): " +
	"indicate a flaky test which will be retried the number of times specified with an " +
	"(optional) specified delay between each attempt. Collections of one or more exception " +
	"classes can be passed so that the test is retried only on those exceptions, or excluding " +
	"those exceptions. Any statement which returns a bool can be used as a condition"

// AutoMark attaches a flaky marker with the session default budget to every
// item that does not carry one. It is a no-op while global retries are
// disabled.
func (p *Plugin) AutoMark(items []Item) {
	if !p.Registry.GlobalRetriesEnabled() {
		return
	}
	retries := p.Registry.Retries()
	for _, item := range items {
		if item.ClosestMarker(MarkerFlaky) != nil {
			continue
		}
		if adder, ok := item.(interface{ AddMarker(*Marker) }); ok {
			adder.AddMarker(&Marker{Name: MarkerFlaky, Value: &FlakyMark{Retries: &retries}})
		}
	}
}

// ProtocolStart brackets the beginning of an item's run protocol.
func (p *Plugin) ProtocolStart(item Item) {
	p.Manager.Begin(item.NodeID())
}

// ProtocolEnd publishes the derived values into the item's stash.
func (p *Plugin) ProtocolEnd(item Item) {
	nodeID := item.NodeID()
	item.Stash().Set(OutcomeKey, string(p.Manager.SimpleOutcome(nodeID)))
	item.Stash().Set(DurationKey, p.Manager.SimpleDuration(nodeID))
	item.Stash().Set(AttemptsKey, p.Manager.SumAttempts(nodeID))
}

// ProcessReport is the make-report hook: it records the stage stats, tracks
// the dynamic outcome and, for an eligible call failure, runs the retry
// loop, mutating the report in place for the final attempt. A returned
// error is a configuration failure and aborts the session.
func (p *Plugin) ProcessReport(item Item, call *CallInfo, report *TestReport) error {
	p.Manager.Record(report)
	item.Stash().Set(OutcomeKey, string(report.Outcome))

	if err := p.maybeRetry(item, call, report); err != nil {
		return fmt.Errorf("retry %q: %w", item.NodeID(), err)
	}
	return nil
}

// ReportStatus maps a report carrying the retry outcome label onto its
// display category: short letter "R", word "RETRY", rendered yellow. Other
// reports return ok=false and fall through to the host's defaults.
func (p *Plugin) ReportStatus(report *TestReport) (category, letter, word string, ok bool) {
	label := p.Registry.RetryOutcome()
	if string(report.Outcome) != label {
		return "", "", "", false
	}
	return label, "R", "RETRY", true
}

// TerminalSummary renders the retry report section at session end.
func (p *Plugin) TerminalSummary(tw TerminalWriter) {
	p.Manager.BuildRetryReport(tw)
}
