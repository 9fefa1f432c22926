package harness

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netresearch/flaky/core"
)

func callReport(outcome core.Outcome) *core.TestReport {
	return &core.TestReport{When: core.StageCall, Outcome: outcome}
}

func TestTerminalCountsAndLetters(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, false)

	tr.LogReport(callReport(core.OutcomePassed))
	tr.LogReport(callReport(core.OutcomeFailed))
	tr.LogReport(callReport(core.OutcomeSkipped))
	tr.LogReport(&core.TestReport{When: core.StageSetup, Outcome: core.OutcomeFailed})
	tr.LogReport(&core.TestReport{When: core.StageSetup, Outcome: core.OutcomePassed})

	counts := tr.Counts()
	assert.Equal(t, 1, counts[CategoryPassed])
	assert.Equal(t, 1, counts[CategoryFailed])
	assert.Equal(t, 1, counts[CategorySkipped])
	assert.Equal(t, 1, counts[CategoryError])
	assert.Equal(t, ".FsE", out.String(), "passing setup stages render nothing")
}

func TestTerminalXfailLetters(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, false)

	tr.LogReport(&core.TestReport{When: core.StageCall, Outcome: core.OutcomeSkipped, Xfail: true})
	tr.LogReport(&core.TestReport{When: core.StageCall, Outcome: core.OutcomePassed, Xfail: true})

	counts := tr.Counts()
	assert.Equal(t, 1, counts[CategoryXfailed])
	assert.Equal(t, 1, counts[CategoryXpassed])
	assert.Equal(t, "xX", out.String())
}

func TestTerminalStatusProviderWins(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, false)
	tr.AddStatusProvider(func(r *core.TestReport) (string, string, string, bool) {
		if r.Outcome == core.Outcome("retried") {
			return "retried", "R", "RETRY", true
		}
		return "", "", "", false
	})

	tr.LogReport(callReport(core.Outcome("retried")))
	tr.LogReport(callReport(core.OutcomePassed))

	counts := tr.Counts()
	assert.Equal(t, 1, counts["retried"])
	assert.Equal(t, 1, counts[CategoryPassed])
	assert.Equal(t, "R.", out.String())
}

func TestTerminalSectionRule(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, false)
	tr.Section("the following tests were retried", true, true)

	line := strings.TrimRight(out.String(), "\n")
	assert.Len(t, line, 80)
	assert.Contains(t, line, " the following tests were retried ")
	assert.True(t, strings.HasPrefix(line, "="))
	assert.True(t, strings.HasSuffix(line, "="))
}

func TestTerminalSectionColor(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, true)
	tr.Section("end of test retry report", true, true)

	assert.Contains(t, out.String(), "\x1b[1m")
	assert.Contains(t, out.String(), "\x1b[33m")
	assert.Contains(t, out.String(), "\x1b[0m")
}

func TestTerminalSummaryLine(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, false)
	tr.LogReport(callReport(core.OutcomePassed))
	tr.LogReport(callReport(core.OutcomePassed))
	tr.LogReport(callReport(core.OutcomeFailed))
	tr.SummaryLine(1430 * time.Millisecond)

	assert.Contains(t, out.String(), "1 failed, 2 passed in 1.43s")
}

func TestTerminalSummaryLineEmptyRun(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	tr := NewTerminalReporter(out, false)
	tr.SummaryLine(0)

	assert.Contains(t, out.String(), "no tests ran")
}
