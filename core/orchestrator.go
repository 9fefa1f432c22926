package core

import (
	"errors"
	"time"
)

// shouldHandleRetry decides whether a finished stage may enter the retry
// loop at all. Only a call stage that raised a non-skip error qualifies;
// fixture setup retries are deliberately unsupported and flaky teardowns
// are never retried.
func shouldHandleRetry(call *CallInfo) bool {
	if call.Err == nil {
		return false
	}
	if call.When == StageSetup || call.When == StageTeardown {
		return false
	}
	if errors.Is(call.Err, ErrSkipped) {
		return false
	}
	return true
}

// hasInteractiveException reports whether the host would present the raised
// error interactively. Control-flow errors are excluded.
func hasInteractiveException(call *CallInfo) bool {
	if call.Err == nil {
		return false
	}
	return !errors.Is(call.Err, ErrDebuggerQuit)
}

// maybeRetry runs the per-test retry state machine after a call-stage report
// has been produced. On entry the original report has already been recorded.
// When the loop finishes, the original report carries the outcome, longrepr
// and duration of the final attempt.
func (p *Plugin) maybeRetry(item Item, call *CallInfo, original *TestReport) error {
	if !shouldHandleRetry(call) {
		return nil
	}
	// Tests expected to fail don't raise a skip, but their report is still
	// marked skipped; leave them alone.
	if original.Skipped() {
		return nil
	}

	mark := FlakyMarkOf(item)
	if mark == nil {
		return nil
	}
	if mark.Condition != nil && !*mark.Condition {
		return nil
	}

	filter, err := resolveFilter(mark, p.Registry)
	if err != nil {
		return err
	}
	if !filter.Match(call.Err) {
		return nil
	}

	policy := resolvePolicy(mark, p.Registry)
	if policy.Retries < 1 {
		// A zero budget never enters the loop; the first failure is final.
		return nil
	}
	attempts := 1

	for {
		// Preliminary teardown: finalize everything narrower than the
		// session so module and class fixtures are released too, not only
		// function-scoped ones. A retried setup must observe fresh state.
		teardown := CallInfoFromFunc(StageTeardown, p.Clock, func() error {
			return p.Hooks.TeardownTo(item, ScopeSession)
		})
		p.Manager.Record(p.reportFor(item, teardown))

		// A flaky teardown is unacceptable: mark the test failed, log the
		// exit frame and stop. The empty caplog map keeps the host's
		// regular teardown from failing on missing state afterwards.
		if teardown.Err != nil {
			item.Stash().Set(OutcomeKey, string(OutcomeFailed))
			p.Manager.LogAttempt(attempts, item.Name(), teardown.Err, resultExit)
			item.Stash().Set(CaplogKey, map[string][]string{})
			p.Logger.Errorf("test %q: teardown failed on attempt %d: %v", item.Name(), attempts, teardown.Err)
			break
		}

		// First iteration only: re-emit the original report under the
		// retry outcome label so live reporters render the interim status,
		// then restore it so the final accounting stays correct.
		if attempts == 1 {
			original.Outcome = Outcome(policy.OutcomeLabel)
			p.Hooks.LogReport(original)
			original.Outcome = OutcomeFailed
		}

		p.Manager.LogAttempt(attempts, item.Name(), call.Err, resultRetry)
		if p.metrics != nil {
			p.metrics.RecordTestRetry(item.Name(), attempts, false)
		}
		p.Logger.Warningf("test %q failed (attempt %d/%d): %v. Retrying in %v",
			item.Name(), attempts, policy.Retries+1, call.Err, policy.Delay)

		p.Clock.Sleep(policy.Delay)

		// Reset the fixture request state so setup can run again.
		if err := item.ResetRequest(); err != nil {
			return err
		}

		setup := p.Hooks.RunSetup(item)
		p.Manager.Record(p.reportFor(item, setup))

		call = p.Hooks.RunCall(item)
		retryReport := p.Hooks.MakeReport(item, call)
		p.Manager.Record(retryReport)

		if hasInteractiveException(call) {
			p.Hooks.ExceptionInteract(item, call, retryReport)
		}

		attempts++
		keepRetrying := !retryReport.Passed() &&
			!retryReport.Skipped() &&
			attempts <= policy.Retries &&
			filter.Match(call.Err)
		if keepRetrying {
			continue
		}

		original.Outcome = retryReport.Outcome
		original.Longrepr = retryReport.Longrepr
		original.Err = retryReport.Err
		if policy.CumulativeTiming {
			var total time.Duration
			for _, d := range p.Manager.Stats(original.NodeID).Durations[StageCall] {
				total += d
			}
			original.Duration = total
		} else {
			original.Duration = retryReport.Duration
		}

		result := resultPass
		if retryReport.Failed() {
			result = resultFail
		}
		p.Manager.LogAttempt(attempts, item.Name(), call.Err, result)
		if p.metrics != nil {
			p.metrics.RecordTestRetry(item.Name(), attempts, retryReport.Passed())
		}
		if retryReport.Failed() {
			p.Logger.Errorf("test %q failed after %d attempts: %v", item.Name(), attempts, call.Err)
		} else {
			p.Logger.Noticef("test %q passed on attempt %d", item.Name(), attempts)
		}
		break
	}
	return nil
}

// reportFor builds a minimal stage report for stats recording during the
// retry loop. Call-stage reports go through the host's MakeReport instead so
// xfail and capture handling stay with the host.
func (p *Plugin) reportFor(item Item, call *CallInfo) *TestReport {
	outcome := OutcomePassed
	switch {
	case errors.Is(call.Err, ErrSkipped):
		outcome = OutcomeSkipped
	case call.Err != nil:
		outcome = OutcomeFailed
	}
	return &TestReport{
		NodeID:   item.NodeID(),
		TestName: item.Name(),
		When:     call.When,
		Outcome:  outcome,
		Duration: call.Duration,
		Err:      call.Err,
	}
}
