package harness

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netresearch/flaky/core"
)

const sectionWidth = 80

// Display categories used by the default status mapping. Plugins can add
// their own (e.g. the retry outcome label) through a status provider.
const (
	CategoryPassed  = "passed"
	CategoryFailed  = "failed"
	CategorySkipped = "skipped"
	CategoryXfailed = "xfailed"
	CategoryXpassed = "xpassed"
	CategoryError   = "error"
)

// StatusFunc maps a report onto a display category. The first provider
// returning ok wins; the built-in mapping is the fallback.
type StatusFunc func(report *core.TestReport) (category, letter, word string, ok bool)

// TerminalReporter renders progress letters, sections and the summary line,
// and keeps the per-category counts. Safe for concurrent use by parallel
// workers.
type TerminalReporter struct {
	mu        sync.Mutex
	out       io.Writer
	color     bool
	counts    map[string]int
	providers []StatusFunc
}

func NewTerminalReporter(out io.Writer, color bool) *TerminalReporter {
	return &TerminalReporter{
		out:    out,
		color:  color,
		counts: make(map[string]int),
	}
}

// AddStatusProvider registers a status mapping consulted before the
// built-in one.
func (t *TerminalReporter) AddStatusProvider(fn StatusFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers = append(t.providers, fn)
}

// LogReport counts the report's category and writes its progress letter.
// Reports without a category (passing setup/teardown stages) are ignored.
func (t *TerminalReporter) LogReport(report *core.TestReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	category, letter := t.status(report)
	if category == "" {
		return
	}
	t.counts[category]++
	fmt.Fprint(t.out, letter)
}

func (t *TerminalReporter) status(report *core.TestReport) (string, string) {
	for _, fn := range t.providers {
		if category, letter, _, ok := fn(report); ok {
			return category, t.markup(letter, true, true)
		}
	}

	switch report.When {
	case core.StageCall:
		switch {
		case report.Skipped() && report.Xfail:
			return CategoryXfailed, "x"
		case report.Skipped():
			return CategorySkipped, "s"
		case report.Passed() && report.Xfail:
			return CategoryXpassed, "X"
		case report.Passed():
			return CategoryPassed, "."
		default:
			return CategoryFailed, t.markup("F", true, false)
		}
	case core.StageSetup:
		switch {
		case report.Skipped():
			return CategorySkipped, "s"
		case report.Failed():
			return CategoryError, t.markup("E", true, false)
		}
	case core.StageTeardown:
		if report.Failed() {
			return CategoryError, t.markup("E", true, false)
		}
	}
	return "", ""
}

// Write emits raw text.
func (t *TerminalReporter) Write(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, s)
}

// Section writes a full-width "=" rule with the title centered.
func (t *TerminalReporter) Section(title string, bold, yellow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := " " + title + " "
	fill := sectionWidth - len(line)
	if fill < 2 {
		fill = 2
	}
	left := fill / 2
	rule := strings.Repeat("=", left) + line + strings.Repeat("=", fill-left)
	fmt.Fprintln(t.out, t.markup(rule, bold, yellow))
}

// SummaryLine writes the closing per-category count line.
func (t *TerminalReporter) SummaryLine(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.counts))
	for _, category := range sortedKeys(t.counts) {
		parts = append(parts, fmt.Sprintf("%d %s", t.counts[category], category))
	}
	if len(parts) == 0 {
		parts = append(parts, "no tests ran")
	}
	fmt.Fprintf(t.out, "\n%s in %.2fs\n", strings.Join(parts, ", "), elapsed.Seconds())
}

// Counts returns a copy of the per-category totals.
func (t *TerminalReporter) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

func (t *TerminalReporter) markup(s string, bold, yellow bool) string {
	if !t.color {
		return s
	}
	var b strings.Builder
	if bold {
		b.WriteString("\x1b[1m")
	}
	if yellow {
		b.WriteString("\x1b[33m")
	}
	b.WriteString(s)
	if bold || yellow {
		b.WriteString("\x1b[0m")
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
