package harness

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netresearch/flaky/config"
	"github.com/netresearch/flaky/core"
	"github.com/netresearch/flaky/report"
)

// Summary is the session result.
type Summary struct {
	Counts   map[string]int
	Duration time.Duration
}

// Failed reports whether any test failed or errored.
func (s Summary) Failed() bool {
	return s.Counts[CategoryFailed] > 0 || s.Counts[CategoryError] > 0
}

// Session owns a test run: the item list, fixture definitions, terminal and
// the retry plugin. With Workers above 1 it becomes the controller of a
// parallel run, aggregating worker narratives over a loopback socket.
type Session struct {
	ID        string
	Logger    core.Logger
	Clock     core.Clock
	Registry  *config.Registry
	Terminal  *TerminalReporter
	Plugin    *core.Plugin
	Workers   int
	Verbosity int

	stash       *core.Stash
	fixtureDefs map[string]*FixtureDef
	items       []*TestItem
	metrics     core.MetricsRecorder
}

// SessionOption configures a session at construction.
type SessionOption func(*Session)

func WithTerminal(t *TerminalReporter) SessionOption {
	return func(s *Session) { s.Terminal = t }
}

func WithClock(c core.Clock) SessionOption {
	return func(s *Session) { s.Clock = c }
}

func WithWorkers(n int) SessionOption {
	return func(s *Session) { s.Workers = n }
}

func WithVerbosity(v int) SessionOption {
	return func(s *Session) { s.Verbosity = v }
}

func WithMetrics(m core.MetricsRecorder) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession builds a session around an already-configured registry.
func NewSession(logger core.Logger, registry *config.Registry, opts ...SessionOption) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Logger:      logger,
		Clock:       core.NewRealClock(),
		Registry:    registry,
		Workers:     1,
		stash:       core.NewStash(),
		fixtureDefs: make(map[string]*FixtureDef),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Terminal == nil {
		s.Terminal = NewTerminalReporter(os.Stdout, false)
	}
	return s
}

// AddFixture registers a fixture definition.
func (s *Session) AddFixture(def *FixtureDef) {
	s.fixtureDefs[def.Name] = def
}

// AddItems appends items in collection order.
func (s *Session) AddItems(items ...*TestItem) {
	s.items = append(s.items, items...)
}

// Stash returns the session config stash.
func (s *Session) Stash() *core.Stash {
	return s.stash
}

// RetryNarrative returns the aggregated retry report body, empty when no
// test was retried. Valid after Run.
func (s *Session) RetryNarrative() string {
	if s.Plugin == nil {
		return ""
	}
	return s.Plugin.Manager.Reporter.Contents()
}

func (s *Session) newPlugin(reporter core.AttemptReporter) *core.Plugin {
	plugin := core.New(s.Logger, s.Registry, reporter)
	plugin.Clock = s.Clock
	plugin.Configure(core.SessionInfo{
		Verbosity: s.Verbosity,
		Workers:   s.Workers,
		Stash:     s.stash,
	})
	if s.metrics != nil {
		plugin.SetMetricsRecorder(s.metrics)
	}
	return plugin
}

// Run executes every item and renders the retry report. The returned
// summary carries the per-category counts; the session never forces a
// failure exit by itself.
func (s *Session) Run() (Summary, error) {
	start := s.Clock.Now()

	var err error
	if s.Workers > 1 {
		err = s.runParallel()
	} else {
		err = s.runSerial()
	}
	if err != nil {
		return Summary{}, err
	}

	s.Plugin.TerminalSummary(s.Terminal)
	summary := Summary{
		Counts:   s.Terminal.Counts(),
		Duration: s.Clock.Now().Sub(start),
	}
	s.Terminal.SummaryLine(summary.Duration)
	return summary, nil
}

func (s *Session) runSerial() error {
	s.Plugin = s.newPlugin(report.NewOffline())
	r := &runner{
		logger:   s.Logger,
		clock:    s.Clock,
		terminal: s.Terminal,
		plugin:   s.Plugin,
		engine:   NewFixtureEngine(s.fixtureDefs),
	}
	s.Plugin.SetHooks(r)
	s.Terminal.AddStatusProvider(s.Plugin.ReportStatus)
	s.Plugin.AutoMark(coreItems(s.items))

	for n, item := range s.items {
		var next *TestItem
		if n+1 < len(s.items) {
			next = s.items[n+1]
		}
		if err := r.runItem(item, next); err != nil {
			return err
		}
	}
	return nil
}

// runParallel starts the report server, shards the items over worker
// goroutines and aggregates their narratives. Each worker owns its plugin,
// fixture engine and socket client, mirroring a worker process.
func (s *Session) runParallel() error {
	srv, err := report.NewServer(s.Logger)
	if err != nil {
		return err
	}
	s.stash.Set(core.ServerPortKey, srv.Port())

	// The controller aggregates through the server and only renders.
	s.Plugin = s.newPlugin(srv)
	s.Terminal.AddStatusProvider(s.Plugin.ReportStatus)
	s.Plugin.AutoMark(coreItems(s.items))

	shards := make([][]*TestItem, s.Workers)
	for n, item := range s.items {
		shards[n%s.Workers] = append(shards[n%s.Workers], item)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, s.Workers)
	for n := range s.Workers {
		w, err := s.newWorker(n, shards[n])
		if err != nil {
			// Drain what already started before reporting.
			wg.Wait()
			_ = srv.Close()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- w.run()
		}()
	}
	wg.Wait()
	close(errCh)

	if err := srv.Close(); err != nil {
		s.Logger.Warningf("report server shutdown: %v", err)
	}
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

type worker struct {
	id     string
	items  []*TestItem
	client *report.Client
	runner *runner
}

func (s *Session) newWorker(n int, items []*TestItem) (*worker, error) {
	port, ok := core.StashGet[int](s.stash, core.ServerPortKey)
	if !ok {
		return nil, fmt.Errorf("worker %d: report server port missing from session stash", n)
	}
	client, err := report.NewClient(s.Logger, port)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", n, err)
	}

	plugin := s.newPlugin(client)
	r := &runner{
		logger:   s.Logger,
		clock:    s.Clock,
		terminal: s.Terminal,
		plugin:   plugin,
		engine:   NewFixtureEngine(s.fixtureDefs),
	}
	plugin.SetHooks(r)

	return &worker{
		id:     fmt.Sprintf("%s-gw%d", s.ID, n),
		items:  items,
		client: client,
		runner: r,
	}, nil
}

func (w *worker) run() error {
	defer func() {
		if err := w.client.Close(); err != nil {
			w.runner.logger.Warningf("worker %s: %v", w.id, err)
		}
	}()

	for n, item := range w.items {
		var next *TestItem
		if n+1 < len(w.items) {
			next = w.items[n+1]
		}
		if err := w.runner.runItem(item, next); err != nil {
			return err
		}
	}
	return nil
}

func coreItems(items []*TestItem) []core.Item {
	out := make([]core.Item, len(items))
	for n, item := range items {
		out[n] = item
	}
	return out
}
