package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/netresearch/flaky/config"
	"github.com/netresearch/flaky/core"
	"github.com/netresearch/flaky/harness"
	"github.com/netresearch/flaky/metrics"
	"github.com/netresearch/flaky/report"
)

// Help texts of the retry flags. The Options struct tags repeat these
// strings verbatim; they do not reference the constants.
const (
	RetriesHelpText = "number of times to retry failed tests. Defaults to 0."
	DelayHelpText   = "configure a delay (in seconds) between retries."
	TimingHelpText  = "if true, retry duration will be included in overall reported test duration"
	OutcomeHelpText = "configure the outcome of retried tests. Defaults to 'retried'"
)

// Options is the command-line surface. Pointer fields distinguish "not
// given" from an explicit zero so file values survive unset flags.
type Options struct {
	Config           string   `long:"config" description:"configuration file (ini or yaml)" default:".flaky.ini"`
	LogLevel         string   `long:"log-level" description:"minimum log level" default:"info"`
	Retries          *int     `long:"retries" description:"number of times to retry failed tests. Defaults to 0."`
	RetryDelay       *float64 `long:"retry-delay" description:"configure a delay (in seconds) between retries."`
	CumulativeTiming *bool    `long:"cumulative-timing" description:"if true, retry duration will be included in overall reported test duration"`
	RetryOutcome     *string  `long:"retry-outcome" description:"configure the outcome of retried tests. Defaults to 'retried'"`
	Workers          int      `long:"workers" description:"number of parallel workers" default:"1"`
	Verbose          []bool   `short:"v" long:"verbose" description:"increase retry report verbosity"`
	MetricsAddr      string   `long:"metrics-address" description:"serve Prometheus metrics on this address"`
	NoColor          bool     `long:"no-color" description:"disable terminal colors"`
}

// Run loads the configuration, builds a session of command-backed checks
// and executes it. The exit code is 1 when any check failed, 0 otherwise;
// the retry engine itself never forces a non-zero exit.
func Run(opts *Options, logger core.Logger, hooks config.ExceptionHooks) (int, error) {
	var file *FileConfig
	if _, statErr := os.Stat(opts.Config); statErr == nil {
		var err error
		file, err = LoadFile(opts.Config)
		if err != nil {
			return 1, err
		}
	} else if errors.Is(statErr, fs.ErrNotExist) {
		logger.Debugf("no configuration file at %q, using flags only", opts.Config)
	} else {
		return 1, fmt.Errorf("stat config %q: %w", opts.Config, statErr)
	}

	settings, err := Resolve(file, opts)
	if err != nil {
		return 1, err
	}

	registry := config.NewRegistry()
	if err := registry.Configure(settings, hooks); err != nil {
		return 1, err
	}

	sessionOpts := []harness.SessionOption{
		harness.WithWorkers(opts.Workers),
		harness.WithVerbosity(len(opts.Verbose)),
		harness.WithTerminal(harness.NewTerminalReporter(os.Stdout, !opts.NoColor)),
	}

	if opts.MetricsAddr != "" {
		recorder := metrics.NewPrometheusRecorder(nil)
		sessionOpts = append(sessionOpts, harness.WithMetrics(recorder))
		server := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           recorder.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warningf("metrics server: %v", err)
			}
		}()
		defer server.Close()
	}

	session := harness.NewSession(logger, registry, sessionOpts...)
	if file != nil {
		session.AddItems(BuildItems(file.Checks)...)
	}

	summary, err := session.Run()
	if err != nil {
		return 1, err
	}

	deliverReport(logger, session, file)

	if summary.Failed() {
		return 1, nil
	}
	return 0, nil
}

// BuildItems converts check configurations into command-backed test items.
// A check carrying any retry field gets its own flaky marker.
func BuildItems(checks []*CheckConfig) []*harness.TestItem {
	items := make([]*harness.TestItem, 0, len(checks))
	for _, check := range checks {
		module := check.Module
		if module == "" {
			module = "checks"
		}
		itemOpts := []harness.ItemOption{
			harness.InModule(module),
			harness.WithDir(check.Dir),
			harness.WithEnvironment(check.Environment...),
		}
		if mark := flakyMarkFor(check); mark != nil {
			itemOpts = append(itemOpts, harness.WithMarkers(harness.Flaky(mark)))
		}
		items = append(items, harness.NewCommandTest(check.Name, check.Command, itemOpts...))
	}
	return items
}

func flakyMarkFor(check *CheckConfig) *core.FlakyMark {
	if check.Retries == nil && check.Delay == nil && check.Condition == nil && check.CumulativeTiming == nil {
		return nil
	}
	mark := &core.FlakyMark{
		Retries:          check.Retries,
		Condition:        check.Condition,
		CumulativeTiming: check.CumulativeTiming,
	}
	if check.Delay != nil {
		delay := time.Duration(*check.Delay * float64(time.Second))
		mark.Delay = &delay
	}
	return mark
}

// deliverReport ships the final retry narrative to the configured mail and
// webhook sinks. Delivery failures are logged, never fatal.
func deliverReport(logger core.Logger, session *harness.Session, file *FileConfig) {
	if file == nil {
		return
	}
	narrative := session.RetryNarrative()
	if narrative == "" {
		return
	}
	if sink := report.NewMailSink(file.Mail); sink != nil {
		if err := sink.Deliver(session.ID, narrative); err != nil {
			logger.Errorf("mail report: %v", err)
		}
	}
	if sink := report.NewWebhookSink(file.Webhook); sink != nil {
		if err := sink.Deliver(session.ID, narrative); err != nil {
			logger.Errorf("webhook report: %v", err)
		}
	}
}
