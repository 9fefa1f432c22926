package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/netresearch/flaky/cli"
	"github.com/netresearch/flaky/config"
	"github.com/netresearch/flaky/core"
)

var (
	version string
	build   string
)

func buildLogger(level string) *core.SlogAdapter {
	levelVar := &slog.LevelVar{}
	switch strings.ToLower(level) {
	case "trace", "debug":
		levelVar.Set(slog.LevelDebug)
	case "", "info", "notice":
		levelVar.Set(slog.LevelInfo)
	case "warning", "warn":
		levelVar.Set(slog.LevelWarn)
	case "error", "fatal", "panic", "critical":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelVar,
	})
	return &core.SlogAdapter{Logger: slog.New(handler)}
}

func main() {
	// Pre-parse log-level so the logger is configured before anything else
	// can fail.
	var pre struct {
		LogLevel string `long:"log-level"`
	}
	preParser := flags.NewParser(&pre, flags.IgnoreUnknown)
	_, _ = preParser.ParseArgs(os.Args[1:])
	logger := buildLogger(pre.LogLevel)

	var opts cli.Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.LongDescription = "retry flaky tests to compensate for intermittent failures"
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if version != "" {
		logger.Debugf("flaky %s (build %s)", version, build)
	}

	code, err := cli.Run(&opts, logger, config.ExceptionHooks{})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	os.Exit(code)
}
