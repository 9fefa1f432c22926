package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/flaky/config"
)

type testLogger struct{}

func (*testLogger) Criticalf(string, ...any) {}
func (*testLogger) Debugf(string, ...any)    {}
func (*testLogger) Errorf(string, ...any)    {}
func (*testLogger) Noticef(string, ...any)   {}
func (*testLogger) Warningf(string, ...any)  {}

func TestRunPassingChecksExitsZero(t *testing.T) {
	path := writeConfig(t, "flaky.ini", `
[check "hello"]
command = echo hello

[check "also-fine"]
command = true
`)
	code, err := Run(&Options{Config: path, Workers: 1, NoColor: true}, &testLogger{}, config.ExceptionHooks{})
	require.NoError(t, err)
	assert.Zero(t, code)
}

func TestRunFailingCheckExitsOne(t *testing.T) {
	path := writeConfig(t, "flaky.ini", `
[retry]
retries = 1

[check "doomed"]
command = false
`)
	code, err := Run(&Options{Config: path, Workers: 1, NoColor: true}, &testLogger{}, config.ExceptionHooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestRunToleratesMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.ini")
	code, err := Run(&Options{Config: path, Workers: 1, NoColor: true}, &testLogger{}, config.ExceptionHooks{})
	require.NoError(t, err)
	assert.Zero(t, code)
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	path := writeConfig(t, "flaky.ini", "[retry]\ntiming-mode = average\n")
	code, err := Run(&Options{Config: path, Workers: 1, NoColor: true}, &testLogger{}, config.ExceptionHooks{})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Equal(t, 1, code)
}
