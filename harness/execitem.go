package harness

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/armon/circbuf"
	"github.com/gobs/args"
)

// maximum size of a stdout/stderr stream kept in memory per attempt
const maxStreamSize = 10 * 1024 * 1024

// ErrEmptyCommand is returned for a command-backed item with no command.
var ErrEmptyCommand = errors.New("empty command")

// NewCommandTest builds an item whose body runs a local command. A non-zero
// exit fails the call stage; stdout and stderr are captured per attempt.
func NewCommandTest(name, command string, opts ...ItemOption) *TestItem {
	item := NewTest(name, nil, opts...)
	item.body = func(Fixtures) error {
		return item.runCommand(command)
	}
	return item
}

func (i *TestItem) runCommand(command string) error {
	cmd, err := i.buildCommand(command)
	if err != nil {
		return err
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command run: %w", err)
	}
	return nil
}

func (i *TestItem) buildCommand(command string) (*exec.Cmd, error) {
	cmdArgs := args.GetArgs(command)
	if len(cmdArgs) == 0 {
		return nil, ErrEmptyCommand
	}

	bin, err := exec.LookPath(cmdArgs[0])
	if err != nil {
		return nil, fmt.Errorf("look path %q: %w", cmdArgs[0], err)
	}

	outBuf, err := circbuf.NewBuffer(maxStreamSize)
	if err != nil {
		return nil, fmt.Errorf("allocate output buffer: %w", err)
	}
	errBuf, err := circbuf.NewBuffer(maxStreamSize)
	if err != nil {
		return nil, fmt.Errorf("allocate error buffer: %w", err)
	}
	i.cmdOut, i.cmdErr = outBuf, errBuf

	return &exec.Cmd{
		Path:   bin,
		Args:   cmdArgs,
		Stdout: outBuf,
		Stderr: errBuf,
		// add custom env variables to the existing ones
		// instead of overwriting them
		Env: append(os.Environ(), i.env...),
		Dir: i.dir,
	}, nil
}
