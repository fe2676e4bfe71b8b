package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for pipes held open by orphaned
// grandchildren after the command is cancelled.
const waitDelay = 2 * time.Second

// Runner executes one argv to completion.
type Runner interface {
	Run(ctx context.Context, argv []string, dir string, env []string) (stdout, stderr []byte, exitCode int, err error)
}

// HostRunner runs commands directly on the host with os/exec.
type HostRunner struct{}

func (HostRunner) Run(ctx context.Context, argv []string, dir string, env []string) ([]byte, []byte, int, error) {
	if len(argv) == 0 {
		return nil, nil, -1, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	killGroupOnCancel(cmd)
	cmd.WaitDelay = waitDelay
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}
