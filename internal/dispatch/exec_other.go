//go:build !unix

package dispatch

import (
	"errors"
	"os"
	"os/exec"
)

// spawnExecutor runs the target binary as a child process with inherited
// stdio and mirrors its exit code.
type spawnExecutor struct{}

func defaultExecutor() Executor {
	return spawnExecutor{}
}

func (spawnExecutor) Exec(binPath string, args []string) (int, error) {
	cmd := exec.Command(binPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
