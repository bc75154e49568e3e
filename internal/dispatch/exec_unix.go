//go:build unix

package dispatch

import (
	"os"
	"syscall"
)

// execveExecutor replaces the current process with the target binary, so
// signals and exit status flow to the parent without any forwarding.
type execveExecutor struct{}

func defaultExecutor() Executor {
	return execveExecutor{}
}

func (execveExecutor) Exec(binPath string, args []string) (int, error) {
	argv := append([]string{binPath}, args...)
	// Only returns on error.
	err := syscall.Exec(binPath, argv, os.Environ())
	return 0, err
}
