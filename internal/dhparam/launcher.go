package dhparam

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
)

// DetachedLauncher re-invokes this binary's hidden generate command in its
// own session. The worker must be a separate process, not a goroutine: the
// parent execs into the proxy supervisor right after provisioning, which
// would kill any in-process task.
type DetachedLauncher struct {
	Logger zerolog.Logger
}

// Start spawns the worker and returns its PID without waiting on it.
func (l DetachedLauncher) Start(bits int) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate own executable: %w", err)
	}

	cmd := exec.Command(self, "generate", "--bits", strconv.Itoa(bits))
	cmd.Env = os.Environ()
	// Keep the container's log stream; detach from our session and stdin.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn generation worker: %w", err)
	}

	pid := cmd.Process.Pid
	// Fire-and-forget: no handle kept, completion is observed on disk.
	if err := cmd.Process.Release(); err != nil {
		l.Logger.Debug().Err(err).Msg("could not release worker process handle")
	}
	return pid, nil
}
