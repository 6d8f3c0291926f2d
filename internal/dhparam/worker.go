package dhparam

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"tlsprep/internal/config"
)

// Generator computes a DH parameter set into outPath. The production
// implementation shells out to openssl.
type Generator interface {
	Generate(ctx context.Context, outPath string, bits int) error
}

// OpenSSLGenerator runs `openssl dhparam`.
type OpenSSLGenerator struct{}

func (g OpenSSLGenerator) Generate(ctx context.Context, outPath string, bits int) error {
	cmd := exec.CommandContext(ctx, "openssl", "dhparam", "-out", outPath, strconv.Itoa(bits))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("openssl dhparam: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Worker is the background generation task. It runs in a detached process:
// the provisioning parent execs away into the proxy supervisor, so nothing
// waits on it. Completion is signaled through the filesystem (the swapped-in
// parameter file, the released lock) and the reload trigger.
type Worker struct {
	paths     config.Paths
	bits      int
	generator Generator
	reloader  Reloader
	logger    zerolog.Logger
}

// NewWorker creates a Worker.
func NewWorker(paths config.Paths, bits int, generator Generator, reloader Reloader, logger zerolog.Logger) *Worker {
	return &Worker{
		paths:     paths,
		bits:      bits,
		generator: generator,
		reloader:  reloader,
		logger:    logger,
	}
}

// Run generates the parameter set, installs it atomically, and triggers the
// proxy reload. The generation lock is released on every path: a stuck lock
// would permanently stall strengthening. Generation failure is not fatal to
// anything: the default parameters stay in place and the proxy keeps running.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if err := RemoveLock(w.paths.DHParamLock); err != nil {
			w.logger.Error().Err(err).Msg("could not release generation lock")
		}
	}()

	// Generation is CPU-bound and the proxy shares this host: stay polite.
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, 10); err != nil {
		w.logger.Debug().Err(err).Msg("could not lower scheduling priority")
	}

	w.logger.Info().Int("bits", w.bits).Msg("generating DH parameters, this can take several minutes")

	tmp := fmt.Sprintf("%s.gen-%d", w.paths.DHParam, os.Getpid())
	defer os.Remove(tmp)

	if err := w.generator.Generate(ctx, tmp, w.bits); err != nil {
		w.logger.Error().Err(err).
			Msg("DH parameter generation failed, keeping current parameters")
		return err
	}

	// Rename within the same directory: readers see old or new, never partial.
	if err := os.Rename(tmp, w.paths.DHParam); err != nil {
		w.logger.Error().Err(err).Msg("could not install generated DH parameters")
		return fmt.Errorf("install generated DH parameters: %w", err)
	}

	w.logger.Info().Int("bits", w.bits).Str("path", w.paths.DHParam).
		Msg("installed freshly generated DH parameters")

	if err := w.reloader.Reload(ctx); err != nil {
		w.logger.Error().Err(err).Msg("proxy reload failed after DH parameter swap")
		return fmt.Errorf("reload proxy: %w", err)
	}
	return nil
}
