// Package dhparam keeps a usable Diffie-Hellman parameter file in place for
// the proxy at every instant: a pregenerated default is installed immediately
// on first run, and a stronger, freshly generated group replaces it from a
// detached background worker without disturbing the running proxy.
package dhparam

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"tlsprep/internal/config"
)

// pregenerated is the bundled fallback parameter set. Immutable, always
// available, and the reference fingerprint for "operator has not customized
// this file".
//
//go:embed dhparam.pem.default
var pregenerated []byte

// Outcome describes what a provisioning run did.
type Outcome string

const (
	// OutcomeBootstrapped: no parameter file existed; the default was
	// installed and a background generation was started.
	OutcomeBootstrapped Outcome = "bootstrapped"
	// OutcomeGenerationStarted: the default was already in place with no
	// generation in flight; a background generation was started.
	OutcomeGenerationStarted Outcome = "generation-started"
	// OutcomeAlreadyGenerating: a live generation lock exists; nothing to do.
	OutcomeAlreadyGenerating Outcome = "already-generating"
	// OutcomeCustomKept: the file differs from the default; it is an operator
	// override (or an earlier completed generation) and is never touched.
	OutcomeCustomKept Outcome = "custom-kept"
)

// Launcher starts the detached background generation process and returns its
// PID. Separated out so tests can fake the spawn.
type Launcher interface {
	Start(bits int) (pid int, err error)
}

// Provisioner is the DH-parameter provisioning state machine.
type Provisioner struct {
	paths    config.Paths
	bits     int
	launcher Launcher
	logger   zerolog.Logger
	now      func() time.Time
}

// NewProvisioner creates a Provisioner. bits must already be validated.
func NewProvisioner(paths config.Paths, bits int, launcher Launcher, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		paths:    paths,
		bits:     bits,
		launcher: launcher,
		logger:   logger,
		now:      time.Now,
	}
}

// Provision ensures a usable parameter file exists and decides whether a
// background generation is needed. It never blocks on generation: the caller
// proceeds to hand off to the proxy supervisor while the worker runs.
func (p *Provisioner) Provision(ctx context.Context) (Outcome, error) {
	if err := p.ensureDefault(); err != nil {
		return "", err
	}

	refDigest, err := fileDigest(p.paths.DHParamDefault)
	if err != nil {
		return "", fmt.Errorf("fingerprint pregenerated default: %w", err)
	}

	curDigest, err := fileDigest(p.paths.DHParam)
	switch {
	case os.IsNotExist(err):
		// Bootstrap: the proxy must be able to start with zero latency.
		if err := atomicInstall(p.paths.DHParam, pregenerated); err != nil {
			return "", fmt.Errorf("install default DH parameters: %w", err)
		}
		p.logger.Info().Str("path", p.paths.DHParam).
			Msg("installed pregenerated DH parameters")
		if err := p.startGeneration(); err != nil {
			return "", err
		}
		return OutcomeBootstrapped, nil

	case err != nil:
		return "", fmt.Errorf("fingerprint DH parameter file: %w", err)

	case curDigest != refDigest:
		// Operator override or previously completed generation. Never touch.
		p.logger.Info().Str("path", p.paths.DHParam).
			Msg("custom DH parameters in place, leaving them alone")
		return OutcomeCustomKept, nil
	}

	// Default still in place: a previous run bootstrapped but never finished
	// strengthening, unless a generation is already in flight.
	if rec, ok, err := ReadLock(p.paths.DHParamLock); err != nil {
		return "", err
	} else if ok {
		if !rec.Stale(p.now()) {
			p.logger.Info().Int("pid", rec.PID).Time("started_at", rec.StartedAt).
				Msg("DH parameter generation already in progress")
			return OutcomeAlreadyGenerating, nil
		}
		p.logger.Warn().Int("pid", rec.PID).Time("started_at", rec.StartedAt).
			Msg("reclaiming stale DH generation lock")
		if err := RemoveLock(p.paths.DHParamLock); err != nil {
			return "", err
		}
	}

	if err := p.startGeneration(); err != nil {
		return "", err
	}
	return OutcomeGenerationStarted, nil
}

// startGeneration records the lock and spawns the detached worker. The narrow
// race between the lock check and this spawn is tolerated: a duplicate
// generation wastes CPU but the atomic install keeps readers safe.
func (p *Provisioner) startGeneration() error {
	rec := NewLockRecord(os.Getpid(), p.bits)
	if err := WriteLock(p.paths.DHParamLock, rec); err != nil {
		return err
	}

	pid, err := p.launcher.Start(p.bits)
	if err != nil {
		// No worker exists to release the lock, so release it here.
		_ = RemoveLock(p.paths.DHParamLock)
		return fmt.Errorf("start DH generation worker: %w", err)
	}

	rec.PID = pid
	if err := WriteLock(p.paths.DHParamLock, rec); err != nil {
		p.logger.Warn().Err(err).Msg("could not record worker pid in generation lock")
	}

	p.logger.Info().Int("pid", pid).Int("bits", p.bits).
		Msg("started background DH parameter generation")
	return nil
}

// ensureDefault materializes the bundled default on disk if it is missing, so
// the on-disk path contract holds even on a scratch filesystem. An existing
// file is left as-is: operators may mount their own default.
func (p *Provisioner) ensureDefault() error {
	if _, err := os.Stat(p.paths.DHParamDefault); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat pregenerated default: %w", err)
	}
	if err := atomicInstall(p.paths.DHParamDefault, pregenerated); err != nil {
		return fmt.Errorf("materialize pregenerated default: %w", err)
	}
	return nil
}

// fileDigest returns the hex SHA-256 of the file's full content. Content, not
// metadata: the default's bytes are fixed and known, size or mtime are not.
func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// atomicInstall writes data next to dst and renames it into place, so readers
// only ever observe the old or the new complete content.
func atomicInstall(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Pregenerated exposes the bundled default content (for tests and the worker).
func Pregenerated() []byte {
	out := make([]byte, len(pregenerated))
	copy(out, pregenerated)
	return out
}
