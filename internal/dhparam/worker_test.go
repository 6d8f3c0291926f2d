package dhparam

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tlsprep/internal/config"
)

type fakeGenerator struct {
	content []byte
	err     error
	calls   int
}

func (f *fakeGenerator) Generate(_ context.Context, outPath string, bits int) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, f.content, 0o644)
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls++
	return f.err
}

func TestWorkerSwapsAndReloads(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DHParam, Pregenerated(), 0o644))
	require.NoError(t, WriteLock(paths.DHParamLock, NewLockRecord(os.Getpid(), 2048)))

	fresh := []byte("-----BEGIN DH PARAMETERS-----\nfreshly generated\n-----END DH PARAMETERS-----\n")
	gen := &fakeGenerator{content: fresh}
	rel := &fakeReloader{}

	worker := NewWorker(paths, 2048, gen, rel, zerolog.Nop())
	require.NoError(t, worker.Run(context.Background()))

	content, err := os.ReadFile(paths.DHParam)
	require.NoError(t, err)
	assert.Equal(t, fresh, content)
	assert.Equal(t, 1, rel.calls)

	// Lock released, temp file gone.
	_, ok, err := ReadLock(paths.DHParamLock)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, globGenTemps(t, paths))
}

func TestWorkerFailureKeepsDefaultAndReleasesLock(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DHParam, Pregenerated(), 0o644))
	require.NoError(t, WriteLock(paths.DHParamLock, NewLockRecord(os.Getpid(), 2048)))

	gen := &fakeGenerator{err: fmt.Errorf("openssl exploded")}
	rel := &fakeReloader{}

	worker := NewWorker(paths, 2048, gen, rel, zerolog.Nop())
	require.Error(t, worker.Run(context.Background()))

	// Degraded, not broken: default parameters stay, no reload fired, and
	// the lock is gone so a later run can retry.
	content, err := os.ReadFile(paths.DHParam)
	require.NoError(t, err)
	assert.Equal(t, Pregenerated(), content)
	assert.Zero(t, rel.calls)

	_, ok, err := ReadLock(paths.DHParamLock)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkerReloadFailureStillReleasesLock(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.WriteFile(paths.DHParam, Pregenerated(), 0o644))
	require.NoError(t, WriteLock(paths.DHParamLock, NewLockRecord(os.Getpid(), 2048)))

	gen := &fakeGenerator{content: []byte("new params\n")}
	rel := &fakeReloader{err: fmt.Errorf("proxy gone")}

	worker := NewWorker(paths, 2048, gen, rel, zerolog.Nop())
	require.Error(t, worker.Run(context.Background()))

	// The new parameters are installed even though the reload failed.
	content, err := os.ReadFile(paths.DHParam)
	require.NoError(t, err)
	assert.Equal(t, []byte("new params\n"), content)

	_, ok, err := ReadLock(paths.DHParamLock)
	require.NoError(t, err)
	assert.False(t, ok)
}

func globGenTemps(t *testing.T, paths config.Paths) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(paths.DHParam))
	require.NoError(t, err)
	var temps []string
	for _, e := range entries {
		if e.Name() != "dhparam.pem" {
			temps = append(temps, e.Name())
		}
	}
	return temps
}
