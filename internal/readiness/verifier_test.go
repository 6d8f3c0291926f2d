package readiness

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tlsprep/internal/config"
	"tlsprep/internal/runtime"
)

const selfID = "feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface"

type fakeAPI struct {
	inspect map[string]container.InspectResponse
	byLabel map[string][]container.Summary
	all     []container.Summary
}

func (f *fakeAPI) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	if resp, ok := f.inspect[id]; ok {
		return resp, nil
	}
	return container.InspectResponse{}, fmt.Errorf("no such container: %s", id)
}

func (f *fakeAPI) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	if opts.Filters.Len() > 0 {
		return f.byLabel[opts.Filters.Get("label")[0]], nil
	}
	return f.all, nil
}

// testEnv builds a verifier over a temp filesystem with a healthy topology:
// self resolvable via cgroup, labeled proxy, labeled renderer, three
// writable dirs mounted per metadata.
type testEnv struct {
	cfg *config.Config
	api *fakeAPI
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	paths := config.Paths{
		DHParam:        filepath.Join(dir, "certs", "dhparam.pem"),
		DHParamDefault: filepath.Join(dir, "dhparam.pem.default"),
		DHParamLock:    filepath.Join(dir, "dhparam_generating.lock"),
		CertsDir:       filepath.Join(dir, "certs"),
		VhostDir:       filepath.Join(dir, "vhost.d"),
		HTMLDir:        filepath.Join(dir, "html"),
	}
	for _, d := range paths.RequiredDirs() {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	var mounts []container.MountPoint
	for _, d := range paths.RequiredDirs() {
		mounts = append(mounts, container.MountPoint{Destination: d, RW: true})
	}
	selfResp := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{ID: selfID, Name: "/companion"},
		Config:            &container.Config{Image: "tlsprep"},
		Mounts:            mounts,
	}

	api := &fakeAPI{
		inspect: map[string]container.InspectResponse{
			selfID: selfResp,
			"proxy-id": {
				ContainerJSONBase: &container.ContainerJSONBase{ID: "proxy-id", Name: "/proxy"},
				Config:            &container.Config{Image: "nginx:alpine"},
			},
			"gen-id": {
				ContainerJSONBase: &container.ContainerJSONBase{ID: "gen-id", Name: "/docker-gen"},
				Config:            &container.Config{Image: "nginxproxy/docker-gen"},
			},
		},
		byLabel: map[string][]container.Summary{
			runtime.ProxyLabel:    {{ID: "proxy-id"}},
			runtime.RendererLabel: {{ID: "gen-id"}},
		},
	}

	return &testEnv{
		cfg: &config.Config{
			DockerHost:  "tcp://localhost:2375",
			DHParamBits: "2048",
			Paths:       paths,
		},
		api: api,
	}
}

func (e *testEnv) verifier(t *testing.T) *Verifier {
	t.Helper()
	cgroup := filepath.Join(t.TempDir(), "cgroup")
	require.NoError(t, os.WriteFile(cgroup, []byte("0::/docker/"+selfID+"\n"), 0o644))

	inspector := runtime.NewInspector(e.api, zerolog.Nop()).WithCgroupPath(cgroup)
	return NewVerifier(e.cfg, inspector, zerolog.Nop())
}

func kindOf(t *testing.T, err error) CheckKind {
	t.Helper()
	var ce *CheckError
	require.ErrorAs(t, err, &ce)
	return ce.Kind
}

func TestVerifyHappyPath(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.verifier(t).Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, selfID, res.SelfID)
	assert.Equal(t, "proxy", res.Proxy.Name)
	assert.Equal(t, "docker-gen", res.Renderer.Name)
	assert.False(t, res.RendererBundled)
}

func TestVerifySocketMissing(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.DockerHost = "unix://" + filepath.Join(t.TempDir(), "absent.sock")

	_, err := env.verifier(t).Verify(context.Background())
	assert.Equal(t, RuntimeSocketUnavailable, kindOf(t, err))
}

func TestVerifySocketWrongType(t *testing.T) {
	env := newTestEnv(t)
	plain := filepath.Join(t.TempDir(), "docker.sock")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))
	env.cfg.DockerHost = "unix://" + plain

	_, err := env.verifier(t).Verify(context.Background())
	assert.Equal(t, RuntimeSocketUnavailable, kindOf(t, err))
}

func TestVerifyRealSocketAccepted(t *testing.T) {
	env := newTestEnv(t)
	sock := filepath.Join(t.TempDir(), "docker.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()
	env.cfg.DockerHost = "unix://" + sock

	_, err = env.verifier(t).Verify(context.Background())
	require.NoError(t, err)
}

func TestVerifySelfUnresolved(t *testing.T) {
	env := newTestEnv(t)
	delete(env.api.inspect, selfID)

	_, err := env.verifier(t).Verify(context.Background())
	assert.Equal(t, SelfIdentityUnresolved, kindOf(t, err))
}

func TestVerifyProxyNotFoundFailsFast(t *testing.T) {
	env := newTestEnv(t)
	delete(env.api.byLabel, runtime.ProxyLabel)
	// Break the directories too: the proxy failure must surface first.
	for _, d := range env.cfg.Paths.RequiredDirs() {
		require.NoError(t, os.RemoveAll(d))
	}

	_, err := env.verifier(t).Verify(context.Background())
	require.Equal(t, ProxyContainerNotFound, kindOf(t, err))

	// Remediation names all three resolution mechanisms.
	msg := err.Error()
	assert.Contains(t, msg, runtime.ProxyLabel)
	assert.Contains(t, msg, "NGINX_PROXY_CONTAINER")
	assert.Contains(t, msg, "compose")
}

func TestVerifyRendererBundledInProxy(t *testing.T) {
	env := newTestEnv(t)
	delete(env.api.byLabel, runtime.RendererLabel)
	proxy := env.api.inspect["proxy-id"]
	proxy.Config = &container.Config{Image: "nginxproxy/nginx-proxy:1.6"}
	env.api.inspect["proxy-id"] = proxy

	res, err := env.verifier(t).Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, res.RendererBundled)
}

func TestVerifyRendererNotFound(t *testing.T) {
	env := newTestEnv(t)
	delete(env.api.byLabel, runtime.RendererLabel)
	// Plain nginx image: no bundled renderer.

	_, err := env.verifier(t).Verify(context.Background())
	assert.Equal(t, ConfigRendererNotFound, kindOf(t, err))
}

func TestVerifyDirectoryMissing(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.RemoveAll(env.cfg.Paths.VhostDir))

	_, err := env.verifier(t).Verify(context.Background())
	require.Equal(t, DirectoryMissing, kindOf(t, err))

	var ce *CheckError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, env.cfg.Paths.VhostDir, ce.Path)
}

func TestVerifyDirectoryUnwritable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("write access checks are meaningless as root")
	}

	env := newTestEnv(t)
	require.NoError(t, os.Chmod(env.cfg.Paths.HTMLDir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(env.cfg.Paths.HTMLDir, 0o755) })

	_, err := env.verifier(t).Verify(context.Background())
	require.Equal(t, DirectoryUnwritable, kindOf(t, err))
}

func TestVerifyMountMetadataAdvisoryOnly(t *testing.T) {
	env := newTestEnv(t)
	// Strip all mount metadata: the filesystem probe is the ground truth, so
	// verification must still pass.
	self := env.api.inspect[selfID]
	self.Mounts = nil
	env.api.inspect[selfID] = self

	_, err := env.verifier(t).Verify(context.Background())
	require.NoError(t, err)
}

func TestCheckErrorFormat(t *testing.T) {
	err := &CheckError{Kind: DirectoryUnwritable, Path: "/etc/nginx/certs", Message: "permission denied"}
	assert.True(t, strings.Contains(err.Error(), "directory-unwritable"))
	assert.True(t, strings.Contains(err.Error(), "/etc/nginx/certs"))
}
