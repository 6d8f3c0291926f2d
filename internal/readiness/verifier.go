// Package readiness runs the pre-flight checks gating startup: the runtime
// socket is reachable, the sibling containers resolve, and the shared
// directories are mounted and writable.
package readiness

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"tlsprep/internal/config"
	"tlsprep/internal/runtime"
)

// CheckKind classifies a failed readiness check.
type CheckKind string

const (
	RuntimeSocketUnavailable CheckKind = "runtime-socket-unavailable"
	SelfIdentityUnresolved   CheckKind = "self-identity-unresolved"
	ProxyContainerNotFound   CheckKind = "proxy-container-not-found"
	ConfigRendererNotFound   CheckKind = "config-renderer-not-found"
	DirectoryMissing         CheckKind = "directory-missing"
	DirectoryUnwritable      CheckKind = "directory-unwritable"
)

// CheckError is a failed hard gate. Every one aborts startup.
type CheckError struct {
	Kind    CheckKind
	Path    string
	Message string
}

func (e *CheckError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// proxyRemediation names the three ways to make the proxy container
// resolvable. Surfaced verbatim to the operator.
const proxyRemediation = "could not locate the proxy container; either " +
	"(1) label the proxy container with " + runtime.ProxyLabel + ", " +
	"(2) set NGINX_PROXY_CONTAINER to the proxy container's name or ID, or " +
	"(3) declare the label on the proxy service in your compose file"

// Result carries the containers resolved during verification, for reuse by
// the provisioning step.
type Result struct {
	SelfID   string
	Self     runtime.ContainerRef
	Proxy    runtime.ContainerRef
	Renderer runtime.ContainerRef

	// RendererBundled is set when no dedicated renderer container exists but
	// the proxy image appears to ship one.
	RendererBundled bool
}

// Verifier runs the ordered readiness checks.
type Verifier struct {
	cfg       *config.Config
	inspector *runtime.Inspector
	logger    zerolog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg *config.Config, inspector *runtime.Inspector, logger zerolog.Logger) *Verifier {
	return &Verifier{cfg: cfg, inspector: inspector, logger: logger}
}

// Verify runs every check in order and stops at the first hard failure.
// Mount-metadata mismatches are advisory only; the filesystem probe is the
// gate that counts.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	if err := v.checkSocket(); err != nil {
		return nil, err
	}

	res := &Result{}

	selfID, err := v.inspector.SelfID(ctx)
	if err != nil {
		return nil, &CheckError{Kind: SelfIdentityUnresolved, Message: err.Error()}
	}
	res.SelfID = selfID
	v.logger.Debug().Str("container", selfID).Msg("resolved own container")

	self, err := v.inspector.Inspect(ctx, selfID)
	if err != nil {
		return nil, &CheckError{Kind: SelfIdentityUnresolved, Message: err.Error()}
	}
	res.Self = self

	proxy, ok, err := v.inspector.FindProxy(ctx, v.cfg.ProxyContainer)
	if err != nil || !ok {
		msg := proxyRemediation
		if err != nil {
			msg = fmt.Sprintf("%s (%v)", proxyRemediation, err)
		}
		return nil, &CheckError{Kind: ProxyContainerNotFound, Message: msg}
	}
	res.Proxy = proxy
	v.logger.Info().Str("container", proxy.Name).Msg("found proxy container")

	renderer, ok, err := v.inspector.FindRenderer(ctx, v.cfg.DockerGenContainer)
	if err != nil {
		return nil, &CheckError{Kind: ConfigRendererNotFound, Message: err.Error()}
	}
	switch {
	case ok:
		res.Renderer = renderer
		v.logger.Info().Str("container", renderer.Name).Msg("found config-renderer container")
	case proxy.BundlesRenderer():
		res.RendererBundled = true
		v.logger.Info().Str("image", proxy.Image).Msg("proxy container appears to bundle the config renderer")
	default:
		return nil, &CheckError{
			Kind: ConfigRendererNotFound,
			Message: "no container labeled " + runtime.RendererLabel +
				" and the proxy image does not appear to bundle a renderer; " +
				"set NGINX_DOCKER_GEN_CONTAINER or label the renderer container",
		}
	}

	for _, dir := range v.cfg.Paths.RequiredDirs() {
		if !self.HasMountAt(dir) {
			// Metadata only. Volume introspection is not always conclusive,
			// so this never gates startup.
			v.logger.Warn().Str("dir", dir).
				Msg("directory does not appear among this container's mounted volumes")
		}
		if err := v.checkDir(dir); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// checkSocket validates a unix-socket runtime endpoint. Network endpoints are
// checked implicitly by the first API call.
func (v *Verifier) checkSocket() error {
	path := v.cfg.SocketPath()
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return &CheckError{
			Kind: RuntimeSocketUnavailable, Path: path,
			Message: fmt.Sprintf("stat failed: %v; is the runtime socket mounted into this container?", err),
		}
	}
	if info.Mode()&os.ModeSocket == 0 {
		return &CheckError{
			Kind: RuntimeSocketUnavailable, Path: path,
			Message: fmt.Sprintf("not a socket (mode %s)", info.Mode()),
		}
	}
	return nil
}

// checkDir is the ground-truth filesystem probe: the directory must exist and
// accept writes, regardless of what the mount metadata said.
func (v *Verifier) checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		msg := "not a directory"
		if err != nil {
			msg = err.Error()
		}
		return &CheckError{Kind: DirectoryMissing, Path: dir, Message: msg}
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return &CheckError{Kind: DirectoryUnwritable, Path: dir, Message: err.Error()}
	}
	return nil
}
