// Package runtime resolves the companion's own container identity and locates
// the sibling containers it cooperates with (the proxy and the configuration
// renderer) through the Docker API.
package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// Well-known labels used by the nginx-proxy ecosystem.
const (
	ProxyLabel    = "com.github.nginx-proxy.nginx"
	RendererLabel = "com.github.nginx-proxy.docker-gen"
)

// Image-substring fallbacks, kept for compatibility with unlabeled setups.
const (
	proxyImageHint    = "nginx-proxy"
	rendererImageHint = "docker-gen"
)

// ContainerAPI is the subset of the Docker client the inspector needs.
// Narrow on purpose so tests can fake it.
type ContainerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// ContainerRef identifies a resolved container. Ephemeral; recomputed every run.
type ContainerRef struct {
	ID     string
	Name   string
	Image  string
	Labels map[string]string
	Mounts []MountPoint
}

// MountPoint is the slice of Docker mount metadata the verifier consumes.
type MountPoint struct {
	Source      string
	Destination string
	RW          bool
}

// HasMountAt reports whether the container has a volume mounted at dest.
func (r ContainerRef) HasMountAt(dest string) bool {
	for _, m := range r.Mounts {
		if m.Destination == dest {
			return true
		}
	}
	return false
}

// BundlesRenderer reports whether the container's image looks like it ships
// the config renderer itself. Last-resort heuristic for unlabeled containers.
func (r ContainerRef) BundlesRenderer() bool {
	return strings.Contains(r.Image, proxyImageHint) || strings.Contains(r.Image, rendererImageHint)
}

// Inspector wraps the Docker API for point-in-time container lookups.
// No caching: the topology is assumed static for a single run only.
type Inspector struct {
	api        ContainerAPI
	logger     zerolog.Logger
	cgroupPath string
}

// NewInspector creates an Inspector on top of a container API client.
func NewInspector(api ContainerAPI, logger zerolog.Logger) *Inspector {
	return &Inspector{api: api, logger: logger, cgroupPath: "/proc/self/cgroup"}
}

// WithCgroupPath overrides the cgroup file consulted for self-resolution.
// Used by tests.
func (i *Inspector) WithCgroupPath(path string) *Inspector {
	i.cgroupPath = path
	return i
}

// NewDockerClient builds a Docker client for the configured endpoint.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Inspect resolves a container reference by ID or name.
func (i *Inspector) Inspect(ctx context.Context, id string) (ContainerRef, error) {
	i.logger.Debug().Str("container", id).Msg("inspecting container")

	resp, err := i.api.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerRef{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	return refFromInspect(resp), nil
}

// FindByLabel returns the first running container carrying the label key,
// or a zero ContainerRef if none match.
func (i *Inspector) FindByLabel(ctx context.Context, label string) (ContainerRef, bool, error) {
	i.logger.Debug().Str("label", label).Msg("listing containers by label")

	list, err := i.api.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return ContainerRef{}, false, fmt.Errorf("list containers by label %s: %w", label, err)
	}
	if len(list) == 0 {
		return ContainerRef{}, false, nil
	}
	if len(list) > 1 {
		i.logger.Warn().Str("label", label).Int("count", len(list)).
			Msg("multiple containers carry the label, using the first")
	}
	ref, err := i.Inspect(ctx, list[0].ID)
	if err != nil {
		return ContainerRef{}, false, err
	}
	return ref, true, nil
}

// FindByImageHint returns the first running container whose image name
// contains the given substring. Documented last-resort fallback.
func (i *Inspector) FindByImageHint(ctx context.Context, hint string) (ContainerRef, bool, error) {
	i.logger.Debug().Str("image_hint", hint).Msg("scanning containers by image name")

	list, err := i.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return ContainerRef{}, false, fmt.Errorf("list containers: %w", err)
	}
	for _, c := range list {
		if strings.Contains(c.Image, hint) {
			ref, err := i.Inspect(ctx, c.ID)
			if err != nil {
				return ContainerRef{}, false, err
			}
			return ref, true, nil
		}
	}
	return ContainerRef{}, false, nil
}

// FindProxy resolves the proxy container. Resolution order: explicit override,
// then label match, then not found.
func (i *Inspector) FindProxy(ctx context.Context, override string) (ContainerRef, bool, error) {
	if override != "" {
		ref, err := i.Inspect(ctx, override)
		if err != nil {
			return ContainerRef{}, false, fmt.Errorf("resolve proxy override %q: %w", override, err)
		}
		return ref, true, nil
	}
	return i.FindByLabel(ctx, ProxyLabel)
}

// FindRenderer resolves the config-renderer container. Resolution order:
// explicit override, then label match, then image-name fallback.
func (i *Inspector) FindRenderer(ctx context.Context, override string) (ContainerRef, bool, error) {
	if override != "" {
		ref, err := i.Inspect(ctx, override)
		if err != nil {
			return ContainerRef{}, false, fmt.Errorf("resolve renderer override %q: %w", override, err)
		}
		return ref, true, nil
	}
	if ref, ok, err := i.FindByLabel(ctx, RendererLabel); err != nil || ok {
		return ref, ok, err
	}
	return i.FindByImageHint(ctx, rendererImageHint)
}

func refFromInspect(resp container.InspectResponse) ContainerRef {
	ref := ContainerRef{ID: resp.ID, Name: strings.TrimPrefix(resp.Name, "/")}
	if resp.Config != nil {
		ref.Image = resp.Config.Image
		ref.Labels = resp.Config.Labels
	}
	for _, m := range resp.Mounts {
		ref.Mounts = append(ref.Mounts, MountPoint{
			Source:      m.Source,
			Destination: m.Destination,
			RW:          m.RW,
		})
	}
	return ref
}
