package dhparam

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Reloader triggers the proxy's configuration reload. Invoked exactly once,
// after a successful generation, with no arguments beyond the context.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ContainerSignaler is the slice of the Docker client the reloader needs.
type ContainerSignaler interface {
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// ProxyReloader reloads the proxy by sending SIGHUP to its container, the
// signal nginx interprets as "re-read configuration".
type ProxyReloader struct {
	api         ContainerSignaler
	containerID string
	logger      zerolog.Logger
}

// NewProxyReloader creates a ProxyReloader for the given proxy container.
func NewProxyReloader(api ContainerSignaler, containerID string, logger zerolog.Logger) *ProxyReloader {
	return &ProxyReloader{api: api, containerID: containerID, logger: logger}
}

func (r *ProxyReloader) Reload(ctx context.Context) error {
	r.logger.Info().Str("container", r.containerID).Msg("signaling proxy to reload configuration")
	if err := r.api.ContainerKill(ctx, r.containerID, "SIGHUP"); err != nil {
		return fmt.Errorf("signal proxy container %s: %w", r.containerID, err)
	}
	return nil
}
