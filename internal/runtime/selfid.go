package runtime

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// containerIDPattern matches a 64-character hex string (Docker container ID).
var containerIDPattern = regexp.MustCompile(`[a-f0-9]{64}`)

// SelfID resolves the ID of the container this process runs in. The executing
// container does not know its own ID a priori, so it comes from the runtime's
// introspection data: first the process cgroup, then the container hostname
// (Docker sets it to the short ID) validated against the runtime API.
func (i *Inspector) SelfID(ctx context.Context) (string, error) {
	if id := i.selfIDFromCgroup(); id != "" {
		return id, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	ref, err := i.Inspect(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("container self-identity unresolved: %w", err)
	}
	return ref.ID, nil
}

func (i *Inspector) selfIDFromCgroup() string {
	data, err := os.ReadFile(i.cgroupPath)
	if err != nil {
		return ""
	}
	return parseContainerIDFromCgroup(string(data))
}

// parseContainerIDFromCgroup extracts a Docker container ID from cgroup file
// contents. Supports cgroup v1 (/docker/<id>) and cgroup v2
// (docker-<id>.scope). Returns "" if no container ID is found (host process).
func parseContainerIDFromCgroup(cgroupContent string) string {
	for _, line := range strings.Split(cgroupContent, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// cgroup v1: "12:memory:/docker/<64-hex-id>"
		// cgroup v1: "12:memory:/system.slice/docker-<64-hex-id>.scope"
		// cgroup v2: "0::/system.slice/docker-<64-hex-id>.scope"
		if strings.Contains(line, "docker") {
			if id := containerIDPattern.FindString(line); id != "" {
				return id
			}
		}

		// Kubernetes/containerd: "0::/kubepods/pod<uuid>/<64-hex-id>"
		if strings.Contains(line, "kubepods") {
			if id := containerIDPattern.FindString(line); id != "" {
				return id
			}
		}
	}
	return ""
}
