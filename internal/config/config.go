// Package config loads the companion's configuration from the environment and
// an optional settings file, and validates it before any provisioning work.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for the fatal configuration failures.
var (
	ErrInvalidParameterSize    = fmt.Errorf("invalid DH parameter size")
	ErrUnsupportedACMEEndpoint = fmt.Errorf("unsupported ACME API version")
)

// bitsPattern is the accepted form of DHPARAM_BITS. Anything else is fatal.
var bitsPattern = regexp.MustCompile(`^[0-9]+$`)

// acmeV1Markers identify Let's Encrypt ACME v1 endpoints, which the upstream
// CA shut down. A configured v1 endpoint can never work, so it aborts startup.
var acmeV1Markers = []string{"acme-v01", "/acme/v01"}

// Config is the complete environment-driven configuration.
type Config struct {
	// DockerHost is the container runtime endpoint. Local unix sockets are
	// validated for existence before use.
	DockerHost string `env:"DOCKER_HOST" envDefault:"unix:///var/run/docker.sock"`

	// ProxyContainer overrides proxy container discovery by name or ID.
	ProxyContainer string `env:"NGINX_PROXY_CONTAINER"`

	// DockerGenContainer overrides config-renderer container discovery.
	DockerGenContainer string `env:"NGINX_DOCKER_GEN_CONTAINER"`

	// DHParamBits is the bit-length for freshly generated DH parameters.
	// Kept as a string so non-numeric input can be rejected explicitly.
	DHParamBits string `env:"DHPARAM_BITS" envDefault:"2048"`

	// Debug enables verbose logging of every runtime-API query.
	Debug bool `env:"DEBUG" envDefault:"false"`

	// ACMECAURI is the certificate authority endpoint configured for the
	// issuance client. Only inspected here for the v1 shutdown gate.
	ACMECAURI string `env:"ACME_CA_URI"`

	Paths Paths `env:"-"`
}

// Paths holds every filesystem path the companion touches. Fixed by the
// compatibility contract; overridable through the settings file for testing
// and non-standard layouts.
type Paths struct {
	DHParam        string `yaml:"dhparam"`
	DHParamDefault string `yaml:"dhparam_default"`
	DHParamLock    string `yaml:"dhparam_lock"`
	CertsDir       string `yaml:"certs_dir"`
	VhostDir       string `yaml:"vhost_dir"`
	HTMLDir        string `yaml:"html_dir"`
}

// DefaultPaths returns the canonical path contract shared with the proxy.
func DefaultPaths() Paths {
	return Paths{
		DHParam:        "/etc/nginx/certs/dhparam.pem",
		DHParamDefault: "/app/dhparam.pem.default",
		DHParamLock:    "/tmp/dhparam_generating.lock",
		CertsDir:       "/etc/nginx/certs",
		VhostDir:       "/etc/nginx/vhost.d",
		HTMLDir:        "/usr/share/nginx/html",
	}
}

// RequiredDirs lists the directories that must be writable mounted volumes.
func (p Paths) RequiredDirs() []string {
	return []string{p.CertsDir, p.VhostDir, p.HTMLDir}
}

// Load builds the configuration from a .env file (if present), the process
// environment, and the optional settings file.
func Load() (*Config, error) {
	// Missing .env is the normal case in a container.
	_ = godotenv.Load()

	cfg := &Config{Paths: DefaultPaths()}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	settingsPath := os.Getenv("TLSPREP_SETTINGS")
	if settingsPath == "" {
		settingsPath = "/app/tlsprep.yml"
	}
	if err := cfg.applySettingsFile(settingsPath); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applySettingsFile overlays path overrides from a YAML settings file.
// A missing file is fine; a malformed one is not.
func (c *Config) applySettingsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings file: %w", err)
	}

	var overrides Paths
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}

	if overrides.DHParam != "" {
		c.Paths.DHParam = overrides.DHParam
	}
	if overrides.DHParamDefault != "" {
		c.Paths.DHParamDefault = overrides.DHParamDefault
	}
	if overrides.DHParamLock != "" {
		c.Paths.DHParamLock = overrides.DHParamLock
	}
	if overrides.CertsDir != "" {
		c.Paths.CertsDir = overrides.CertsDir
	}
	if overrides.VhostDir != "" {
		c.Paths.VhostDir = overrides.VhostDir
	}
	if overrides.HTMLDir != "" {
		c.Paths.HTMLDir = overrides.HTMLDir
	}
	return nil
}

// Validate enforces the fatal configuration gates. It runs before any
// readiness check or file operation.
func (c *Config) Validate() error {
	if !bitsPattern.MatchString(c.DHParamBits) {
		return fmt.Errorf("%w: DHPARAM_BITS=%q must be a positive integer", ErrInvalidParameterSize, c.DHParamBits)
	}
	if bits, err := strconv.Atoi(c.DHParamBits); err != nil || bits <= 0 {
		return fmt.Errorf("%w: DHPARAM_BITS=%q must be a positive integer", ErrInvalidParameterSize, c.DHParamBits)
	}

	for _, marker := range acmeV1Markers {
		if c.ACMECAURI != "" && strings.Contains(c.ACMECAURI, marker) {
			return fmt.Errorf("%w: %s points at the retired ACME v1 API; use an ACME v2 endpoint or unset ACME_CA_URI",
				ErrUnsupportedACMEEndpoint, c.ACMECAURI)
		}
	}
	return nil
}

// Bits returns the validated bit-length. Call Validate first.
func (c *Config) Bits() int {
	bits, _ := strconv.Atoi(c.DHParamBits)
	return bits
}

// SocketPath extracts the filesystem path from a unix-socket DockerHost.
// Returns "" for TCP or other non-local endpoints.
func (c *Config) SocketPath() string {
	if strings.HasPrefix(c.DockerHost, "unix://") {
		return strings.TrimPrefix(c.DockerHost, "unix://")
	}
	if strings.HasPrefix(c.DockerHost, "/") {
		return c.DockerHost
	}
	return ""
}
