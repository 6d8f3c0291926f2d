package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"tlsprep/internal/config"
	"tlsprep/internal/dhparam"
	"tlsprep/internal/logging"
	"tlsprep/internal/notice"
	"tlsprep/internal/readiness"
	"tlsprep/internal/runtime"
)

// Version is set via ldflags during build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tlsprep [flags] -- command [args...]",
	Short: "TLS environment companion for nginx-proxy",
	Long: `tlsprep verifies the proxy's runtime environment, provisions DH
parameters (installing a pregenerated default immediately and strengthening
it in the background), then execs the wrapped proxy supervisor command.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRoot(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(generateCmd)
}

func runRoot(ctx context.Context, wrapped []string) error {
	cfg, logger, res, err := prepare(ctx)
	if err != nil {
		return err
	}
	logger.Debug().Str("proxy", res.Proxy.Name).Msg("environment verified")

	prov := dhparam.NewProvisioner(
		cfg.Paths,
		cfg.Bits(),
		dhparam.DetachedLauncher{Logger: logging.WithComponent("launcher")},
		logging.WithComponent("dhparam"),
	)
	outcome, err := prov.Provision(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("outcome", string(outcome)).Msg("DH parameter provisioning complete")

	if len(wrapped) == 0 {
		return nil
	}
	return handOff(wrapped, logger)
}

// prepare runs the shared startup sequence: config, logging, validation
// gates, deprecation notices, and readiness verification.
func prepare(ctx context.Context) (*config.Config, zerolog.Logger, *readiness.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logging.Init(logging.Config{Debug: cfg.Debug})
	logger := logging.WithComponent("tlsprep")

	// Configuration gates run before anything touches the runtime or disk.
	if err := cfg.Validate(); err != nil {
		return nil, logger, nil, err
	}

	notice.EmitDeprecations(logger)

	cli, err := runtime.NewDockerClient(cfg.DockerHost)
	if err != nil {
		return nil, logger, nil, err
	}
	inspector := runtime.NewInspector(cli, logging.WithComponent("runtime"))

	verifier := readiness.NewVerifier(cfg, inspector, logging.WithComponent("readiness"))
	res, err := verifier.Verify(ctx)
	if err != nil {
		return nil, logger, nil, err
	}

	return cfg, logger, res, nil
}

// handOff replaces this process with the wrapped command. Nothing runs after
// a successful exec; the background worker lives in its own session.
func handOff(argv []string, logger zerolog.Logger) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("wrapped command %q: %w", argv[0], err)
	}
	logger.Info().Strs("argv", argv).Msg("handing off to proxy supervisor")
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
