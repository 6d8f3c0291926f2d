package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tlsprep/internal/config"
	"tlsprep/internal/dhparam"
	"tlsprep/internal/logging"
	"tlsprep/internal/runtime"
)

var generateBits int

// generateCmd is the detached background worker. Hidden: it is spawned by the
// provisioner, not by operators.
var generateCmd = &cobra.Command{
	Use:    "generate",
	Short:  "Generate DH parameters and reload the proxy (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd.Context())
	},
}

func init() {
	generateCmd.Flags().IntVar(&generateBits, "bits", 2048, "DH parameter bit-length")
}

func runGenerate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Debug: cfg.Debug})
	logger := logging.WithComponent("dhparam-worker")

	if generateBits <= 0 {
		return fmt.Errorf("invalid --bits %d", generateBits)
	}

	reloader := buildReloader(ctx, cfg, logger)

	worker := dhparam.NewWorker(
		cfg.Paths,
		generateBits,
		dhparam.OpenSSLGenerator{},
		reloader,
		logger,
	)
	return worker.Run(ctx)
}

// buildReloader resolves the proxy container for the post-generation reload.
// An unresolvable proxy does not stop generation: the parameters are still
// worth having, the reload is just skipped.
func buildReloader(ctx context.Context, cfg *config.Config, logger zerolog.Logger) dhparam.Reloader {
	cli, err := runtime.NewDockerClient(cfg.DockerHost)
	if err != nil {
		logger.Warn().Err(err).Msg("no runtime client, proxy reload will be skipped")
		return noopReloader{logger}
	}
	inspector := runtime.NewInspector(cli, logging.WithComponent("runtime"))
	proxy, ok, err := inspector.FindProxy(ctx, cfg.ProxyContainer)
	if err != nil || !ok {
		logger.Warn().Err(err).Msg("proxy container unresolved, reload will be skipped")
		return noopReloader{logger}
	}
	return dhparam.NewProxyReloader(cli, proxy.ID, logger)
}

type noopReloader struct {
	logger zerolog.Logger
}

func (n noopReloader) Reload(context.Context) error {
	n.logger.Warn().Msg("skipping proxy reload, no proxy container resolved")
	return nil
}
