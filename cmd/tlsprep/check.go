package main

import (
	"github.com/spf13/cobra"
)

// checkCmd runs the validation and readiness gates without provisioning
// anything. Useful for debugging a broken deployment.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the runtime environment and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, res, err := prepare(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info().
			Str("self", res.SelfID).
			Str("proxy", res.Proxy.Name).
			Bool("renderer_bundled", res.RendererBundled).
			Msg("environment ready")
		return nil
	},
}
