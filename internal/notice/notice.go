// Package notice emits advisory diagnostics for obsolete configuration
// inputs. Advisory only: nothing here affects control flow or exit status.
package notice

import (
	"os"

	"github.com/rs/zerolog"
)

// deprecations maps known-deprecated environment inputs to their advisory
// text. Retiring another input is a new entry here, nothing more.
var deprecations = map[string]string{
	"ACME_TOS_HASH": "terms-of-service agreement is now part of the account registration flow; this variable is ignored",
}

// EmitDeprecations logs one warning per deprecated input present in the
// environment.
func EmitDeprecations(logger zerolog.Logger) {
	for key, advisory := range deprecations {
		if _, ok := os.LookupEnv(key); ok {
			logger.Warn().Str("variable", key).Msgf("deprecated: %s", advisory)
		}
	}
}
