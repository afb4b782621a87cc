package config

import (
	"os"
	"regexp"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in raw config text with values from
// the process environment. Unset variables expand to the empty string so a
// missing override falls through to defaults instead of leaving the literal
// placeholder in a path.
func expandEnv(raw string) string {
	return envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
