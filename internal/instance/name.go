package instance

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/flashd/internal/config"
)

// DefaultName is the instance used when nothing else selects one.
const DefaultName = "main"

// EnvName selects the instance when no flag is given.
const EnvName = "FLASHD_INSTANCE"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Resolve picks the instance name, first match wins: the --instance flag,
// $FLASHD_INSTANCE, default_instance from the global config, "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvName); env != "" {
		return env
	}
	if g, err := config.LoadGlobal(GlobalConfigPath()); err == nil && g.DefaultInstance != "" {
		return g.DefaultInstance
	}
	return DefaultName
}

// ValidateName rejects names that are unsafe as a directory name under
// BaseDir.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: use 1-64 of a-z 0-9 _ -", name)
	}
	return nil
}
