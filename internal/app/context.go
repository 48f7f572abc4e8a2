package app

import (
	"fmt"
	"strings"

	"vita/internal/config"
)

// ResolveConfig picks the active configuration. An explicit path wins, then vita.yml in the
// workspace; when neither exists the defaults are used.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
