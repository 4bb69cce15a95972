package profile

import (
	"fmt"
	"os"

	"github.com/auditup/authgate/internal/config"
	"gopkg.in/yaml.v3"
)

// defaultLandings maps backend roles to their landing routes. RSSI users
// belong to the client category alongside plain clients.
var defaultLandings = map[string]string{
	"RSSI":        "/client/dashboard",
	"CLIENT":      "/client/dashboard",
	"ADMIN":       "/admin/dashboard",
	"SUPER_ADMIN": "/admin/dashboard",
	"AUDITOR":     "/auditor/dashboard",
}

const fallbackLanding = "/dashboard"

// Router maps a resolved role to its initial landing route. Landing is a
// pure function of the role field.
type Router struct {
	landings map[string]string
}

// NewRouter builds a Router from the built-in defaults, overlaid with the
// optional YAML mapping file from the configuration.
func NewRouter(cfg *config.RoutesConfig) (*Router, error) {
	landings := make(map[string]string, len(defaultLandings))
	for role, route := range defaultLandings {
		landings[role] = route
	}

	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read routes file %s: %w", cfg.File, err)
		}
		var overrides map[string]string
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("failed to parse routes file %s: %w", cfg.File, err)
		}
		for role, route := range overrides {
			landings[role] = route
		}
	}

	return &Router{landings: landings}, nil
}

// Landing returns the landing route for a role.
func (r *Router) Landing(role string) string {
	if route, ok := r.landings[role]; ok {
		return route
	}
	return fallbackLanding
}
