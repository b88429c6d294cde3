package checks

import (
	"fmt"
	"sort"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// EnvVarSpec is one registered environment variable, as declared in a
// plugin's manifest.
type EnvVarSpec struct {
	Name        string
	Description string
	Required    bool
	Default     string
	Sensitive   bool
	HasValue    bool   // true if os.Getenv(Name) or Default resolves to a non-empty value
	Source      string // "env", "default", or "unset"
	Value       string // resolved value, empty when Source is "unset"
}

// EnvRegistryConfig configures the `env_registry` check.
type EnvRegistryConfig struct {
	ID            string
	Registry      map[string]EnvVarSpec // declared vars by name
	ReferencedBy  map[string][]string   // env var name -> tool IDs referencing it
}

// EnvRegistryCheck implements the `env_registry` kind: a tool referencing
// an env var absent from the registry, or a required var with no
// resolvable value, produces an observation finding.
type EnvRegistryCheck struct {
	Cfg EnvRegistryConfig
}

func (c *EnvRegistryCheck) Kind() string { return "env_registry" }

func (c *EnvRegistryCheck) Run(repoRoot string) (Result, error) {
	var findings []gatetypes.Finding

	refNames := make([]string, 0, len(c.Cfg.ReferencedBy))
	for name := range c.Cfg.ReferencedBy {
		refNames = append(refNames, name)
	}
	sort.Strings(refNames)

	for _, name := range refNames {
		tools := c.Cfg.ReferencedBy[name]
		spec, known := c.Cfg.Registry[name]
		if !known {
			findings = append(findings, gatetypes.Observation(
				"env_registry.unregistered_var",
				fmt.Sprintf("env var %s referenced by %v but not declared in the registry", name, tools),
				nil, map[string]interface{}{"var": name, "used_by_tools": tools},
			))
			continue
		}
		if spec.Required && !spec.HasValue && spec.Default == "" {
			findings = append(findings, gatetypes.Observation(
				"env_registry.required_var_unset",
				fmt.Sprintf("required env var %s has no value and no default", name),
				nil, map[string]interface{}{"var": name},
			))
		}
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  len(c.Cfg.Registry),
		FilesUniverse: len(c.Cfg.Registry),
		Metrics:       map[string]interface{}{"registered_vars": len(c.Cfg.Registry)},
		Findings:      findings,
	}, nil
}
