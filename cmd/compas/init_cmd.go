package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// runInitCmd implements `compas init`: scaffolds the minimal
// .agents/mcp/compas/ config directory (spec §6.1) a repo needs before
// validate/gate can run. It writes only static boilerplate — pack
// download/registry install is out of scope (spec's on-disk layout marks
// packs/ as "an external collaborator... out of scope"). Grounded on the
// teacher's own runInitCmd: create directories, write files only if
// absent, never overwrite.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var repoRoot string
	cmd.StringVar(&repoRoot, "repo-root", "", "Repository root (default: $AI_DX_REPO_ROOT or cwd)")
	cmd.StringVar(&repoRoot, "dir", "", "Alias for --repo-root")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	root := repoRootOrDefault(repoRoot)

	base := filepath.Join(root, ".agents", "mcp", "compas")
	dirs := []string{
		filepath.Join(base, "plugins", "local"),
		filepath.Join(base, "baselines"),
		filepath.Join(base, "witness"),
		filepath.Join(base, "state", "jobs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			fmt.Fprintf(stderr, "Error: cannot create %s: %v\n", d, err)
			return 2
		}
	}

	pluginPath := filepath.Join(base, "plugins", "local", "plugin.toml")
	if _, err := os.Stat(pluginPath); os.IsNotExist(err) {
		contents := `[plugin]
id = "local"
description = "Repository-local checks and tools"

[tool_policy]
mode = "allowlist"

[checks]

  [[checks.loc]]
  id = "loc-default"
  max_loc = 400
  include_globs = ["**/*.go"]
  exclude_globs = ["**/*_test.go"]
`
		if err := os.WriteFile(pluginPath, []byte(contents), 0o640); err != nil {
			fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", pluginPath, err)
			return 2
		}
	}

	contractPath := filepath.Join(base, "quality_contract.toml")
	if _, err := os.Stat(contractPath); os.IsNotExist(err) {
		contents := `# See the compas documentation for every available field; unset fields
# fall back to the built-in defaults.

[governance]
mandatory_checks = ["loc"]
min_failure_modes = 8
`
		if err := os.WriteFile(contractPath, []byte(contents), 0o640); err != nil {
			fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", contractPath, err)
			return 2
		}
	}

	fmt.Fprintf(stdout, "Initialized compas config in %s\n", base)
	return 0
}
