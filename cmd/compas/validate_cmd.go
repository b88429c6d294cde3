package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/compas-dev/compas/pkg/judge"
	"github.com/compas-dev/compas/pkg/validator"
)

// runValidateCmd implements `compas validate` per spec §6.4.
//
// Exit codes:
//
//	0 = validate passed (or mode=warn)
//	1 = validate failed (blocked/retryable)
//	2 = argument or config-load error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		repoRoot          string
		mode              string
		writeBaseline     bool
		maintenanceReason string
		maintenanceOwner  string
		jsonOutput        bool
	)

	cmd.StringVar(&repoRoot, "repo-root", "", "Repository root (default: $AI_DX_REPO_ROOT or cwd)")
	cmd.StringVar(&mode, "mode", "ratchet", "Validate mode: ratchet|warn")
	cmd.BoolVar(&writeBaseline, "write-baseline", false, "Write the current snapshot as the new baseline")
	cmd.StringVar(&maintenanceReason, "maintenance-reason", "", "Reason required when --write-baseline is set")
	cmd.StringVar(&maintenanceOwner, "maintenance-owner", "", "Owner required when --write-baseline is set")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	out, err := validator.Run(validator.Options{
		RepoRoot:          repoRootOrDefault(repoRoot),
		Mode:              judge.ValidateMode(mode),
		WriteBaseline:     writeBaseline,
		MaintenanceReason: maintenanceReason,
		MaintenanceOwner:  maintenanceOwner,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: validate failed to run: %v\n", err)
		return 2
	}

	if out.Error != nil {
		if jsonOutput {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(out)
		} else {
			fmt.Fprintf(stderr, "Error [%s]: %s\n", out.Error.Code, out.Error.Message)
		}
		return 2
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "Error: cannot encode result: %v\n", err)
			return 2
		}
	} else {
		printValidateSummary(stdout, out)
	}

	if !out.OK {
		return 1
	}
	return 0
}

func printValidateSummary(w io.Writer, out validator.Output) {
	status := "PASS"
	color := ColorGreen
	if !out.OK {
		status = string(out.Verdict.Decision.Status)
		color = "\033[31m"
	}
	fmt.Fprintf(w, "%s%s%s  mode=%s  blocking=%d  observation=%d\n",
		color, status, ColorReset, out.Mode,
		out.Verdict.Decision.BlockingCount, out.Verdict.Decision.ObservationCount)
	if len(out.AgentDigest.TopBlockers) > 0 {
		fmt.Fprintln(w, "top blockers:")
		for _, code := range out.AgentDigest.TopBlockers {
			fmt.Fprintf(w, "  - %s\n", code)
		}
	}
}
