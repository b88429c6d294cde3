package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gate"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/jobstore"
	"github.com/compas-dev/compas/pkg/judge"
	"github.com/compas-dev/compas/pkg/validator"
)

// runGateCmd implements `compas gate` per spec §6.4 and the gate
// orchestrator's validate precondition (§4.9 step 0).
//
// Exit codes:
//
//	0 = gate passed
//	1 = gate blocked or retryable
//	2 = argument or config-load error
func runGateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		repoRoot       string
		kind           string
		dryRun         bool
		requireWitness bool
		async          bool
		waitMs         int64
		jsonOutput     bool
	)

	cmd.StringVar(&repoRoot, "repo-root", "", "Repository root (default: $AI_DX_REPO_ROOT or cwd)")
	cmd.StringVar(&kind, "kind", "ci_fast", "Gate sequence: ci_fast|ci|flagship")
	cmd.BoolVar(&dryRun, "dry-run", false, "Do not execute tools; synthesize success receipts")
	cmd.BoolVar(&requireWitness, "require-witness", envBool("AI_DX_WRITE_WITNESS"), "Write a witness record for this run")
	cmd.BoolVar(&async, "async", false, "Start the gate as a background job and print the job record")
	cmd.Int64Var(&waitMs, "wait-ms", 0, "With --async, poll status for up to this long before returning")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	root := repoRootOrDefault(repoRoot)
	cfg, err := config.Load(root)
	if err != nil {
		fmt.Fprintf(stderr, "Error: config load failed: %v\n", err)
		return 2
	}

	vOut, err := validator.Run(validator.Options{RepoRoot: root, Mode: judge.ModeRatchet})
	if err != nil {
		fmt.Fprintf(stderr, "Error: validate failed to run: %v\n", err)
		return 2
	}

	opts := gate.Options{
		RepoRoot:       root,
		Kind:           gate.Kind(kind),
		DryRun:         dryRun,
		RequireWitness: requireWitness,
		Git:            gate.DefaultGitRunner(root),
	}

	if async {
		rec, err := jobstore.Start(root, kind, func(ctx context.Context) (gate.Output, error) {
			return gate.Run(ctx, cfg, vOut.OK, opts)
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: could not start job: %v\n", err)
			return 2
		}
		if waitMs > 0 {
			if polled, err := jobstore.Status(root, rec.JobID, waitMs); err == nil && polled != nil {
				rec = *polled
			}
		}
		emitJSONOrLine(stdout, jsonOutput, rec, fmt.Sprintf("job=%s status=%s", rec.JobID, rec.Status))
		if rec.Status == jobstore.StatusFailed {
			return 1
		}
		return 0
	}

	out, err := gate.Run(context.Background(), cfg, vOut.OK, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: gate run failed: %v\n", err)
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
		printGateSummary(stdout, out)
	}

	if out.Decision.Status != gatetypes.StatusPass {
		return 1
	}
	return 0
}

func emitJSONOrLine(w io.Writer, jsonOutput bool, v interface{}, line string) {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Fprintln(w, line)
}

func printGateSummary(w io.Writer, out gate.Output) {
	color := ColorGreen
	if out.Decision.Status != gatetypes.StatusPass {
		color = "\033[31m"
	}
	fmt.Fprintf(w, "%s%s%s  kind=%s  blocking=%d  observation=%d  receipts=%d\n",
		color, out.Decision.Status, ColorReset, out.Kind,
		out.Decision.BlockingCount, out.Decision.ObservationCount, len(out.Receipts))
}
