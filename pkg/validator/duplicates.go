package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// toolSignature is the exact normalized identity of a tool's invocation:
// command plus its argument vector, case-folded and whitespace-trimmed.
// Two tools sharing a signature run the literal same command.
func toolSignature(t config.ProjectTool) string {
	parts := make([]string, 0, len(t.Args)+1)
	parts = append(parts, strings.ToLower(strings.TrimSpace(t.Command)))
	for _, a := range t.Args {
		parts = append(parts, strings.ToLower(strings.TrimSpace(a)))
	}
	return strings.Join(parts, "\x00")
}

func normalizedCommand(t config.ProjectTool) string {
	return strings.ToLower(strings.TrimSpace(t.Command))
}

func normalizedDescription(t config.ProjectTool) string {
	return strings.ToLower(strings.TrimSpace(t.Description))
}

// DetectToolDuplicates finds tools that are exact or semantic duplicates
// of one another: an exact normalized signature match is blocking (the
// same command literally runs twice under different names), a shared
// command+description with a different argument vector is an
// observation (likely duplicated intent, not necessarily wrong).
func DetectToolDuplicates(tools map[string]config.ProjectTool) []gatetypes.Finding {
	ids := make([]string, 0, len(tools))
	for id := range tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var findings []gatetypes.Finding
	seenExact := map[string]bool{}
	seenSemantic := map[string]bool{}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := tools[ids[i]], tools[ids[j]]

			if toolSignature(a) == toolSignature(b) {
				key := ids[i] + "|" + ids[j]
				if !seenExact[key] {
					seenExact[key] = true
					findings = append(findings, gatetypes.Blocking(
						"tools.duplicate_exact",
						fmt.Sprintf("tool %s and tool %s invoke the exact same command and arguments", ids[i], ids[j]),
						nil, map[string]interface{}{"tool_a": ids[i], "tool_b": ids[j]},
					))
				}
				continue
			}

			if normalizedCommand(a) == normalizedCommand(b) && normalizedDescription(a) == normalizedDescription(b) {
				key := ids[i] + "|" + ids[j]
				if !seenSemantic[key] {
					seenSemantic[key] = true
					findings = append(findings, gatetypes.Observation(
						"tools.duplicate_semantic",
						fmt.Sprintf("tool %s and tool %s share a command and description but differ in arguments", ids[i], ids[j]),
						nil, map[string]interface{}{"tool_a": ids[i], "tool_b": ids[j]},
					))
				}
			}
		}
	}

	return findings
}
