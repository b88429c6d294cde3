package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/ids"
)

// ReuseFirstConfig configures the `reuse_first` check.
type ReuseFirstConfig struct {
	ID            string
	MinBlockLines int
	IncludeGlobs  []string
	ExcludeGlobs  []string
}

// ReuseFirstCheck implements the `reuse_first` kind: function blocks of
// at least MinBlockLines lines are normalized and hashed; a fingerprint
// shared by two or more distinct files is a blocking finding.
type ReuseFirstCheck struct {
	Cfg ReuseFirstConfig
}

func (c *ReuseFirstCheck) Kind() string { return "reuse_first" }

var funcBlockPattern = regexp.MustCompile(`(?m)^[ \t]*(?:pub\s+|export\s+)?(?:async\s+)?(?:fn|func|function|def)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\([^)]*\)[^{:\n]*[{:]`)

// identPattern matches any identifier that looks like a function name
// reference, used to normalize out identifiers (including the
// definition's own name) during fingerprinting.
var identPattern = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)

// normalizeBlock implements the spec's normalization recipe: lower-case,
// replace function-name-shaped tokens with a placeholder, strip inline
// comments after // or #, then compact whitespace.
func normalizeBlock(block string) string {
	lower := strings.ToLower(block)

	var sb strings.Builder
	for _, line := range strings.Split(lower, "\n") {
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	stripped := sb.String()

	placeholder := identPattern.ReplaceAllString(stripped, "_ident_")

	fields := strings.Fields(placeholder)
	return strings.Join(fields, " ")
}

// extractFuncBlocks returns each brace-or-indent-delimited function block
// in src with at least minLines non-empty lines, using brace-balance to
// find the extent for brace languages. Blocks are extracted on a
// best-effort basis; this is a lexical approximation, not a parser.
func extractFuncBlocks(src string, minLines int) []string {
	var blocks []string
	locs := funcBlockPattern.FindAllStringIndex(src, -1)
	for _, loc := range locs {
		start := loc[0]
		header := src[loc[1]-1:]
		if nl := strings.IndexByte(header, '\n'); nl >= 0 {
			header = header[:nl]
		}
		braceStart := strings.IndexByte(header, '{')
		if braceStart < 0 {
			// Not a brace-delimited block (e.g. Python def); take the next
			// 40 lines as a bounded approximation.
			lines := strings.Split(src[start:], "\n")
			end := len(lines)
			if end > 40 {
				end = 40
			}
			block := strings.Join(lines[:end], "\n")
			if countNonEmptyLines([]byte(block)) >= minLines {
				blocks = append(blocks, block)
			}
			continue
		}
		bodyStart := loc[1] - 1 + braceStart
		depth := 0
		end := bodyStart
		for i := bodyStart; i < len(src); i++ {
			switch src[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i + 1
					goto done
				}
			}
		}
		end = len(src)
	done:
		block := src[start:end]
		if countNonEmptyLines([]byte(block)) >= minLines {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func (c *ReuseFirstCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	type occurrence struct {
		path string
	}
	byFingerprint := map[string][]occurrence{}
	filesScanned, filesUniverse := 0, 0

	err = filepath.Walk(repoRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(repoRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if excludes.Match(rel) || !includes.Match(rel) {
			return nil
		}
		filesUniverse++

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		filesScanned++

		for _, block := range extractFuncBlocks(string(data), c.Cfg.MinBlockLines) {
			fp := ids.Sha256HexString(normalizeBlock(block))
			byFingerprint[fp] = append(byFingerprint[fp], occurrence{path: rel})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	fps := make([]string, 0, len(byFingerprint))
	for fp := range byFingerprint {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	var findings []gatetypes.Finding
	for _, fp := range fps {
		occs := byFingerprint[fp]
		distinct := map[string]bool{}
		for _, o := range occs {
			distinct[o.path] = true
		}
		if len(distinct) < 2 {
			continue
		}
		paths := make([]string, 0, len(distinct))
		for p := range distinct {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		findings = append(findings, gatetypes.Blocking(
			"reuse_first.duplicate_block",
			fmt.Sprintf("%d files contain an identical normalized function block (fingerprint=%s)", len(paths), fp[:12]),
			gatetypes.StrPtr(paths[0]),
			map[string]interface{}{"paths": paths, "fingerprint": fp},
		))
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{"fingerprints": len(byFingerprint)},
		Findings:      findings,
	}, nil
}
