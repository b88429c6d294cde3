package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// Layer declares one architectural layer: files matching any of
// IncludeGlobs belong to it, and it may not import from any layer named
// in DeniedToLayers.
type Layer struct {
	Name           string
	IncludeGlobs   []string
	DeniedToLayers []string
}

// ArchLayersConfig configures the `arch_layers` check.
type ArchLayersConfig struct {
	ID     string
	Layers []Layer
	// ImportPrefixToLayer maps a module-path prefix (e.g. "crate::infra",
	// "app/db") to the layer name it belongs to, so extracted imports can
	// be resolved to a target layer.
	ImportPrefixToLayer map[string]string
	IncludeGlobs        []string
	ExcludeGlobs        []string
}

// ArchLayersCheck implements the `arch_layers` kind: a layered-dependency
// edge that violates a from_layer -> denied_to_layers rule, or a cycle
// among declared layers, is a blocking finding.
type ArchLayersCheck struct {
	Cfg ArchLayersConfig
}

func (c *ArchLayersCheck) Kind() string { return "arch_layers" }

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`use\s+crate::([A-Za-z0-9_:]+)`),                     // Rust
	regexp.MustCompile(`(?:from|import)\s+([A-Za-z0-9_.]+)\s+import`),        // Python "from X import Y"
	regexp.MustCompile(`(?m)^import\s+([A-Za-z0-9_.]+)$`),                    // Python "import X"
	regexp.MustCompile(`import\s+.*\s+from\s+["']([^"']+)["']`),              // ES
	regexp.MustCompile(`require\(["']([^"']+)["']\)`),                        // ES/CJS
}

func extractImports(src string) []string {
	var out []string
	for _, re := range importPatterns {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

func layerForPath(layers []Layer, sets map[string]*globSet, path string) string {
	for _, l := range layers {
		if sets[l.Name].Match(path) {
			return l.Name
		}
	}
	return ""
}

func layerForImport(prefixMap map[string]string, imp string) string {
	best := ""
	bestLen := -1
	for prefix, layer := range prefixMap {
		if strings.HasPrefix(imp, prefix) && len(prefix) > bestLen {
			best = layer
			bestLen = len(prefix)
		}
	}
	return best
}

func (c *ArchLayersCheck) Run(repoRoot string) (Result, error) {
	includes, err := buildGlobSet(c.Cfg.IncludeGlobs)
	if err != nil {
		return Result{}, err
	}
	excludes, err := buildGlobSet(c.Cfg.ExcludeGlobs)
	if err != nil {
		return Result{}, err
	}

	layerSets := map[string]*globSet{}
	for _, l := range c.Cfg.Layers {
		gs, err := buildGlobSet(l.IncludeGlobs)
		if err != nil {
			return Result{}, err
		}
		layerSets[l.Name] = gs
	}

	edges := map[[2]string]bool{} // (from, to)
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

		fromLayer := layerForPath(c.Cfg.Layers, layerSets, rel)
		if fromLayer == "" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		filesScanned++

		for _, imp := range extractImports(string(data)) {
			toLayer := layerForImport(c.Cfg.ImportPrefixToLayer, imp)
			if toLayer == "" || toLayer == fromLayer {
				continue
			}
			edges[[2]string{fromLayer, toLayer}] = true
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	deniedSet := map[string]map[string]bool{}
	for _, l := range c.Cfg.Layers {
		deniedSet[l.Name] = map[string]bool{}
		for _, d := range l.DeniedToLayers {
			deniedSet[l.Name][d] = true
		}
	}

	var findings []gatetypes.Finding
	edgeKeys := make([][2]string, 0, len(edges))
	for e := range edges {
		edgeKeys = append(edgeKeys, e)
	}
	sort.Slice(edgeKeys, func(i, j int) bool {
		if edgeKeys[i][0] != edgeKeys[j][0] {
			return edgeKeys[i][0] < edgeKeys[j][0]
		}
		return edgeKeys[i][1] < edgeKeys[j][1]
	})

	adjacency := map[string][]string{}
	for _, e := range edgeKeys {
		from, to := e[0], e[1]
		adjacency[from] = append(adjacency[from], to)
		if deniedSet[from][to] {
			findings = append(findings, gatetypes.Blocking(
				"arch_layers.denied_edge",
				fmt.Sprintf("layer %s imports from denied layer %s", from, to),
				nil, map[string]interface{}{"from_layer": from, "to_layer": to},
			))
		}
	}

	if cyclePath := detectCycle(adjacency); cyclePath != nil {
		findings = append(findings, gatetypes.Blocking(
			"arch_layers.cycle_detected",
			fmt.Sprintf("dependency cycle detected among layers: %s", strings.Join(cyclePath, " -> ")),
			nil, map[string]interface{}{"cycle": cyclePath},
		))
	}

	return Result{
		Kind:          c.Kind(),
		FilesScanned:  filesScanned,
		FilesUniverse: filesUniverse,
		Metrics:       map[string]interface{}{"edges": len(edges)},
		Findings:      findings,
	}, nil
}

// detectCycle performs a recursive temporary/permanent-marker DFS over
// the layer adjacency map, returning the first cycle found (as a
// layer-name path) or nil. The walk is not iterative: each layer on the
// current path holds one stack frame of the recursive visit.
func detectCycle(adjacency map[string][]string) []string {
	const (
		unvisited = 0
		temp      = 1
		perm      = 2
	)
	state := map[string]int{}
	var path []string

	nodes := make([]string, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var visit func(n string) []string
	visit = func(n string) []string {
		state[n] = temp
		path = append(path, n)
		neighbors := append([]string(nil), adjacency[n]...)
		sort.Strings(neighbors)
		for _, next := range neighbors {
			switch state[next] {
			case temp:
				idx := indexOf(path, next)
				return append(append([]string(nil), path[idx:]...), next)
			case unvisited:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		state[n] = perm
		return nil
	}

	for _, n := range nodes {
		if state[n] == unvisited {
			if cyc := visit(n); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
