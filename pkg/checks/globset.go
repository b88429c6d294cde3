package checks

import (
	"fmt"

	"github.com/gobwas/glob"
)

// globSet is a small include/exclude glob matcher, the Go analogue of the
// original engine's GlobSetBuilder: a path matches the set if it matches
// ANY of the compiled patterns.
type globSet struct {
	globs []glob.Glob
}

func buildGlobSet(patterns []string) (*globSet, error) {
	gs := &globSet{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", p, err)
		}
		gs.globs = append(gs.globs, g)
	}
	return gs, nil
}

func (g *globSet) Match(path string) bool {
	for _, gl := range g.globs {
		if gl.Match(path) {
			return true
		}
	}
	return false
}
