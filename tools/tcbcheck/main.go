// Package main implements a layering linter for this module's leaf
// packages.
//
// pkg/gatetypes, pkg/ids, and pkg/canonicalize form the dependency floor
// every other package builds on: wire types, ID/hash helpers, and
// canonical-JSON encoding. Nothing in that floor may import upward into
// a package that itself depends on the floor, or the dependency graph
// stops being a DAG rooted there. This is the same shape of check as the
// teacher's own TCB import linter, narrowed from HELM's kernel-boundary
// packages to this module's leaf packages.
//
// Usage:
//
//	go run tools/tcbcheck/main.go [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

// leafPackages may import, from within modulePrefix, only packages on
// this list; imports from outside the module are not checked.
var leafPackages = []string{
	"pkg/gatetypes",
	"pkg/ids",
	"pkg/canonicalize",
}

const modulePrefix = "github.com/compas-dev/compas/"

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()

	allowed := map[string]bool{}
	for _, p := range leafPackages {
		allowed[modulePrefix+p] = true
	}

	violations := 0
	fset := token.NewFileSet()

	for _, leaf := range leafPackages {
		dir := filepath.Join(*root, filepath.FromSlash(leaf))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "WARN: %s does not exist, skipping\n", dir)
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: read %s: %v\n", dir, err)
			os.Exit(1)
		}

		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			path := filepath.Join(dir, name)
			f, parseErr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if parseErr != nil {
				fmt.Fprintf(os.Stderr, "WARN: parse error in %s: %v\n", path, parseErr)
				continue
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				if !strings.HasPrefix(importPath, modulePrefix) {
					continue
				}
				if allowed[importPath] {
					continue
				}
				pos := fset.Position(imp.Pos())
				relPath, _ := filepath.Rel(*root, pos.Filename)
				fmt.Printf("LAYERING VIOLATION: %s:%d (leaf package %s) imports %q\n", relPath, pos.Line, leaf, importPath)
				violations++
			}
		}
	}

	if violations > 0 {
		fmt.Printf("\n%d layering violation(s) found\n", violations)
		os.Exit(1)
	}

	fmt.Println("layering check passed: leaf packages import nothing above them")
}
