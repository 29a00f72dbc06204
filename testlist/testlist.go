// Package testlist discovers test function names from a filesystem tree of
// Go test files. Discovery is deterministic for a fixed tree: files are
// walked in sorted order and names are reported in declaration order.
package testlist

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// Discoverer finds test functions under a root directory.
type Discoverer struct {
	root string
}

// NewDiscoverer returns a discoverer rooted at dir.
func NewDiscoverer(dir string) *Discoverer {
	return &Discoverer{root: dir}
}

// Discover returns the ordered universe of test names under the root, minus
// the exclude set.
func (d *Discoverer) Discover(exclude map[string]struct{}) ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			// Skip hidden and vendored trees.
			name := entry.Name()
			if path != d.root && (strings.HasPrefix(name, ".") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(entry.Name(), "_test.go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk test directory %s: %w", d.root, err)
	}
	sort.Strings(files)

	var tests []string
	seen := make(map[string]struct{})
	fset := token.NewFileSet()
	for _, file := range files {
		names, err := testFunctionsInFile(fset, file)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if _, excluded := exclude[name]; excluded {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			tests = append(tests, name)
		}
	}
	return tests, nil
}

func testFunctionsInFile(fset *token.FileSet, path string) ([]string, error) {
	f, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var names []string
	for _, decl := range f.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		// Test functions start with "Test"; TestMain is the harness, not a test.
		if strings.HasPrefix(funcDecl.Name.Name, "Test") && funcDecl.Name.Name != "TestMain" {
			names = append(names, funcDecl.Name.Name)
		}
	}
	return names, nil
}

// ResolvePackageDir maps an import path inside the module at workingDir to
// its directory, by parsing go.mod. Paths already relative (./...) are used
// as-is.
func ResolvePackageDir(pkgPath, workingDir string) (string, error) {
	if strings.HasPrefix(pkgPath, "./") {
		return filepath.Join(workingDir, strings.TrimPrefix(pkgPath, "./")), nil
	}

	goModPath := filepath.Join(workingDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}

	moduleName := modFile.Module.Mod.Path
	if moduleName == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	if !strings.HasPrefix(pkgPath, moduleName) {
		return "", fmt.Errorf("package %s is not in module %s", pkgPath, moduleName)
	}

	relPath := strings.TrimPrefix(pkgPath, moduleName)
	if relPath == "" {
		relPath = "."
	}
	return filepath.Join(workingDir, relPath), nil
}
