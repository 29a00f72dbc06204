// Package registry loads the per-test requirements manifest: which external
// resources a test needs and which timeout overrides apply.
package registry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// Requirement describes what one test needs before it may run. Package, when
// set, scopes the test invocation to that Go package instead of the whole
// module tree; it may be an import path inside the module or a ./-relative
// directory.
type Requirement struct {
	Name      string         `yaml:"name"`
	Package   string         `yaml:"package,omitempty"`
	Resources []string       `yaml:"resources,omitempty"`
	Timeout   *time.Duration `yaml:"timeout,omitempty"`
}

// Manifest is the on-disk shape of the requirements file.
type Manifest struct {
	Defaults struct {
		Timeout *time.Duration `yaml:"timeout,omitempty"`
	} `yaml:"defaults"`
	Tests []Requirement `yaml:"tests"`
}

// Registry resolves per-test requirements. Tests absent from the manifest
// need no resources and use the run-wide timeout.
type Registry struct {
	config Config
	byName map[string]Requirement
	mu     sync.RWMutex
}

// Config contains registry configuration.
type Config struct {
	Log          log.Logger
	ManifestFile string
}

// NewRegistry loads the manifest at cfg.ManifestFile. An empty path yields
// an empty registry: every test is unconstrained.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	r := &Registry{
		config: cfg,
		byName: make(map[string]Requirement),
	}
	if cfg.ManifestFile == "" {
		return r, nil
	}
	if err := r.load(cfg.ManifestFile); err != nil {
		return nil, fmt.Errorf("failed to load requirements manifest: %w", err)
	}
	cfg.Log.Debug("Registry loaded", "manifest", cfg.ManifestFile, "tests", len(r.byName))
	return r, nil
}

func (r *Registry) load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for _, req := range manifest.Tests {
		if req.Name == "" {
			return fmt.Errorf("manifest entry with empty test name")
		}
		if _, dup := r.byName[req.Name]; dup {
			return fmt.Errorf("duplicate manifest entry for test %q", req.Name)
		}
		if req.Timeout == nil {
			req.Timeout = manifest.Defaults.Timeout
		}
		r.byName[req.Name] = req
	}
	return nil
}

// Requirements returns the requirement entry for a test, or a zero entry
// when the test is not in the manifest.
func (r *Registry) Requirements(name string) Requirement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if req, ok := r.byName[name]; ok {
		return req
	}
	return Requirement{Name: name}
}

// MissingResource returns the first resource the test requires that is not
// in the enabled set, or "" when all requirements are met.
func (r *Registry) MissingResource(name string, enabled func(string) bool) string {
	req := r.Requirements(name)
	for _, resource := range req.Resources {
		if !enabled(resource) {
			return resource
		}
	}
	return ""
}
