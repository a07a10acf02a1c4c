package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxIncludeDepth bounds chains such as secrets.yaml including a
// per-environment override.
const maxIncludeDepth = 4

var errIncludeEscape = errors.New("escapes config directory")

// includer overlays included YAML files onto one Config. chain is the
// current include path from the main file, used for cycle detection and
// error messages.
type includer struct {
	cfg   *Config
	chain []string
}

// processIncludes merges every file named by cfg.Includes into cfg, in
// order. Relative patterns resolve against the directory of mainPath and may
// not leave it.
func processIncludes(cfg *Config, mainPath string) error {
	inc := &includer{cfg: cfg, chain: []string{mainPath}}
	return inc.apply(filepath.Dir(mainPath))
}

func (inc *includer) apply(baseDir string) error {
	patterns := inc.cfg.Includes
	inc.cfg.Includes = nil
	for _, pat := range patterns {
		files, err := resolveInclude(baseDir, pat)
		if err != nil {
			return fmt.Errorf("config includes: %q: %w", pat, err)
		}
		for _, f := range files {
			if err := inc.merge(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (inc *includer) merge(path string) error {
	for _, open := range inc.chain {
		if open == path {
			names := make([]string, 0, len(inc.chain)+1)
			for _, c := range append(inc.chain, path) {
				names = append(names, filepath.Base(c))
			}
			return fmt.Errorf("config includes: circular include %s", strings.Join(names, " -> "))
		}
	}
	if len(inc.chain) > maxIncludeDepth {
		return fmt.Errorf("config includes: nested deeper than %d", maxIncludeDepth)
	}

	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	if err := yaml.Unmarshal(raw, inc.cfg); err != nil {
		return fmt.Errorf("config includes: %s: %w", filepath.Base(path), err)
	}

	inc.chain = append(inc.chain, path)
	defer func() { inc.chain = inc.chain[:len(inc.chain)-1] }()
	return inc.apply(filepath.Dir(path))
}

// resolveInclude turns pattern into absolute file paths under baseDir. An
// unmatched glob yields nothing; an unmatched literal is kept so the read
// reports it missing.
func resolveInclude(baseDir, pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(baseDir, full)
	}
	full, err := filepath.Abs(full)
	if err != nil {
		return nil, err
	}
	if rel, err := filepath.Rel(baseDir, full); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errIncludeEscape
	}

	if !strings.ContainsAny(full, "*?[") {
		return []string{full}, nil
	}
	return filepath.Glob(full)
}
