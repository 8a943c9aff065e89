package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pintrainer/internal/domain"
)

const maxIncludeDepth = 10

// includeError tags every include failure with domain.ErrConfigLoad.
func includeError(format string, args ...any) error {
	return fmt.Errorf("config includes: %w: %s", domain.ErrConfigLoad, fmt.Sprintf(format, args...))
}

// processIncludes merges the files named by cfg.Includes into cfg. basePath
// is the directory of the file that declared them; visited holds absolute
// paths already merged.
func processIncludes(cfg *Config, basePath string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return includeError("max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	patterns := cfg.Includes
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, basePath)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return includeError("abs path %q: %v", p, err)
			}
			if visited[abs] {
				return includeError("circular include detected for %q", abs)
			}
			visited[abs] = true

			if err := mergeFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}

	// Cleared so the second unmarshal pass does not see stale entries.
	cfg.Includes = nil
	return nil
}

// resolveIncludePaths expands pattern relative to baseDir. Relative patterns
// may not climb out of baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, includeError("path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, includeError("glob %q: %v", pattern, err)
	}
	if len(matches) > 0 {
		return matches, nil
	}
	// A literal path is returned so mergeFile reports it missing; an empty
	// glob is fine.
	if !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	return nil, nil
}

// mergeFile overlays one YAML file onto cfg and follows its own includes.
func mergeFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return includeError("%v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return includeError("read %q: %v", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return includeError("parse %q: %v", path, err)
	}

	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth)
	}
	return nil
}
