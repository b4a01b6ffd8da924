// Package discovery turns feed manifests into descriptors. Strategies
// are pluggable: explicit manifest files, directory scans, and an
// environment-variable path list all produce the same result shape.
//
// Discovery is resilient by contract: one malformed manifest never
// aborts the run. Valid feeds are returned alongside per-item errors
// for the rest.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ezbot/feedd/config"
	"github.com/ezbot/feedd/internal/errors"
	"github.com/ezbot/feedd/internal/feed"
	"github.com/ezbot/feedd/internal/logging"
)

// =============================================================================
// Strategy
// =============================================================================

// Strategy produces feed descriptors from some source. Malformed
// entries are reported per item; the error return is reserved for
// failures that invalidate the whole run (an unreadable source).
type Strategy interface {
	Discover(ctx context.Context) ([]feed.Descriptor, []errors.ItemError, error)
}

// New constructs the strategy named by cfg.Strategy.
func New(cfg config.DiscoveryConfig) (Strategy, error) {
	switch cfg.Strategy {
	case "manifest", "":
		return &ManifestStrategy{Paths: cfg.Paths}, nil
	case "dir":
		return &DirStrategy{Dirs: cfg.Paths}, nil
	case "env":
		return &EnvStrategy{Var: cfg.EnvVar}, nil
	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", cfg.Strategy)
	}
}

// =============================================================================
// Manifest Format
// =============================================================================

// manifestFile is the YAML layout of one manifest. A file may declare
// any number of feeds.
type manifestFile struct {
	Feeds []manifestFeed `yaml:"feeds"`
}

type manifestFeed struct {
	Name      string            `yaml:"name"`
	Class     string            `yaml:"class"`
	Priority  string            `yaml:"priority"`
	Adapter   string            `yaml:"adapter"`
	Stagger   time.Duration     `yaml:"stagger"`
	Freshness time.Duration     `yaml:"freshness"`
	Params    map[string]string `yaml:"params"`
}

func (m *manifestFeed) descriptor() (feed.Descriptor, error) {
	class, err := feed.ParseClass(m.Class)
	if err != nil {
		return feed.Descriptor{}, err
	}
	priority, err := feed.ParsePriority(m.Priority)
	if err != nil {
		return feed.Descriptor{}, err
	}

	d := feed.Descriptor{
		Name:      m.Name,
		Class:     class,
		Priority:  priority,
		Adapter:   m.Adapter,
		Stagger:   m.Stagger,
		Freshness: m.Freshness,
		Params:    m.Params,
	}
	if err := d.Validate(); err != nil {
		return feed.Descriptor{}, err
	}
	return d, nil
}

// parseManifest reads one manifest file, expanding ${VAR} references
// from the environment so credentials stay out of manifests.
func parseManifest(path string) ([]feed.Descriptor, []errors.ItemError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &mf); err != nil {
		return nil, nil, errors.Wrapf(errors.ErrInvalidManifest, "%s: %v", path, err)
	}

	var (
		descs []feed.Descriptor
		items []errors.ItemError
	)
	for i := range mf.Feeds {
		d, err := mf.Feeds[i].descriptor()
		if err != nil {
			name := mf.Feeds[i].Name
			if name == "" {
				name = fmt.Sprintf("%s#%d", filepath.Base(path), i)
			}
			items = append(items, errors.ItemError{Name: name, Reason: err.Error()})
			continue
		}
		descs = append(descs, d)
	}
	return descs, items, nil
}

// =============================================================================
// Strategies
// =============================================================================

// ManifestStrategy reads explicit manifest files.
type ManifestStrategy struct {
	Paths []string
}

func (s *ManifestStrategy) Discover(ctx context.Context) ([]feed.Descriptor, []errors.ItemError, error) {
	return discoverFiles(ctx, s.Paths)
}

// DirStrategy scans directories for *.yaml and *.yml manifests.
type DirStrategy struct {
	Dirs []string
}

func (s *DirStrategy) Discover(ctx context.Context) ([]feed.Descriptor, []errors.ItemError, error) {
	var paths []string
	for _, dir := range s.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch filepath.Ext(e.Name()) {
			case ".yaml", ".yml":
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(paths)
	return discoverFiles(ctx, paths)
}

// EnvStrategy reads a comma-separated list of manifest paths from one
// environment variable.
type EnvStrategy struct {
	Var string
}

func (s *EnvStrategy) Discover(ctx context.Context) ([]feed.Descriptor, []errors.ItemError, error) {
	if s.Var == "" {
		return nil, nil, fmt.Errorf("env strategy: no variable configured")
	}
	raw := os.Getenv(s.Var)
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return discoverFiles(ctx, paths)
}

// discoverFiles parses each manifest, folding unreadable or
// unparseable files into per-item errors so one bad file cannot sink
// the rest.
func discoverFiles(ctx context.Context, paths []string) ([]feed.Descriptor, []errors.ItemError, error) {
	log := logging.Component("discovery")

	var (
		descs []feed.Descriptor
		items []errors.ItemError
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return descs, items, err
		}
		d, it, err := parseManifest(path)
		if err != nil {
			items = append(items, errors.ItemError{Name: path, Reason: err.Error()})
			log.Warn("manifest skipped", "path", path, "error", err)
			continue
		}
		descs = append(descs, d...)
		items = append(items, it...)
	}

	log.Info("discovery complete",
		"manifests", len(paths), "feeds", len(descs), "errors", len(items))
	return descs, items, nil
}
