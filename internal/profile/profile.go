// Package profile loads and saves named harness profiles: YAML-persisted
// bundles of default agent/loop configuration a work order can resolve by
// reference at submission time.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// HarnessProfile is a named bundle of defaults resolved by a work order's
// optional HarnessProfile reference.
type HarnessProfile struct {
	Name                string         `yaml:"name"`
	AgentType           string         `yaml:"agentType"`
	MaxIterations       int            `yaml:"maxIterations"`
	MaxWallClockSeconds int            `yaml:"maxWallClockSeconds"`
	StrategyMode        string         `yaml:"strategyMode"`
	StrategyConfig      map[string]any `yaml:"strategyConfig,omitempty"`
}

// ErrNotFound is returned when a named profile does not exist.
var ErrNotFound = fmt.Errorf("profile: not found")

// Store loads/saves HarnessProfile YAML documents from a directory, one
// file per profile. Path construction follows the teacher's
// store.TenantKey/TenantPrefix namespacing convention (resource kind +
// sanitized id), repurposed from Redis key segments to filesystem path
// segments since there is no tenant dimension here.
type Store struct {
	dir string
}

// NewStore constructs a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// path mirrors TenantKey's "namespace:resource:id" shape as a filesystem
// path: <dir>/profiles/<sanitized-name>.yaml.
func (s *Store) path(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return filepath.Join(s.dir, "profiles", safe+".yaml")
}

// Save persists p under its Name, overwriting any existing profile of the
// same name.
func (s *Store) Save(p HarnessProfile) error {
	if p.Name == "" {
		return fmt.Errorf("profile: name is required")
	}
	path := s.path(p.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("profile: create dir: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: marshal %s: %w", p.Name, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("profile: write %s: %w", p.Name, err)
	}
	return os.Rename(tmp, path)
}

// Load reads the named profile, returning ErrNotFound if it does not exist.
func (s *Store) Load(name string) (HarnessProfile, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return HarnessProfile{}, ErrNotFound
		}
		return HarnessProfile{}, fmt.Errorf("profile: read %s: %w", name, err)
	}
	var p HarnessProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return HarnessProfile{}, fmt.Errorf("profile: unmarshal %s: %w", name, err)
	}
	return p, nil
}

// List returns every profile name persisted in the store.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "profiles"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		p, err := s.loadFile(filepath.Join(s.dir, "profiles", e.Name()))
		if err != nil {
			continue
		}
		names = append(names, p.Name)
	}
	return names, nil
}

func (s *Store) loadFile(path string) (HarnessProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HarnessProfile{}, err
	}
	var p HarnessProfile
	err = yaml.Unmarshal(data, &p)
	return p, err
}

// Delete removes the named profile. Deleting a profile that does not exist
// is not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("profile: delete %s: %w", name, err)
	}
	return nil
}

// Resolve applies a named profile's defaults onto a work order's
// zero-valued fields, used by submission handling before a work order is
// persisted as queued. Fields the caller already set explicitly are left
// untouched.
func Resolve(p HarnessProfile, agentType string, maxIterations, maxWallClockSeconds int) (resolvedAgentType string, resolvedMaxIterations, resolvedMaxWallClockSeconds int) {
	resolvedAgentType = agentType
	if resolvedAgentType == "" {
		resolvedAgentType = p.AgentType
	}
	resolvedMaxIterations = maxIterations
	if resolvedMaxIterations == 0 {
		resolvedMaxIterations = p.MaxIterations
	}
	resolvedMaxWallClockSeconds = maxWallClockSeconds
	if resolvedMaxWallClockSeconds == 0 {
		resolvedMaxWallClockSeconds = p.MaxWallClockSeconds
	}
	return
}
