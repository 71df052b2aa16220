// Package profile stores named launch profiles for terminal sessions.
//
// A profile maps an alias to the command, default arguments, working
// directory, and environment a profile session runs with. The registry
// consumes the store through a narrow resolver interface.
package profile

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// Definition describes one launch profile.
type Definition struct {
	Command    string            `yaml:"command" json:"command"`
	Args       []string          `yaml:"args,omitempty" json:"args,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Store holds profiles, optionally loaded from a YAML file.
type Store struct {
	log *logging.Logger

	mu       sync.RWMutex
	profiles map[string]Definition
}

// NewStore creates an empty profile store.
func NewStore(log *logging.Logger) *Store {
	return &Store{
		log:      log,
		profiles: make(map[string]Definition),
	}
}

// LoadFile merges profiles from a YAML file of the form
//
//	claude:
//	  command: claude
//	  args: ["--continue"]
//	  working_dir: /work
//	  env:
//	    API_BASE: http://localhost:4000
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var parsed map[string]Definition
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	s.mu.Lock()
	for alias, def := range parsed {
		s.profiles[alias] = def
	}
	s.mu.Unlock()

	s.log.Info("loaded profiles", zap.String("path", path), zap.Int("count", len(parsed)))
	return nil
}

// Register adds or replaces a profile programmatically.
func (s *Store) Register(alias string, def Definition) error {
	if alias == "" {
		return fmt.Errorf("profile alias must not be empty")
	}
	if def.Command == "" {
		return fmt.Errorf("profile %q: command must not be empty", alias)
	}
	s.mu.Lock()
	s.profiles[alias] = def
	s.mu.Unlock()
	return nil
}

// Get looks up a profile by alias.
func (s *Store) Get(alias string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.profiles[alias]
	return def, ok
}

// List returns all aliases in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	aliases := make([]string, 0, len(s.profiles))
	for alias := range s.profiles {
		aliases = append(aliases, alias)
	}
	s.mu.RUnlock()

	sort.Strings(aliases)
	return aliases
}
