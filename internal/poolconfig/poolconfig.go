// Package poolconfig loads the YAML pool configuration file described in
// spec.md §4.6: a mapping of environment name to QueueGroup → target
// worker count, with a "default" section merged underneath whichever
// environment is active.
package poolconfig

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scarson/poolmaster/internal/queuegroup"
)

// rawDocument is the on-disk shape:
//
//	default:
//	  queue1: 2
//	  "high:queue2,queue3": 1
//	production:
//	  queue1: 10
type rawDocument map[string]map[queuegroup.QueueGroup]int

const defaultSection = "default"

// Loader reloads a pool configuration file for a fixed environment name,
// re-reading the file from disk on every call to Load so that a HUP-
// triggered reload (spec.md §4.3) always reflects the file's current
// contents.
type Loader struct {
	path string
	env  string

	mu   sync.Mutex
	last queuegroup.Configuration
}

// New returns a Loader for path, resolved against env (see [ResolveEnv]
// for how env is normally chosen).
func New(path, env string) *Loader {
	return &Loader{path: path, env: env}
}

// Load reads and parses the pool configuration file, merging the
// "default" section underneath l.env's section — env-specific entries
// win on key collision. An empty or missing env section is not an
// error; it simply means no overrides apply.
func (l *Loader) Load() (queuegroup.Configuration, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("poolconfig: read %s: %w", l.path, err)
	}

	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("poolconfig: parse %s: %w", l.path, err)
	}

	merged := make(queuegroup.Configuration)
	for g, n := range doc[defaultSection] {
		merged[g] = n
	}
	for g, n := range doc[l.env] {
		merged[g] = n
	}

	for g, n := range merged {
		if n < 0 {
			return nil, fmt.Errorf("poolconfig: %s: negative target %d for %q", l.path, n, g)
		}
		if !g.KindValid() {
			return nil, fmt.Errorf("poolconfig: %s: invalid worker kind in %q", l.path, g)
		}
	}

	l.mu.Lock()
	l.last = merged
	l.mu.Unlock()

	return merged, nil
}

// Last returns the most recently successfully loaded Configuration
// without touching disk, or nil if Load has never succeeded. A failed
// Load leaves it unchanged. supervisor.Master does not call it: when a
// reload fails, the master keeps its own copy of the previous
// configuration.
func (l *Loader) Last() queuegroup.Configuration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// ResolveEnv implements spec.md §4.6's environment-name resolution
// chain: RACK_ENV, then RAILS_ENV, then RESQUE_ENV, falling back to
// "development" when none are set.
func ResolveEnv(getenv func(string) string) string {
	for _, key := range []string{"RACK_ENV", "RAILS_ENV", "RESQUE_ENV"} {
		if v := getenv(key); v != "" {
			return v
		}
	}
	return "development"
}
