package auth

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Allowlist authorises requestors whose name appears in the list. Names are
// matched exactly after trimming surrounding whitespace.
type Allowlist struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewAllowlist returns an Allowlist containing names.
func NewAllowlist(names ...string) *Allowlist {
	a := &Allowlist{}
	a.Replace(names)
	return a
}

// IsAuthorised reports whether requestor is on the list. Blank names are
// never authorised.
func (a *Allowlist) IsAuthorised(_ context.Context, requestor string) bool {
	name := strings.TrimSpace(requestor)
	if name == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.names[name]
	return ok
}

// Replace swaps the whole list atomically.
func (a *Allowlist) Replace(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			next[n] = struct{}{}
		}
	}
	a.mu.Lock()
	a.names = next
	a.mu.Unlock()
}

// Names returns the current entries in sorted order.
func (a *Allowlist) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type allowlistFile struct {
	Requestors []string `yaml:"requestors"`
}

// LoadFile reads a YAML document of the form
//
//	requestors:
//	  - Mike
//	  - Anna
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("allowlist: read %q: %w", path, err)
	}
	var f allowlistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("allowlist: parse yaml: %w", err)
	}
	return f.Requestors, nil
}
