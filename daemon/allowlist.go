package daemon

import (
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Allowlist decides which suggested commands the wrapper may offer to run.
// Patterns use doublestar globs matched against the whole command line and
// against its first word, so both `git *` and `ls*` work. An empty
// allowlist permits nothing; suggestions are still shown, just not offered
// for execution. Patterns can be swapped at runtime on config reload.
type Allowlist struct {
	mu       sync.RWMutex
	patterns []string
}

// NewAllowlist builds an allowlist from config patterns.
func NewAllowlist(patterns []string) *Allowlist {
	return &Allowlist{patterns: patterns}
}

// Replace swaps the pattern set.
func (a *Allowlist) Replace(patterns []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patterns = patterns
}

// Allows reports whether one command matches any pattern.
func (a *Allowlist) Allows(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	first := command
	if i := strings.IndexByte(command, ' '); i > 0 {
		first = command[:i]
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, pattern := range a.patterns {
		if ok, err := doublestar.Match(pattern, command); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, first); err == nil && ok {
			return true
		}
	}
	return false
}

// AllowsAll reports whether every command passes.
func (a *Allowlist) AllowsAll(commands []string) bool {
	for _, cmd := range commands {
		if !a.Allows(cmd) {
			return false
		}
	}
	return len(commands) > 0
}
