// Package cmdallow implements the static command allow-list consulted
// by the Secure Command Executor before any process is spawned.
package cmdallow

import "strings"

// defaultAllowed is the static set of permitted argv[0] values.
var defaultAllowed = map[string]bool{
	"bundle":   true,
	"bin/rails": true,
	"npm":      true,
	"yarn":     true,
	"pnpm":     true,
	"pip":      true,
	"pipenv":   true,
	"poetry":   true,
	"cargo":    true,
	"go":       true,
	"python":   true,
	"python3":  true,
	"node":     true,
	"make":     true,
	"rake":     true,
	"echo":     true,
}

// List is a command allow-list. Construct it with New or Default; the
// zero value has no table and allows nothing.
type List struct {
	allowed map[string]bool
}

// New returns a List seeded with the default allow-list plus any extra
// executable names supplied by the caller.
func New(extra ...string) *List {
	l := &List{allowed: make(map[string]bool, len(defaultAllowed)+len(extra))}
	for k := range defaultAllowed {
		l.allowed[k] = true
	}
	for _, e := range extra {
		l.allowed[e] = true
	}
	return l
}

// Default returns a List backed by the static default table only.
func Default() *List {
	return New()
}

// IsAllowed reports whether argv is syntactically valid and its first
// element is a permitted executable name. It never spawns a process.
func (l *List) IsAllowed(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	for _, arg := range argv {
		if arg == "" {
			return false
		}
		if strings.ContainsRune(arg, 0) {
			return false
		}
	}
	return l.allowed[argv[0]]
}

// Names returns the allowed executable names in no particular order;
// useful for error messages.
func (l *List) Names() []string {
	names := make([]string, 0, len(l.allowed))
	for n := range l.allowed {
		names = append(names, n)
	}
	return names
}
