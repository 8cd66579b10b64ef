package engine

import (
	"os"
	"sort"
)

// DefaultPassthrough lists the host variables every child process
// receives, in addition to the unit's own pass-through list.
var DefaultPassthrough = []string{"PATH", "HOME", "LANG", "LC_ALL", "TZ", "TMPDIR", "USER"}

// LookupFunc looks up a variable in a host environment.
type LookupFunc func(key string) (string, bool)

// HostLookup reads the real process environment.
func HostLookup() LookupFunc { return os.LookupEnv }

// Environ builds an isolated environment for a child process: the
// default and extra pass-through variables that are present on the host,
// overlaid with set. The result is sorted by name.
func Environ(lookup LookupFunc, passthrough []string, set map[string]string) []string {
	vars := make(map[string]string, len(DefaultPassthrough)+len(passthrough)+len(set))
	for _, lists := range [][]string{DefaultPassthrough, passthrough} {
		for _, name := range lists {
			if v, ok := lookup(name); ok {
				vars[name] = v
			}
		}
	}
	for k, v := range set {
		vars[k] = v
	}

	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	env := make([]string, 0, len(names))
	for _, k := range names {
		env = append(env, k+"="+vars[k])
	}
	return env
}
