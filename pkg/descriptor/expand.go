package descriptor

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Variables available to descriptor templates.
const (
	VarRuntime  = "runtime"
	VarRoot     = "root"
	VarWorkdir  = "workdir"
	VarManifest = "manifest"
	VarPackage  = "package"
)

// Vars maps template variable names to values.
type Vars map[string]string

// With returns a copy of v with key set to value.
func (v Vars) With(key, value string) Vars {
	out := make(Vars, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[key] = value
	return out
}

// Expand replaces ${name} and $name references in s. "$$" yields a
// literal "$". Referencing a variable that is not in vars is an error.
func Expand(s string, vars Vars) (string, error) {
	var missing []string
	out := os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		val, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return ""
		}
		return val
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("undefined variable %s in %q (available: %s)",
			strings.Join(missing, ", "), s, strings.Join(vars.names(), ", "))
	}
	return out, nil
}

// ExpandAll expands every element of args.
func ExpandAll(args []string, vars Vars) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		v, err := Expand(a, vars)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (v Vars) names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
