package descriptor

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Manifest is a parsed dependency manifest: the ordered package
// specifiers plus any installer option lines.
type Manifest struct {
	// Path is the file the manifest was read from.
	Path string `json:"path"`

	// Specifiers are the package specifiers in file order.
	Specifiers []string `json:"specifiers"`

	// Options are lines starting with "-": requirement includes, editable
	// installs, index URLs and the like. They stay in the copied file.
	Options []string `json:"options,omitempty"`
}

// ReadManifest reads and parses the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseManifest parses manifest content. Blank lines and comments are
// dropped and order is preserved. A package may be listed more than once,
// typically under different environment markers; every line reaches the
// installer as written.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{Specifiers: []string{}}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") {
			m.Options = append(m.Options, line)
			continue
		}

		name := PackageName(line)
		if name == "" {
			return nil, fmt.Errorf("line %d: invalid specifier %q", lineNo, line)
		}
		m.Specifiers = append(m.Specifiers, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Requirement options: -r and -e name packages to install, -c only
// constrains them. -r and -c reference further files.
const (
	OptionRequirement = "requirement"
	OptionEditable    = "editable"
	OptionConstraint  = "constraint"
)

var optionNames = map[string]string{
	"-r": OptionRequirement, "--requirement": OptionRequirement,
	"-e": OptionEditable, "--editable": OptionEditable,
	"-c": OptionConstraint, "--constraint": OptionConstraint,
}

// ParseOption splits an option line into its requirement kind and value.
// ok is false for other options (index URLs, hashes and the like).
func ParseOption(line string) (kind, value string, ok bool) {
	flag, value := line, ""
	if i := strings.IndexAny(line, " \t="); i >= 0 {
		flag, value = line[:i], strings.TrimSpace(line[i+1:])
	} else if len(line) > 2 && line[1] != '-' {
		// Short form without a separator: -rbase.txt
		flag, value = line[:2], line[2:]
	}
	kind, ok = optionNames[flag]
	if !ok || value == "" {
		return "", "", false
	}
	return kind, value, true
}

// Installable reports whether the manifest names anything to install:
// a specifier, or a -r or -e option.
func (m *Manifest) Installable() bool {
	if len(m.Specifiers) > 0 {
		return true
	}
	for _, opt := range m.Options {
		if kind, _, ok := ParseOption(opt); ok && kind != OptionConstraint {
			return true
		}
	}
	return false
}

// References returns the files named by -r and -c options, as written.
// URLs are left out; the installer fetches them itself.
func (m *Manifest) References() []string {
	var refs []string
	for _, opt := range m.Options {
		kind, value, ok := ParseOption(opt)
		if !ok || kind == OptionEditable || strings.Contains(value, "://") {
			continue
		}
		refs = append(refs, value)
	}
	return refs
}

// PackageName returns the normalized package name of a specifier:
// lowercased, with "_" and "." folded to "-", stopping at the first
// version, extra, marker or URL delimiter.
func PackageName(spec string) string {
	end := strings.IndexAny(spec, "=<>!~;[@ \t(")
	if end < 0 {
		end = len(spec)
	}
	name := strings.TrimSpace(spec[:end])
	name = strings.ToLower(name)
	name = strings.NewReplacer("_", "-", ".", "-").Replace(name)
	return name
}

func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "\t#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
