package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a YAML descriptor. Unknown fields are rejected.
func (l *Loader) LoadYAML(filename string, src []byte) (*Unit, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)

	var unit Unit
	if err := dec.Decode(&unit); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ValidationErrors{{File: filename, Message: "empty descriptor"}}
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			out := make(ValidationErrors, 0, len(typeErr.Errors))
			for _, msg := range typeErr.Errors {
				out = append(out, ValidationError{File: filename, Message: msg})
			}
			return nil, out
		}
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return &unit, nil
}
