package descriptor

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// LoadCUE decodes a CUE descriptor. The unit is either the file's root
// value or its top-level "unit" field. The value is unified with #Unit
// so that schema violations carry source positions.
func (l *Loader) LoadCUE(filename string, src []byte) (*Unit, error) {
	val := l.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, ValidationErrors(convertCUEErrors(err))
	}

	if u := val.LookupPath(cue.ParsePath("unit")); u.Exists() {
		val = u
	}

	unified, err := l.schemas.Unify("unit", val)
	if err != nil {
		return nil, ValidationErrors(convertCUEErrors(err))
	}

	var unit Unit
	if err := unified.Decode(&unit); err != nil {
		return nil, fmt.Errorf("failed to decode unit: %w", err)
	}
	return &unit, nil
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		out = append(out, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: errors.Details(e, nil),
		})
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
