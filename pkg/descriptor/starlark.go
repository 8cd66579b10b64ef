package descriptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// LoadStarlark executes a Starlark descriptor script. The script must
// assign the global "unit" to a dict or struct shaped like the CUE schema.
//
// Predeclared helpers:
//
//	struct(**kwargs)            the starlarkstruct constructor
//	secret(name, placeholder)   a secret variable declaration
//	env(name, value)            a plain variable declaration
func (l *Loader) LoadStarlark(ctx context.Context, filename string, src []byte) (*Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, l.starlarkTimeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  filename,
		Print: func(_ *starlark.Thread, _ string) {},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"secret": starlark.NewBuiltin("secret", builtinSecret),
		"env":    starlark.NewBuiltin("env", builtinEnv),
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	val, ok := globals["unit"]
	if !ok {
		return nil, ValidationErrors{{File: filename, Message: "script does not define a global named unit"}}
	}

	goVal, err := fromStarlarkValue(val)
	if err != nil {
		return nil, fmt.Errorf("failed to convert unit: %w", err)
	}

	// Round-trip through JSON so field names match the CUE and YAML forms.
	data, err := json.Marshal(goVal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode unit: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var unit Unit
	if err := dec.Decode(&unit); err != nil {
		return nil, ValidationErrors{{File: filename, Path: "unit", Message: err.Error()}}
	}
	return &unit, nil
}

func builtinSecret(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, placeholder string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "placeholder", &placeholder); err != nil {
		return nil, err
	}
	return envDict(name, placeholder, true)
}

func builtinEnv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, value string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value?", &value); err != nil {
		return nil, err
	}
	return envDict(name, value, false)
}

func envDict(name, value string, secret bool) (starlark.Value, error) {
	d := starlark.NewDict(3)
	if err := d.SetKey(starlark.String("name"), starlark.String(name)); err != nil {
		return nil, err
	}
	if err := d.SetKey(starlark.String("value"), starlark.String(value)); err != nil {
		return nil, err
	}
	if err := d.SetKey(starlark.String("secret"), starlark.Bool(secret)); err != nil {
		return nil, err
	}
	return d, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Indexable, n int) ([]interface{}, error) {
	list := make([]interface{}, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkValue(it.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
