package descriptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
)

// Loader reads unit descriptors in CUE, YAML or Starlark form and
// validates them.
type Loader struct {
	ctx             *cue.Context
	schemas         *SchemaRegistry
	validator       *validator.Validate
	starlarkTimeout time.Duration
}

// NewLoader creates a descriptor loader.
func NewLoader() *Loader {
	ctx := cuecontext.New()

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Loader{
		ctx:             ctx,
		schemas:         NewSchemaRegistry(ctx),
		validator:       v,
		starlarkTimeout: 10 * time.Second,
	}
}

// SupportedExtensions lists the descriptor file extensions Load accepts.
var SupportedExtensions = []string{".cue", ".yaml", ".yml", ".star"}

// Load reads and validates the descriptor at path. The format is chosen
// by file extension.
func (l *Loader) Load(ctx context.Context, path string) (*Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var unit *Unit
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		unit, err = l.LoadCUE(path, src)
	case ".yaml", ".yml":
		unit, err = l.LoadYAML(path, src)
	case ".star":
		unit, err = l.LoadStarlark(ctx, path, src)
	default:
		return nil, fmt.Errorf("unsupported descriptor format %q (want one of %s)",
			filepath.Ext(path), strings.Join(SupportedExtensions, ", "))
	}
	if err != nil {
		return nil, err
	}

	if err := l.Validate(unit); err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			for i := range ve {
				if ve[i].File == "" {
					ve[i].File = path
				}
			}
			return nil, ve
		}
		return nil, err
	}
	return unit, nil
}

// Validate applies defaults and checks the unit against the CUE schema,
// the struct tags and the path rules.
func (l *Loader) Validate(u *Unit) error {
	u.ApplyDefaults()

	if err := l.schemas.ValidateAgainstSchema("unit", u); err != nil {
		return ValidationErrors(convertCUEErrors(err))
	}

	if err := l.validator.Struct(u); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return convertFieldErrors(fieldErrs)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	if errs := checkSemantics(u); len(errs) > 0 {
		return errs
	}
	return nil
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

func convertFieldErrors(fieldErrs validator.ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		msg := fmt.Sprintf("failed on '%s' rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on '%s=%s' rule", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{Path: path, Message: msg})
	}
	return out
}

func checkSemantics(u *Unit) ValidationErrors {
	var errs ValidationErrors

	if p := filepath.Clean(u.Workdir); p != u.Workdir && p+"/" != u.Workdir {
		errs = append(errs, ValidationError{Path: "workdir", Message: fmt.Sprintf("must be a clean path, got %q", u.Workdir)})
	}

	if !isContained(u.Manifest) {
		errs = append(errs, ValidationError{Path: "manifest", Message: "must be a relative path inside the build context"})
	}

	if _, err := u.Install.TimeoutDuration(); err != nil {
		errs = append(errs, ValidationError{Path: "install.timeout", Message: err.Error()})
	}

	pkgRef := "${" + VarPackage + "}"
	switch u.Install.Mode {
	case InstallModeEach:
		if !anyContains(u.Install.Command, pkgRef) {
			errs = append(errs, ValidationError{Path: "install.command", Message: fmt.Sprintf("mode %q requires %s", InstallModeEach, pkgRef)})
		}
	case InstallModeManifest:
		if anyContains(u.Install.Command, pkgRef) {
			errs = append(errs, ValidationError{Path: "install.command", Message: fmt.Sprintf("%s is only available in mode %q", pkgRef, InstallModeEach)})
		}
	}

	for i, rule := range u.Stage {
		if !isContained(rule.Source) {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("stage[%d].source", i), Message: "must be a relative path inside the build context"})
		}
		if !isContained(strings.TrimPrefix(rule.Target, "/")) && rule.Target != "/" {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("stage[%d].target", i), Message: "must not escape the environment root"})
		}
	}

	seen := make(map[string]bool)
	for i, e := range u.Env {
		if seen[e.Name] {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("env[%d].name", i), Message: fmt.Sprintf("duplicate variable %s", e.Name)})
		}
		seen[e.Name] = true
		if e.Secret && e.Value == "" {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("env[%d].value", i), Message: fmt.Sprintf("secret %s must ship a placeholder value", e.Name)})
		}
	}

	return errs
}

// isContained reports whether p is a relative path that stays inside its
// base directory once cleaned.
func isContained(p string) bool {
	if p == "" || filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

func anyContains(args []string, s string) bool {
	for _, a := range args {
		if strings.Contains(a, s) {
			return true
		}
	}
	return false
}
