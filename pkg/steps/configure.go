package steps

import (
	"context"
	"fmt"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Configure declares the unit's environment variables in the lock. Plain
// values are expanded; a secret keeps its placeholder, the real value is
// only supplied at launch.
type Configure struct{}

func (Configure) Name() string { return "configure" }

func (Configure) Run(ctx context.Context, bc *engine.BuildContext) error {
	plain, err := plainEnv(bc)
	if err != nil {
		return err
	}

	decls := make([]engine.EnvDecl, 0, len(bc.Unit.Env))
	for _, v := range bc.Unit.Env {
		if v.Secret {
			decls = append(decls, engine.EnvDecl{Name: v.Name, Value: v.Value, Secret: true})
			continue
		}
		decls = append(decls, engine.EnvDecl{Name: v.Name, Value: plain[v.Name]})
	}
	bc.Env.Env = decls
	bc.Env.Passthrough = append([]string(nil), bc.Unit.Passthrough...)

	telemetry.FromContext(ctx).Zerolog().Debug().
		Int("declared", len(decls)).
		Int("secrets", len(bc.Unit.Secrets())).
		Msg("environment declared")
	return nil
}

// plainEnv expands the non-secret declared variables with the build's
// template variables.
func plainEnv(bc *engine.BuildContext) (map[string]string, error) {
	vars := bc.Vars()
	out := make(map[string]string)
	for _, v := range bc.Unit.PlainEnv() {
		val, err := descriptor.Expand(v.Value, vars)
		if err != nil {
			return nil, engine.NewConfigError(fmt.Sprintf("env %s", v.Name), err).
				WithCode(engine.ErrCodeTemplate)
		}
		out[v.Name] = val
	}
	return out, nil
}
