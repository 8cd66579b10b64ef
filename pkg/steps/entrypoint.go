package steps

import (
	"context"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Entrypoint resolves the fixed argv of the launched process.
type Entrypoint struct{}

func (Entrypoint) Name() string { return "entrypoint" }

func (Entrypoint) Run(ctx context.Context, bc *engine.BuildContext) error {
	argv, err := descriptor.ExpandAll(bc.Unit.Entrypoint, bc.Vars())
	if err != nil {
		return engine.NewConfigError("entrypoint", err).WithCode(engine.ErrCodeTemplate)
	}
	bc.Env.Entrypoint = argv

	telemetry.FromContext(ctx).Zerolog().Info().Strs("argv", argv).Msg("entrypoint defined")
	return nil
}
