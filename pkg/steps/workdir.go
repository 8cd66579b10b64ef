package steps

import (
	"context"
	"os"

	"github.com/rhusiev/everyonetagger/pkg/engine"
)

// Workdir creates the working directory inside the environment root.
type Workdir struct{}

func (Workdir) Name() string { return "workdir" }

func (Workdir) Run(_ context.Context, bc *engine.BuildContext) error {
	if err := os.MkdirAll(bc.Workdir, 0o755); err != nil {
		return engine.NewBuildError("failed to create working directory", err).
			WithCode(engine.ErrCodeInternal).
			WithDetail("workdir", bc.Unit.Workdir)
	}
	return nil
}
