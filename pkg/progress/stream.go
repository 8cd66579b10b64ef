package progress

import (
	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/launch"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Stream turns build and launch notifications into progress messages.
// Write errors are logged; a broken consumer never stops a build.
type Stream struct {
	enc    *Encoder
	logger *telemetry.Logger
}

var (
	_ engine.Observer = (*Stream)(nil)
	_ launch.Observer = (*Stream)(nil)
)

// NewStream returns a stream writing through enc.
func NewStream(enc *Encoder, logger *telemetry.Logger) *Stream {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Stream{enc: enc, logger: logger}
}

func (s *Stream) emit(t MessageType, data interface{}) {
	if err := s.enc.Encode(t, data); err != nil {
		s.logger.WithError(err).Warn("failed to write progress message")
	}
}

func (s *Stream) BuildStarted(b *engine.Build) {
	s.emit(MessageTypeBuildStarted, &BuildMessage{BuildID: b.ID, Unit: b.Unit, Root: b.Root})
}

func (s *Stream) StepStarted(b *engine.Build, step string, index int) {
	s.emit(MessageTypeStepStarted, &StepMessage{BuildID: b.ID, Step: step, Index: index})
}

func (s *Stream) StepFinished(b *engine.Build, res engine.StepResult) {
	msg := &StepMessage{
		BuildID:  b.ID,
		Step:     res.Step,
		Index:    res.Index,
		Duration: res.Duration.Seconds(),
		Error:    res.Error,
	}
	if res.Status == engine.StepStatusFailed {
		s.emit(MessageTypeStepFailed, msg)
		return
	}
	s.emit(MessageTypeStepDone, msg)
}

func (s *Stream) BuildFinished(b *engine.Build, env *engine.Environment, err error) {
	msg := &BuildMessage{
		BuildID:  b.ID,
		Unit:     b.Unit,
		Duration: b.Duration().Seconds(),
	}
	if err != nil {
		class, _ := engine.ClassOf(err)
		msg.Class = string(class)
		msg.Code = engine.CodeOf(err)
		msg.Error = err.Error()
		s.emit(MessageTypeBuildFailed, msg)
		return
	}
	msg.Root = b.Root
	if env != nil {
		msg.StageDigest = env.StageDigest
		msg.Packages = len(env.Installed)
	}
	s.emit(MessageTypeBuildDone, msg)
}

func (s *Stream) Launched(r *launch.Record) {
	s.emit(MessageTypeLaunched, &LaunchMessage{LaunchID: r.ID, BuildID: r.BuildID, Unit: r.Unit, PID: r.PID})
}

func (s *Stream) Exited(r *launch.Record) {
	s.emit(MessageTypeExited, &LaunchMessage{
		LaunchID: r.ID,
		BuildID:  r.BuildID,
		Unit:     r.Unit,
		PID:      r.PID,
		ExitCode: r.ExitCode,
		Duration: r.FinishedAt.Sub(r.StartedAt).Seconds(),
		Error:    r.Error,
	})
}
