package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
)

// Stage copies the stage rules' sources from the build context into the
// environment. Copying is deterministic: files are visited in lexical
// order, permission bits are preserved and a later rule overwrites an
// earlier one's file at the same path. A source that is itself a symlink
// is staged from its target.
type Stage struct{}

func (Stage) Name() string { return "stage" }

func (Stage) Run(ctx context.Context, bc *engine.BuildContext) error {
	logger := telemetry.FromContext(ctx)

	// All sources are checked before anything is copied.
	for _, rule := range bc.Unit.Stage {
		if _, err := os.Stat(bc.ContextPath(rule.Source)); err != nil {
			return engine.NewBuildError(fmt.Sprintf("stage source %s not found", rule.Source), err).
				WithCode(engine.ErrCodeStageSourceMissing).
				WithDetail("source", rule.Source)
		}
	}

	staged := make(map[string]engine.StagedFile)
	for _, rule := range bc.Unit.Stage {
		if err := ctx.Err(); err != nil {
			return err
		}

		src := bc.ContextPath(rule.Source)
		dst := bc.EnvPath(rule.Target)
		if !withinRoot(bc.Root, dst) {
			return engine.NewConfigError(fmt.Sprintf("stage target %s escapes the environment root", rule.Target), nil).
				WithCode(engine.ErrCodeValidation)
		}

		src, err := filepath.EvalSymlinks(src)
		if err != nil {
			return engine.NewBuildError("stage source vanished", err).WithCode(engine.ErrCodeStageSourceMissing)
		}
		info, err := os.Stat(src)
		if err != nil {
			return engine.NewBuildError("stage source vanished", err).WithCode(engine.ErrCodeStageSourceMissing)
		}

		var files []copiedFile
		if info.IsDir() {
			files, err = copyTree(src, dst)
		} else {
			var cf copiedFile
			cf, err = copyFile(src, dst)
			files = []copiedFile{cf}
		}
		if err != nil {
			return engine.NewBuildError(fmt.Sprintf("staging %s failed", rule.Source), err).
				WithCode(engine.ErrCodeStageFailed).
				WithDetail("source", rule.Source).
				WithDetail("target", rule.Target)
		}

		for _, f := range files {
			rel := bc.RelToRoot(f.Dst)
			staged[rel] = engine.StagedFile{Path: rel, Size: f.Size, Mode: uint32(f.Mode), SHA256: f.SHA256}
		}
		logger.Zerolog().Debug().
			Str("source", rule.Source).
			Str("target", rule.Target).
			Int("files", len(files)).
			Msg("staged")
	}

	out := make([]engine.StagedFile, 0, len(staged))
	entries := make([]digestEntry, 0, len(staged))
	var total int64
	for _, f := range staged {
		out = append(out, f)
		entries = append(entries, digestEntry{Path: f.Path, Mode: f.Mode, SHA256: f.SHA256})
		total += f.Size
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	bc.Env.Staged = out
	bc.Env.StageDigest = stageDigest(entries)
	bc.Telemetry.Metrics.RecordStaged(bc.Unit.Name, len(out), total)

	logger.Zerolog().Info().
		Int("files", len(out)).
		Int64("bytes", total).
		Str("digest", bc.Env.StageDigest).
		Msg("sources staged")
	return nil
}

func withinRoot(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
