package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/keagan/storyreel/internal/clips"
	"github.com/keagan/storyreel/internal/ffmpeg"
	"github.com/keagan/storyreel/pkg/util"
)

// SceneClipName is the caller-visible name of a kept scene clip
func SceneClipName(sceneID int) string {
	return fmt.Sprintf("scene_%03d.mp4", sceneID)
}

// assemble is phase three: strictly sequential in scene_id order. Every
// scratch clip is tracked and removed on return unless promoted.
func (p *Pipeline) assemble(ctx context.Context, logger zerolog.Logger, results []SceneResult, opts RunOptions) (outputPath string, clipPaths []string, err error) {
	tracker := clips.NewTracker(logger)
	defer tracker.Cleanup()

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return results[order[a]].Scene.SceneID < results[order[b]].Scene.SceneID
	})

	var sceneClips []string
	for _, i := range order {
		res := &results[i]
		if res.Err != nil || res.Response == nil {
			continue
		}

		field := ParseVideoField(res.Response)
		if field.Shape == ShapeNone {
			logger.Warn().
				Int("scene_id", res.Scene.SceneID).
				Str("response", string(res.Response)).
				Msg("no video url in response, skipping scene")
			res.Err = &SceneError{SceneID: res.Scene.SceneID, Stage: StageVideo, Err: ErrNoVideoURL}
			continue
		}
		res.VideoURL = field.URL

		clip, err := p.prepareClip(ctx, logger, tracker, res, opts)
		if err != nil {
			res.Err = err
			return "", nil, err
		}
		sceneClips = append(sceneClips, clip)
	}

	if len(sceneClips) == 0 {
		logger.Warn().Msg("no scene clips were generated")
		return "", nil, nil
	}

	if opts.KeepClips {
		return "", sceneClips, nil
	}

	outputPath = opts.OutputFilename
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(opts.OutputDir, outputPath)
	}

	if len(sceneClips) == 1 {
		if err := util.ReplaceFile(sceneClips[0], outputPath); err != nil {
			return "", nil, fmt.Errorf("move single clip to output: %w", err)
		}
		tracker.Replace(sceneClips[0], outputPath)
		tracker.Promote(outputPath)
		logger.Info().Str("output", outputPath).Msg("single clip promoted to output")
		return outputPath, nil, nil
	}

	logger.Info().Int("clips", len(sceneClips)).Msg("combining scene clips into one video")
	if err := p.deps.Transcoder.Concat(ctx, ffmpeg.ConcatOptions{Inputs: sceneClips, Output: outputPath}); err != nil {
		util.RemoveFiles(outputPath)
		return "", nil, err
	}
	return outputPath, nil, nil
}

// prepareClip downloads, retimes and optionally promotes one scene's clip.
func (p *Pipeline) prepareClip(ctx context.Context, logger zerolog.Logger, tracker *clips.Tracker, res *SceneResult, opts RunOptions) (string, error) {
	id := res.Scene.SceneID
	sceneErr := func(stage string, err error) error {
		return &SceneError{SceneID: id, Stage: stage, Err: err}
	}

	tmp, err := util.TempFile(opts.OutputDir, "clip-", ".mp4")
	if err != nil {
		return "", sceneErr(StageDownload, err)
	}
	scratch := tmp.Name()
	tmp.Close()
	tracker.Track(id, scratch)

	logger.Info().Int("scene_id", id).Msg("downloading clip")
	if err := p.deps.Downloader.Download(ctx, res.VideoURL, scratch); err != nil {
		return "", sceneErr(StageDownload, err)
	}

	current := scratch
	if res.TargetSeconds > 0 {
		adjusted := scratch + ".adj.mp4"
		logger.Info().
			Int("scene_id", id).
			Float64("target", res.TargetSeconds).
			Msg("adjusting clip duration")

		retimed, err := p.deps.Transcoder.Retime(ctx, ffmpeg.RetimeOptions{
			Input:         scratch,
			Output:        adjusted,
			TargetSeconds: res.TargetSeconds,
		})
		if err != nil {
			tracker.Track(id, adjusted)
			return "", sceneErr(StageRetime, err)
		}
		if retimed == nil || !retimed.Skipped {
			util.RemoveFiles(scratch)
		}
		tracker.Replace(scratch, adjusted)
		current = adjusted
	}

	if opts.KeepClips {
		named := filepath.Join(opts.OutputDir, SceneClipName(id))
		if err := util.ReplaceFile(current, named); err != nil {
			return "", sceneErr(StagePromote, err)
		}
		tracker.Replace(current, named)
		tracker.Promote(named)
		current = named
		res.ClipPath = named
	}

	logger.Info().Int("scene_id", id).Msg("clip ready")
	return current, nil
}
