package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/keagan/storyreel/internal/fal"
	"github.com/keagan/storyreel/internal/timing"
)

const referenceTags = "\nMain character: @Element1. Use @Image1 as style reference."

// generateImages runs phase one. Tasks share the run's permits and never
// cancel each other: errors land in the scene's own result.
func (p *Pipeline) generateImages(ctx context.Context, logger zerolog.Logger, permits *semaphore.Weighted, progress *progressTracker, results []SceneResult, opts RunOptions) {
	var g errgroup.Group

	for i := range results {
		res := &results[i]
		id := res.Scene.SceneID

		g.Go(func() error {
			if err := permits.Acquire(ctx, 1); err != nil {
				res.Err = &SceneError{SceneID: id, Stage: StageImage, Err: err}
				return nil
			}
			defer permits.Release(1)

			progress.imageStarted(id)
			callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
			defer cancel()

			url, err := p.deps.Images.GenerateImage(callCtx, res.Scene.ScenePrompt, fal.ImageOptions{FaceURL: opts.FaceURL})
			progress.imageDone(id)
			if err != nil {
				res.Err = &SceneError{SceneID: id, Stage: StageImage, Err: err}
				logger.Warn().Err(err).Int("scene_id", id).Msg("image generation failed")
				return nil
			}

			res.ImageURL = url
			logger.Debug().Int("scene_id", id).Str("image_url", url).Msg("image ready")
			return nil
		})
	}

	_ = g.Wait()
}

// generateVideos runs phase two for every scene that has an image.
func (p *Pipeline) generateVideos(ctx context.Context, logger zerolog.Logger, permits *semaphore.Weighted, progress *progressTracker, results []SceneResult, opts RunOptions) {
	policy := timing.KlingPolicy()
	if opts.Reference != nil {
		policy = timing.ReferencePolicy()
	}

	var g errgroup.Group

	for i := range results {
		res := &results[i]
		if res.Err != nil || res.ImageURL == "" {
			continue
		}
		id := res.Scene.SceneID

		req := policy.Resolve(timing.TargetFor(id, opts.Durations, opts.TotalDuration, len(results)))
		res.RequestedSeconds = req.Seconds
		if req.Retime {
			res.TargetSeconds = req.Target
		}

		g.Go(func() error {
			if err := permits.Acquire(ctx, 1); err != nil {
				res.Err = &SceneError{SceneID: id, Stage: StageVideo, Err: err}
				return nil
			}
			defer permits.Release(1)

			progress.videoStarted(id)
			logger.Info().
				Int("scene_id", id).
				Str("family", policy.Family.String()).
				Int("seconds", req.Seconds).
				Float64("target", req.Target).
				Msg("animating scene")

			callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
			defer cancel()

			raw, err := p.requestVideo(callCtx, res, req.Seconds, opts)
			progress.videoDone(id)
			if err != nil {
				res.Err = &SceneError{SceneID: id, Stage: StageVideo, Err: err}
				logger.Warn().Err(err).Int("scene_id", id).Msg("video generation failed")
				return nil
			}

			res.Response = raw
			return nil
		})
	}

	_ = g.Wait()
}

func (p *Pipeline) requestVideo(ctx context.Context, res *SceneResult, seconds int, opts RunOptions) (json.RawMessage, error) {
	if opts.Reference != nil {
		return p.deps.Videos.GenerateVideoFromReference(ctx, fal.ReferenceVideoRequest{
			Elements:  []fal.IdentityReference{*opts.Reference},
			ImageURLs: []string{res.ImageURL},
			Prompt:    referencePrompt(opts.VideoModel, res.Scene.ScenePrompt),
			Duration:  seconds,
			Model:     opts.VideoModel,
		})
	}

	return p.deps.Videos.GenerateVideoFromImage(ctx, fal.ImageToVideoRequest{
		ImageURL: res.ImageURL,
		Prompt:   res.Scene.ScenePrompt,
		Duration: seconds,
		Model:    opts.VideoModel,
	})
}

// referencePrompt tags the prompt with the element and image handles the
// reference models expect. Vidu models take the prompt as-is.
func referencePrompt(model, prompt string) string {
	if strings.HasPrefix(model, "fal-ai/vidu/") {
		return prompt
	}
	return prompt + referenceTags
}
