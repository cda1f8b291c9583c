package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/keagan/storyreel/internal/fal"
	"github.com/keagan/storyreel/internal/ffmpeg"
	"github.com/keagan/storyreel/internal/logging"
	"github.com/keagan/storyreel/internal/storyboard"
	"github.com/keagan/storyreel/pkg/util"
)

// ImageGenerator renders a scene prompt into an image URL
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error)
}

// VideoGenerator animates scenes and returns the raw model response
type VideoGenerator interface {
	GenerateVideoFromImage(ctx context.Context, req fal.ImageToVideoRequest) (json.RawMessage, error)
	GenerateVideoFromReference(ctx context.Context, req fal.ReferenceVideoRequest) (json.RawMessage, error)
}

// Downloader fetches a URL to a local path
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// Transcoder retimes and joins clips
type Transcoder interface {
	Retime(ctx context.Context, opts ffmpeg.RetimeOptions) (*ffmpeg.RetimeResult, error)
	Concat(ctx context.Context, opts ffmpeg.ConcatOptions) error
}

// Muxer lays narration over a clip
type Muxer interface {
	MuxAudio(ctx context.Context, video, audio, output string) error
}

// Deps are the pipeline's collaborators. Muxer is only needed for
// narrated renders.
type Deps struct {
	Images     ImageGenerator
	Videos     VideoGenerator
	Downloader Downloader
	Transcoder Transcoder
	Muxer      Muxer
}

// Pipeline orchestrates storyboard rendering
type Pipeline struct {
	logger zerolog.Logger
	deps   Deps
	config Config
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Images == nil || deps.Videos == nil {
		return nil, fmt.Errorf("image and video generators are required")
	}
	if deps.Downloader == nil || deps.Transcoder == nil {
		return nil, fmt.Errorf("downloader and transcoder are required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		deps:   deps,
		config: cfg,
	}, nil
}

// Run renders sb into one video, or into per-scene clips with KeepClips.
// Generation failures are recorded per scene and never abort the run;
// assembly failures do, after scratch clips have been removed.
func (p *Pipeline) Run(ctx context.Context, sb *storyboard.Storyboard, opts RunOptions) (*RunResult, error) {
	if sb == nil || len(sb.Scenes) == 0 {
		return nil, storyboard.ErrNoScenes
	}
	if opts.OutputFilename == "" {
		opts.OutputFilename = DefaultOutputFilename
	}
	if opts.OutputDir == "" {
		opts.OutputDir = p.config.OutputDir
	}
	if err := util.EnsureDir(opts.OutputDir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	runID := uuid.NewString()
	logger := logging.ForRun(p.logger, runID)

	results := make([]SceneResult, len(sb.Scenes))
	for i, scene := range sb.Scenes {
		results[i].Scene = scene
	}
	result := &RunResult{RunID: runID, Scenes: results}

	logger.Info().
		Int("scenes", len(results)).
		Int("concurrency", p.config.Concurrency).
		Float64("total_duration", opts.TotalDuration).
		Int("durations", len(opts.Durations)).
		Bool("keep_clips", opts.KeepClips).
		Bool("reference", opts.Reference != nil).
		Msg("starting storyboard run")

	progress := newProgressTracker(logger, len(results), opts.Progress)
	permits := semaphore.NewWeighted(int64(p.config.Concurrency))

	progress.setPhase(PhaseImages)
	p.generateImages(ctx, logger, permits, progress, results, opts)

	progress.setPhase(PhaseVideos)
	p.generateVideos(ctx, logger, permits, progress, results, opts)

	progress.setPhase(PhaseAssemble)
	outputPath, clipPaths, err := p.assemble(ctx, logger, results, opts)
	if err != nil {
		progress.setPhase(PhaseFailed)
		logger.Error().Err(err).Msg("storyboard run failed")
		return result, err
	}
	result.OutputPath = outputPath
	result.ClipPaths = clipPaths

	progress.setPhase(PhaseDone)
	logger.Info().
		Str("output", outputPath).
		Int("clips", len(clipPaths)).
		Int("failed_scenes", result.Failed()).
		Msg("storyboard run complete")
	return result, nil
}
