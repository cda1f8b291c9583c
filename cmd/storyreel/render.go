package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keagan/storyreel/internal/config"
	"github.com/keagan/storyreel/internal/fal"
	"github.com/keagan/storyreel/internal/pipeline"
	"github.com/keagan/storyreel/internal/runstore"
	"github.com/keagan/storyreel/internal/storyboard"
)

var renderFlags struct {
	output            string
	outputDir         string
	totalDuration     float64
	durations         string
	voiceManifest     string
	maxSeconds        float64
	concurrency       int
	keepClips         bool
	videoModel        string
	faceURL           string
	referenceFrontal  string
	referenceImages   []string
	muxNarration      bool
	keepIntermediates bool
}

var renderCmd = &cobra.Command{
	Use:   "render [storyboard.json]",
	Short: "Render a storyboard into a video",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderFlags.output, "output", "o", "", "output file name (default storyboard.mp4)")
	f.StringVar(&renderFlags.outputDir, "output-dir", "", "directory for clips and output (default from config)")
	f.Float64Var(&renderFlags.totalDuration, "total-duration", 0, "total length in seconds, split evenly across scenes")
	f.StringVar(&renderFlags.durations, "durations", "", `per-scene seconds as JSON ({"1": 4.5}) or a path to a JSON file`)
	f.StringVar(&renderFlags.voiceManifest, "voice-manifest", "", "voice manifest whose durations time each scene")
	f.Float64Var(&renderFlags.maxSeconds, "max-seconds", 0, "cap for narration-derived scene durations (default from config)")
	f.IntVar(&renderFlags.concurrency, "concurrency", 0, "max concurrent generation calls (default from config)")
	f.BoolVar(&renderFlags.keepClips, "keep-clips", false, "keep per-scene clips instead of joining them")
	f.StringVar(&renderFlags.videoModel, "video-model", "", "override the video model")
	f.StringVar(&renderFlags.faceURL, "face-url", "", "reference face for identity-conditioned images")
	f.StringVar(&renderFlags.referenceFrontal, "reference-frontal", "", "frontal image of the main character for reference-to-video")
	f.StringArrayVar(&renderFlags.referenceImages, "reference-image", nil, "additional reference image of the main character (repeatable)")
	f.BoolVar(&renderFlags.muxNarration, "mux-narration", false, "lay the voice manifest's audio over each clip before joining")
	f.BoolVar(&renderFlags.keepIntermediates, "keep-intermediates", false, "keep per-scene and muxed clips after a narrated render")
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	applyRenderOverrides(cmd, cfg)

	sb, err := storyboard.Load(args[0])
	if err != nil {
		return err
	}

	opts := pipeline.RunOptions{
		TotalDuration:  renderFlags.totalDuration,
		OutputFilename: renderFlags.output,
		OutputDir:      cfg.OutputDir,
		KeepClips:      renderFlags.keepClips,
		VideoModel:     renderFlags.videoModel,
		FaceURL:        renderFlags.faceURL,
		Progress: func(ev pipeline.ProgressEvent) {
			log.Debug().
				Str("phase", ev.Phase.String()).
				Int("images_done", ev.Progress.ImagesDone).
				Int("videos_done", ev.Progress.VideosDone).
				Int("total", ev.Progress.Total).
				Msg("progress")
		},
	}
	if renderFlags.referenceFrontal != "" {
		opts.Reference = &fal.IdentityReference{
			FrontalImageURL:    renderFlags.referenceFrontal,
			ReferenceImageURLs: renderFlags.referenceImages,
		}
	}
	if renderFlags.durations != "" {
		opts.Durations, err = loadDurations(renderFlags.durations)
		if err != nil {
			return err
		}
	}

	var voice *storyboard.VoiceManifest
	if renderFlags.voiceManifest != "" {
		voice, err = storyboard.LoadVoiceManifest(renderFlags.voiceManifest)
		if err != nil {
			return err
		}
		if !renderFlags.muxNarration {
			opts.Durations = voice.Durations(cfg.Narration.MaxSeconds)
		}
	} else if renderFlags.muxNarration {
		return fmt.Errorf("--mux-narration requires --voice-manifest")
	}

	pipe, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	started := time.Now()
	var res *pipeline.RunResult
	var runErr error
	var finalVideo string

	if renderFlags.muxNarration {
		narrated, err := pipe.RenderNarrated(ctx, sb, voice, pipeline.NarratedOptions{
			Run:               opts,
			MaxSeconds:        cfg.Narration.MaxSeconds,
			KeepIntermediates: renderFlags.keepIntermediates,
			StoryboardPath:    args[0],
			VoiceManifestPath: renderFlags.voiceManifest,
		})
		runErr = err
		if narrated != nil {
			res = narrated.RunResult
			finalVideo = narrated.FinalVideo
		}
	} else {
		res, runErr = pipe.Run(ctx, sb, opts)
		if res != nil {
			finalVideo = res.OutputPath
		}
	}

	record := runstore.FromRun(args[0], sb.StylePreset, res, runErr, started, time.Now())
	if finalVideo != "" {
		record.OutputPath = finalVideo
	}
	saveRecord(cmd, cfg, record)

	if res != nil {
		printRunSummary(cmd.OutOrStdout(), res, finalVideo)
	}
	if runErr != nil {
		return runErr
	}

	switch {
	case finalVideo != "":
		log.Info().Str("output", finalVideo).Msg("video saved")
	case len(res.ClipPaths) > 0:
		log.Info().Int("clips", len(res.ClipPaths)).Msg("scene clips saved")
	default:
		log.Warn().Msg("no scene produced a clip, nothing was written")
	}
	return nil
}

func applyRenderOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.OutputDir = renderFlags.outputDir
	}
	if flags.Changed("concurrency") && renderFlags.concurrency > 0 {
		cfg.Concurrency = renderFlags.concurrency
	}
	if flags.Changed("max-seconds") {
		cfg.Narration.MaxSeconds = renderFlags.maxSeconds
	}
}

func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	executor, err := newExecutor(cfg)
	if err != nil {
		return nil, err
	}

	client := fal.New(fal.Options{
		APIKey:         os.Getenv("FAL_KEY"),
		BaseURL:        cfg.Fal.BaseURL,
		ImageModel:     cfg.Fal.ImageModel,
		FaceImageModel: cfg.Fal.FaceImageModel,
		VideoModel:     cfg.Fal.VideoModel,
		ReferenceModel: cfg.Fal.ReferenceModel,
		PollInterval:   cfg.Fal.PollInterval,
	}, log.Logger)
	if os.Getenv("FAL_KEY") == "" {
		log.Warn().Msg("FAL_KEY is not set, every generation call will fail")
	}

	return pipeline.New(log.Logger, pipeline.Deps{
		Images:     client,
		Videos:     client,
		Downloader: fal.NewDownloader(cfg.Fal.DownloadTimeout, log.Logger),
		Transcoder: executor,
		Muxer:      executor,
	}, pipeline.Config{
		Concurrency: cfg.Concurrency,
		CallTimeout: cfg.Fal.CallTimeout,
		OutputDir:   cfg.OutputDir,
	})
}

// loadDurations accepts inline JSON or a path to a JSON file.
func loadDurations(value string) (storyboard.DurationMap, error) {
	data := []byte(value)
	if !json.Valid(data) {
		var err error
		data, err = os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("read durations: %w", err)
		}
	}
	return storyboard.ParseDurationMap(data)
}

func saveRecord(cmd *cobra.Command, cfg *config.Config, record runstore.Record) {
	store, err := runstore.Open(cfg.Store.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("run ledger unavailable")
		return
	}
	defer store.Close()

	// record the run even when the render was interrupted
	if err := store.SaveRun(context.WithoutCancel(cmd.Context()), record); err != nil {
		log.Warn().Err(err).Msg("failed to record run")
		return
	}
	log.Debug().Str("run_id", record.ID).Msg("run recorded")
}
