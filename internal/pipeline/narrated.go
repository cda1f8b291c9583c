package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/keagan/storyreel/internal/ffmpeg"
	"github.com/keagan/storyreel/internal/storyboard"
	"github.com/keagan/storyreel/pkg/util"
)

// DefaultNarratedFilename is the joined narrated video's name
const DefaultNarratedFilename = "final_video.mp4"

// FinalManifestName is written next to the narrated output
const FinalManifestName = "final_manifest.json"

// NarratedOptions configures RenderNarrated. Durations and KeepClips in
// Run are derived from the voice manifest and ignored here.
type NarratedOptions struct {
	Run RunOptions
	// MaxSeconds caps each scene's narration-derived target.
	MaxSeconds        float64
	KeepIntermediates bool

	// StoryboardPath and VoiceManifestPath are recorded in the manifest.
	StoryboardPath    string
	VoiceManifestPath string
}

// NarratedResult is the outcome of a narrated render
type NarratedResult struct {
	*RunResult
	FinalVideo   string
	ManifestPath string
	MuxedPaths   []string
}

// FinalManifest is the JSON summary written after a narrated render
type FinalManifest struct {
	RunID         string          `json:"run_id"`
	ScenePlan     string          `json:"scene_plan,omitempty"`
	VoiceManifest string          `json:"voice_manifest,omitempty"`
	FinalVideo    string          `json:"final_video"`
	Scenes        []ManifestScene `json:"scenes"`
}

// ManifestScene is one scene's line in the final manifest
type ManifestScene struct {
	SceneID     int     `json:"scene_id"`
	ImageURL    string  `json:"image_url,omitempty"`
	VideoURL    string  `json:"video_url,omitempty"`
	AudioPath   string  `json:"audio_path,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// RenderNarrated renders per-scene clips timed to the narration, lays each
// scene's audio over its clip and joins the results with a re-encode.
func (p *Pipeline) RenderNarrated(ctx context.Context, sb *storyboard.Storyboard, voice *storyboard.VoiceManifest, opts NarratedOptions) (*NarratedResult, error) {
	if p.deps.Muxer == nil {
		return nil, fmt.Errorf("narrated render requires a muxer")
	}
	if voice == nil {
		return nil, fmt.Errorf("voice manifest is required")
	}

	runOpts := opts.Run
	durations := voice.Durations(opts.MaxSeconds)
	runOpts.Durations = durations
	runOpts.KeepClips = true
	finalName := runOpts.OutputFilename
	if finalName == "" {
		finalName = DefaultNarratedFilename
	}

	res, err := p.Run(ctx, sb, runOpts)
	if err != nil {
		return nil, err
	}
	if len(res.ClipPaths) == 0 {
		return &NarratedResult{RunResult: res}, ErrNoClips
	}

	outputDir := runOpts.OutputDir
	if outputDir == "" {
		outputDir = p.config.OutputDir
	}
	logger := p.logger.With().Str("run_id", res.RunID).Logger()
	audio := voice.AudioPaths()

	var muxed []string
	cleanup := func() {
		if opts.KeepIntermediates {
			return
		}
		util.RemoveFiles(muxed...)
		util.RemoveFiles(res.ClipPaths...)
	}

	scenes := append([]SceneResult(nil), res.Scenes...)
	sort.SliceStable(scenes, func(a, b int) bool {
		return scenes[a].Scene.SceneID < scenes[b].Scene.SceneID
	})

	for _, scene := range scenes {
		if scene.ClipPath == "" {
			continue
		}
		id := scene.Scene.SceneID
		audioPath, ok := audio[id]
		if !ok || audioPath == "" {
			cleanup()
			return nil, &SceneError{SceneID: id, Stage: StageMux, Err: fmt.Errorf("no narration audio for scene")}
		}

		out := filepath.Join(outputDir, fmt.Sprintf("scene_%03d_av.mp4", id))
		logger.Info().Int("scene_id", id).Str("audio", audioPath).Msg("muxing narration")
		if err := p.deps.Muxer.MuxAudio(ctx, scene.ClipPath, audioPath, out); err != nil {
			cleanup()
			return nil, &SceneError{SceneID: id, Stage: StageMux, Err: err}
		}
		muxed = append(muxed, out)
	}

	finalVideo := finalName
	if !filepath.IsAbs(finalVideo) {
		finalVideo = filepath.Join(outputDir, finalVideo)
	}
	if err := p.deps.Transcoder.Concat(ctx, ffmpeg.ConcatOptions{Inputs: muxed, Output: finalVideo, ReEncode: true}); err != nil {
		cleanup()
		return nil, err
	}
	cleanup()
	if !opts.KeepIntermediates {
		muxed = nil
	}

	manifest := FinalManifest{
		RunID:         res.RunID,
		ScenePlan:     opts.StoryboardPath,
		VoiceManifest: opts.VoiceManifestPath,
		FinalVideo:    finalVideo,
	}
	for _, scene := range res.Scenes {
		entry := ManifestScene{
			SceneID:     scene.Scene.SceneID,
			ImageURL:    scene.ImageURL,
			VideoURL:    scene.VideoURL,
			AudioPath:   audio[scene.Scene.SceneID],
			DurationSec: durations[scene.Scene.SceneID],
		}
		if scene.Err != nil {
			entry.Error = scene.Err.Error()
		}
		manifest.Scenes = append(manifest.Scenes, entry)
	}

	manifestPath := filepath.Join(outputDir, FinalManifestName)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode final manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write final manifest: %w", err)
	}

	logger.Info().Str("final_video", finalVideo).Msg("narrated video saved")
	return &NarratedResult{
		RunResult:    res,
		FinalVideo:   finalVideo,
		ManifestPath: manifestPath,
		MuxedPaths:   muxed,
	}, nil
}
