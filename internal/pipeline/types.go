package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keagan/storyreel/internal/fal"
	"github.com/keagan/storyreel/internal/storyboard"
)

// Phase is a step of the run state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseImages
	PhaseVideos
	PhaseAssemble
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseImages:
		return "images"
	case PhaseVideos:
		return "videos"
	case PhaseAssemble:
		return "assemble"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Stages a scene can fail in
const (
	StageImage    = "image"
	StageVideo    = "video"
	StageDownload = "download"
	StageRetime   = "retime"
	StagePromote  = "promote"
	StageMux      = "mux"
)

// ErrNoVideoURL marks a scene whose video response carried no usable URL.
var ErrNoVideoURL = errors.New("no video url in response")

// ErrNoClips is returned by flows that need at least one clip to continue.
var ErrNoClips = errors.New("no scene clips were generated")

// SceneError ties a failure to the scene and stage it happened in
type SceneError struct {
	SceneID int
	Stage   string
	Err     error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("scene %d: %s: %v", e.SceneID, e.Stage, e.Err)
}

func (e *SceneError) Unwrap() error {
	return e.Err
}

// Config holds pipeline-wide settings
type Config struct {
	Concurrency int
	CallTimeout time.Duration
	OutputDir   string
}

// Defaults applied by New
const (
	DefaultConcurrency    = 3
	DefaultCallTimeout    = 10 * time.Minute
	DefaultOutputDir      = "./output"
	DefaultOutputFilename = "storyboard.mp4"
)

// RunOptions configures one storyboard run
type RunOptions struct {
	// Durations maps scene_id to target seconds and wins over TotalDuration.
	Durations     storyboard.DurationMap
	TotalDuration float64

	OutputFilename string
	OutputDir      string

	// KeepClips returns per-scene clips instead of one joined output.
	KeepClips bool

	VideoModel string
	FaceURL    string
	// Reference switches video generation to the identity-reference model.
	Reference *fal.IdentityReference

	Progress func(ProgressEvent)
}

// SceneResult is the per-scene outcome of a run. Each is written by exactly
// one generation task and read afterwards by the assembly phase.
type SceneResult struct {
	Scene            storyboard.Scene
	ImageURL         string
	VideoURL         string
	ClipPath         string
	TargetSeconds    float64
	RequestedSeconds int
	Response         json.RawMessage
	Err              error
}

// RunResult is what a run produced
type RunResult struct {
	RunID string
	Scenes []SceneResult
	// OutputPath is empty when no clip was produced or clips were kept.
	OutputPath string
	ClipPaths  []string
}

// Failed counts scenes with a recorded error
func (r *RunResult) Failed() int {
	n := 0
	for _, s := range r.Scenes {
		if s.Err != nil {
			n++
		}
	}
	return n
}
