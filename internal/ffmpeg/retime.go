package ffmpeg

import (
	"context"
	"fmt"
	"os"

	"github.com/keagan/storyreel/internal/timing"
)

// RetimeOptions defines a speed change to an exact playback length
type RetimeOptions struct {
	Input         string
	Output        string
	TargetSeconds float64
	ProgressFunc  ProgressFunc
}

// RetimePlan is the filter setup for one retime, derived from the measured
// and target lengths.
type RetimePlan struct {
	SpeedFactor float64
	VideoFilter string
	AudioFilter string
	DropAudio   bool
}

// PlanRetime maps a measured clip onto its target length. Audio outside
// atempo's single-pass range is dropped rather than chained.
func PlanRetime(actualSeconds, targetSeconds float64, hasAudio bool) RetimePlan {
	speed := timing.SpeedFactor(actualSeconds, targetSeconds)

	plan := RetimePlan{
		SpeedFactor: speed,
		VideoFilter: NewFilterBuilder().SetPTS(1 / speed).Build(),
	}

	if hasAudio && timing.AudioTempoSupported(speed) {
		plan.AudioFilter = NewFilterBuilder().ATempo(speed).Build()
	} else {
		plan.DropAudio = true
	}
	return plan
}

// Args renders the plan as ffmpeg arguments.
func (p RetimePlan) Args(input, output, preset string) []string {
	args := []string{
		"-i", input,
		"-filter:v", p.VideoFilter,
	}

	if p.DropAudio {
		args = append(args, "-an")
	} else {
		args = append(args, "-filter:a", p.AudioFilter, "-c:a", DefaultAudioCodec)
	}

	args = append(args,
		"-c:v", DefaultVideoCodec,
		"-preset", preset,
		output,
	)
	return args
}

// RetimeResult reports what Retime did
type RetimeResult struct {
	ActualSeconds float64
	// Skipped is true when the duration was unknown and the input was moved as-is.
	Skipped bool
	Plan    RetimePlan
}

// Retime rewrites Input so it plays for exactly TargetSeconds. The input
// file is consumed: it is either renamed to Output or left for the caller
// to remove after a successful encode.
func (e *Executor) Retime(ctx context.Context, opts RetimeOptions) (*RetimeResult, error) {
	if opts.Input == "" || opts.Output == "" {
		return nil, fmt.Errorf("input and output paths are required")
	}
	if opts.TargetSeconds <= 0 {
		return nil, fmt.Errorf("target duration must be positive, got %.3f", opts.TargetSeconds)
	}

	meta := e.ProbeClip(ctx, opts.Input)
	if meta.Seconds <= 0 {
		e.logger.Warn().
			Str("input", opts.Input).
			Msg("clip duration unknown, keeping clip unchanged")
		if err := os.Rename(opts.Input, opts.Output); err != nil {
			return nil, fmt.Errorf("move unretimed clip: %w", err)
		}
		return &RetimeResult{Skipped: true}, nil
	}

	plan := PlanRetime(meta.Seconds, opts.TargetSeconds, meta.HasAudio)

	e.logger.Info().
		Str("input", opts.Input).
		Float64("actual", meta.Seconds).
		Float64("target", opts.TargetSeconds).
		Float64("speed", plan.SpeedFactor).
		Bool("drop_audio", plan.DropAudio).
		Msg("retiming clip")

	runOpts := RunOptions{
		Args:            plan.Args(opts.Input, opts.Output, e.preset),
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("retime")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return nil, fmt.Errorf("retime %s: %w", opts.Input, err)
	}

	return &RetimeResult{ActualSeconds: meta.Seconds, Plan: plan}, nil
}
