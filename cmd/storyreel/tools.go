package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keagan/storyreel/internal/config"
	"github.com/keagan/storyreel/internal/ffmpeg"
	"github.com/keagan/storyreel/internal/logging"
)

var (
	retimeSeconds  float64
	concatReEncode bool
)

var retimeCmd = &cobra.Command{
	Use:   "retime [input] [output]",
	Short: "Speed a clip up or down to an exact duration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := newExecutor(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}

		res, err := exec.Retime(cmd.Context(), ffmpeg.RetimeOptions{
			Input:         args[0],
			Output:        args[1],
			TargetSeconds: retimeSeconds,
			ProgressFunc:  logProgress,
		})
		if err != nil {
			return err
		}

		if res.Skipped {
			log.Warn().Str("output", args[1]).Msg("duration unknown, clip moved unchanged")
			return nil
		}
		log.Info().
			Str("output", args[1]).
			Float64("actual", res.ActualSeconds).
			Float64("speed", res.Plan.SpeedFactor).
			Bool("audio_dropped", res.Plan.DropAudio).
			Msg("clip retimed")
		return nil
	},
}

var concatCmd = &cobra.Command{
	Use:   "concat [output] [inputs...]",
	Short: "Join clips in the given order",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := newExecutor(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}

		if err := exec.Concat(cmd.Context(), ffmpeg.ConcatOptions{
			Inputs:       args[1:],
			Output:       args[0],
			ReEncode:     concatReEncode,
			ProgressFunc: logProgress,
		}); err != nil {
			return err
		}

		log.Info().Str("output", args[0]).Int("clips", len(args)-1).Msg("clips joined")
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [file]",
	Short: "Show a clip's duration and streams",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := newExecutor(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}

		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			// ffprobe could not read it; fall back to the banner parse
			meta := exec.ProbeClip(cmd.Context(), args[0])
			if meta.Seconds == 0 {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProbe(args[0], meta.Seconds, "", meta.HasAudio))
			return nil
		}

		streams := fmt.Sprintf("%s %dx%d @ %.2f fps", info.VideoCodec, info.Width, info.Height, info.FPS)
		fmt.Fprintln(cmd.OutOrStdout(), renderProbe(args[0], info.Duration.Seconds(), streams, info.HasAudio))
		return nil
	},
}

func init() {
	retimeCmd.Flags().Float64Var(&retimeSeconds, "seconds", 0, "target duration in seconds")
	_ = retimeCmd.MarkFlagRequired("seconds")

	concatCmd.Flags().BoolVar(&concatReEncode, "reencode", false, "re-encode instead of stream copy (for mixed codecs)")
}

func newExecutor(cfg *config.Config) (*ffmpeg.Executor, error) {
	executor, err := ffmpeg.New(logging.WithComponent("ffmpeg"), ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.ProbePath,
		Threads:     cfg.FFmpeg.Threads,
		Preset:      cfg.FFmpeg.Preset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}
	return executor, nil
}

func logProgress(p *ffmpeg.Progress) {
	log.Debug().
		Int("frame", p.Frame).
		Str("time", p.Time).
		Str("speed", p.Speed).
		Msg("encoding")
}
