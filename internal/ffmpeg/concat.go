package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/keagan/storyreel/pkg/util"
)

// ConcatOptions defines concatenation parameters
type ConcatOptions struct {
	Inputs []string
	Output string
	// ReEncode joins clips whose codecs differ (e.g. after muxing narration)
	ReEncode     bool
	ProgressFunc ProgressFunc
}

// Concat merges multiple video files into one, in the order of Inputs.
// Order comes from the manifest, never from directory listing.
func (e *Executor) Concat(ctx context.Context, opts ConcatOptions) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("inputs", len(opts.Inputs)).
		Str("output", opts.Output).
		Bool("reencode", opts.ReEncode).
		Msg("concatenating videos")

	concatFile, err := createConcatFile(opts.Inputs)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(concatFile)

	runOpts := RunOptions{
		Args:            concatArgs(concatFile, opts.Output, opts.ReEncode, e.preset),
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("concatenating")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("concat into %s: %w", opts.Output, err)
	}
	return nil
}

func concatArgs(manifest, output string, reencode bool, preset string) []string {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
	}

	if reencode {
		args = append(args,
			"-c:v", DefaultVideoCodec,
			"-crf", fmt.Sprintf("%d", DefaultCRF),
			"-preset", preset,
			"-c:a", DefaultAudioCodec,
			"-movflags", "+faststart",
		)
	} else {
		args = append(args, "-c", "copy")
	}

	return append(args, output)
}

// createConcatFile generates a temporary file list for ffmpeg concat
func createConcatFile(inputs []string) (string, error) {
	tmpFile, err := os.CreateTemp("", "storyreel-concat-*.txt")
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()

	if _, err := tmpFile.WriteString(concatManifest(inputs)); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}

	return tmpFile.Name(), nil
}

// concatManifest renders the concat demuxer list with absolute paths.
// Single quotes are closed, escaped and reopened as the demuxer expects.
func concatManifest(inputs []string) string {
	var b strings.Builder
	for _, input := range inputs {
		escaped := strings.ReplaceAll(util.AbsPath(input), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}
