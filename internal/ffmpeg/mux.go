package ffmpeg

import (
	"context"
	"fmt"
)

// MuxAudio lays a narration track over a video, copying the video stream
// and stopping at the shorter of the two.
func (e *Executor) MuxAudio(ctx context.Context, video, audio, output string) error {
	if video == "" || audio == "" || output == "" {
		return fmt.Errorf("video, audio and output paths are required")
	}

	e.logger.Info().
		Str("video", video).
		Str("audio", audio).
		Str("output", output).
		Msg("muxing narration")

	opts := RunOptions{
		Args: []string{
			"-i", video,
			"-i", audio,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "copy",
			"-c:a", DefaultAudioCodec,
			"-shortest",
			output,
		},
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("mux")
		},
	}

	if err := e.Run(ctx, opts); err != nil {
		return fmt.Errorf("mux %s with %s: %w", video, audio, err)
	}
	return nil
}
