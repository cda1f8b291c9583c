package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/keagan/storyreel/pkg/util"
)

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbeOutput(filePath, output)
}

func parseProbeOutput(filePath string, output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{
		FilePath: filePath,
	}

	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName

			// Calculate FPS from r_frame_rate (e.g., "30/1")
			if stream.RFrameRate != "" {
				info.FPS = util.ParseFrameRate(stream.RFrameRate)
			}
		case "audio":
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
		}
	}

	return info, nil
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ClipMeta is the subset of metadata retiming needs.
type ClipMeta struct {
	Seconds  float64
	HasAudio bool
}

// ProbeClip never fails: a clip whose duration cannot be read reports
// zero seconds. ffprobe is tried first, then the banner ffmpeg prints for
// `-i` alone.
func (e *Executor) ProbeClip(ctx context.Context, filePath string) ClipMeta {
	info, err := e.ProbeVideo(ctx, filePath)
	if err == nil && info.Duration > 0 {
		return ClipMeta{Seconds: info.Duration.Seconds(), HasAudio: info.HasAudio}
	}
	if err != nil {
		e.logger.Debug().Err(err).Str("file", filePath).Msg("ffprobe failed, reading ffmpeg banner")
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, "-hide_banner", "-i", filePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// ffmpeg exits non-zero when no output is given; the banner is still printed.
	_ = cmd.Run()

	meta := parseBanner(stderr.String())
	if meta.Seconds == 0 {
		e.logger.Warn().Str("file", filePath).Msg("could not determine clip duration")
	}
	return meta
}

// ProbeDuration returns the clip length in seconds, or zero when unknown.
func (e *Executor) ProbeDuration(ctx context.Context, filePath string) float64 {
	return e.ProbeClip(ctx, filePath).Seconds
}

// parseBanner reads "Duration: HH:MM:SS.ms," and audio stream lines out of
// ffmpeg's input banner.
func parseBanner(banner string) ClipMeta {
	var meta ClipMeta
	for _, line := range strings.Split(banner, "\n") {
		if strings.Contains(line, "Stream #") && strings.Contains(line, "Audio:") {
			meta.HasAudio = true
		}
		if meta.Seconds > 0 {
			continue
		}
		_, rest, found := strings.Cut(line, "Duration:")
		if !found {
			continue
		}
		stamp, _, _ := strings.Cut(rest, ",")
		d, err := util.ParseTimestamp(stamp)
		if err != nil {
			continue
		}
		meta.Seconds = d.Seconds()
	}
	return meta
}
