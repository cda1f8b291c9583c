package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const durationTolerance = 0.2

func TestProbeClipReadsDurationAndAudio(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	withAudio := makeClip(t, dir, "voiced.mp4", 2, true)
	silent := makeClip(t, dir, "silent.mp4", 1, false)

	meta := e.ProbeClip(context.Background(), withAudio)
	assert.InDelta(t, 2.0, meta.Seconds, durationTolerance)
	assert.True(t, meta.HasAudio)

	meta = e.ProbeClip(context.Background(), silent)
	assert.InDelta(t, 1.0, meta.Seconds, durationTolerance)
	assert.False(t, meta.HasAudio)
}

func TestProbeDurationUnreadableFileIsZero(t *testing.T) {
	e := newTestExecutor(t)
	bogus := filepath.Join(t.TempDir(), "bogus.mp4")
	require.NoError(t, os.WriteFile(bogus, []byte("not a video"), 0644))

	assert.Zero(t, e.ProbeDuration(context.Background(), bogus))
	assert.Zero(t, e.ProbeDuration(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")))
}

func TestRetimeStretchesToTarget(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	input := makeClip(t, dir, "clip-1.mp4", 2, true)
	output := input + ".adj.mp4"

	var progressCalls int
	res, err := e.Retime(context.Background(), RetimeOptions{
		Input:         input,
		Output:        output,
		TargetSeconds: 3,
		ProgressFunc:  func(*Progress) { progressCalls++ },
	})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.InDelta(t, 2.0/3.0, res.Plan.SpeedFactor, 0.05)
	assert.False(t, res.Plan.DropAudio)
	assert.Positive(t, progressCalls)

	meta := e.ProbeClip(context.Background(), output)
	assert.InDelta(t, 3.0, meta.Seconds, durationTolerance)
	assert.True(t, meta.HasAudio)
}

func TestRetimeDropsAudioBelowTempoFloor(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	input := makeClip(t, dir, "clip-1.mp4", 2, true)
	output := filepath.Join(dir, "slow.mp4")

	res, err := e.Retime(context.Background(), RetimeOptions{Input: input, Output: output, TargetSeconds: 5})
	require.NoError(t, err)
	assert.True(t, res.Plan.DropAudio)

	meta := e.ProbeClip(context.Background(), output)
	assert.InDelta(t, 5.0, meta.Seconds, durationTolerance)
	assert.False(t, meta.HasAudio)
}

func TestRetimeSilentClip(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	input := makeClip(t, dir, "clip-1.mp4", 2, false)
	output := filepath.Join(dir, "fast.mp4")

	_, err := e.Retime(context.Background(), RetimeOptions{Input: input, Output: output, TargetSeconds: 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, e.ProbeDuration(context.Background(), output), durationTolerance)
}

func TestRetimeUnknownDurationMovesInput(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "clip-1.mp4")
	output := filepath.Join(dir, "scene_001.mp4")
	require.NoError(t, os.WriteFile(input, []byte("opaque bytes"), 0644))

	res, err := e.Retime(context.Background(), RetimeOptions{Input: input, Output: output, TargetSeconds: 4})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	assert.NoFileExists(t, input)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "opaque bytes", string(data))
}

func TestRetimeRejectsNonPositiveTarget(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Retime(context.Background(), RetimeOptions{Input: "a.mp4", Output: "b.mp4", TargetSeconds: 0})
	assert.Error(t, err)
}

func TestConcatJoinsClips(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	first := makeClip(t, dir, "scene_001.mp4", 1, true)
	second := makeClip(t, dir, "scene_002.mp4", 2, true)
	output := filepath.Join(dir, "storyboard.mp4")

	require.NoError(t, e.Concat(context.Background(), ConcatOptions{
		Inputs: []string{first, second},
		Output: output,
	}))
	assert.InDelta(t, 3.0, e.ProbeDuration(context.Background(), output), durationTolerance)
}

func TestConcatReEncode(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	first := makeClip(t, dir, "a.mp4", 1, true)
	second := makeClip(t, dir, "b.mp4", 1, false)
	output := filepath.Join(dir, "joined.mp4")

	require.NoError(t, e.Concat(context.Background(), ConcatOptions{
		Inputs:   []string{first, second},
		Output:   output,
		ReEncode: true,
	}))
	assert.FileExists(t, output)
}

func TestConcatFailureCarriesDiagnostics(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()

	err := e.Concat(context.Background(), ConcatOptions{
		Inputs: []string{filepath.Join(dir, "missing.mp4")},
		Output: filepath.Join(dir, "out.mp4"),
	})
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.NotEmpty(t, runErr.Stderr)
}

func TestConcatRequiresInputs(t *testing.T) {
	e := newTestExecutor(t)
	assert.Error(t, e.Concat(context.Background(), ConcatOptions{Output: "out.mp4"}))
}

func TestRunHonorsCancellation(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, RunOptions{Args: []string{
		"-f", "lavfi", "-i", "testsrc=duration=600:size=1280x720:rate=30",
		"-f", "null", "-",
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMuxAudio(t *testing.T) {
	e := newTestExecutor(t)
	dir := t.TempDir()
	video := makeClip(t, dir, "scene_001.mp4", 2, false)
	voiced := makeClip(t, dir, "voice.mp4", 1, true)
	output := filepath.Join(dir, "scene_001_av.mp4")

	require.NoError(t, e.MuxAudio(context.Background(), video, voiced, output))

	meta := e.ProbeClip(context.Background(), output)
	assert.True(t, meta.HasAudio)
	assert.Less(t, meta.Seconds, 1.9)
}
