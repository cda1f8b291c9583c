package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/storyreel/internal/fal"
	"github.com/keagan/storyreel/internal/ffmpeg"
	"github.com/keagan/storyreel/internal/storyboard"
)

type fakeImages struct {
	fn func(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error)
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, prompt, opts)
	}
	return "https://img.example/" + prompt, nil
}

type fakeVideos struct {
	mu        sync.Mutex
	imageReqs []fal.ImageToVideoRequest
	refReqs   []fal.ReferenceVideoRequest
	fromImage func(ctx context.Context, req fal.ImageToVideoRequest) (json.RawMessage, error)
}

func (f *fakeVideos) GenerateVideoFromImage(ctx context.Context, req fal.ImageToVideoRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.imageReqs = append(f.imageReqs, req)
	f.mu.Unlock()
	if f.fromImage != nil {
		return f.fromImage(ctx, req)
	}
	return json.RawMessage(fmt.Sprintf(`{"video":{"url":%q}}`, req.ImageURL+".mp4")), nil
}

func (f *fakeVideos) GenerateVideoFromReference(ctx context.Context, req fal.ReferenceVideoRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.refReqs = append(f.refReqs, req)
	f.mu.Unlock()
	return json.RawMessage(fmt.Sprintf(`{"video":%q}`, req.ImageURLs[0]+".mp4")), nil
}

func (f *fakeVideos) imageRequests() map[string]fal.ImageToVideoRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]fal.ImageToVideoRequest)
	for _, r := range f.imageReqs {
		out[r.ImageURL] = r
	}
	return out
}

type fakeDownloader struct {
	fn func(ctx context.Context, url, dest string) error
}

func (f *fakeDownloader) Download(ctx context.Context, url, dest string) error {
	if f.fn != nil {
		return f.fn(ctx, url, dest)
	}
	return os.WriteFile(dest, []byte(url), 0644)
}

type fakeTranscoder struct {
	mu       sync.Mutex
	retimes  []ffmpeg.RetimeOptions
	concats  []ffmpeg.ConcatOptions
	joined   []string
	retimeFn func(opts ffmpeg.RetimeOptions) (*ffmpeg.RetimeResult, error)
}

func (f *fakeTranscoder) Retime(ctx context.Context, opts ffmpeg.RetimeOptions) (*ffmpeg.RetimeResult, error) {
	f.mu.Lock()
	f.retimes = append(f.retimes, opts)
	f.mu.Unlock()
	if f.retimeFn != nil {
		return f.retimeFn(opts)
	}
	data, err := os.ReadFile(opts.Input)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(opts.Output, data, 0644); err != nil {
		return nil, err
	}
	return &ffmpeg.RetimeResult{ActualSeconds: 5}, nil
}

func (f *fakeTranscoder) Concat(ctx context.Context, opts ffmpeg.ConcatOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concats = append(f.concats, opts)

	var parts []string
	for _, in := range opts.Inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		parts = append(parts, string(data))
	}
	f.joined = parts
	return os.WriteFile(opts.Output, []byte(strings.Join(parts, "\n")), 0644)
}

func (f *fakeTranscoder) retimeTargets() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64)
	for _, r := range f.retimes {
		out[r.Input] = r.TargetSeconds
	}
	return out
}

type fakeMuxer struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeMuxer) MuxAudio(ctx context.Context, video, audio, output string) error {
	f.mu.Lock()
	f.calls = append(f.calls, [2]string{video, audio})
	f.mu.Unlock()
	data, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	return os.WriteFile(output, append(data, []byte("+"+audio)...), 0644)
}

type harness struct {
	images     *fakeImages
	videos     *fakeVideos
	downloader *fakeDownloader
	transcoder *fakeTranscoder
	muxer      *fakeMuxer
	dir        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		images:     &fakeImages{},
		videos:     &fakeVideos{},
		downloader: &fakeDownloader{},
		transcoder: &fakeTranscoder{},
		muxer:      &fakeMuxer{},
		dir:        t.TempDir(),
	}
}

func (h *harness) pipeline(t *testing.T, concurrency int) *Pipeline {
	t.Helper()
	p, err := New(zerolog.Nop(), Deps{
		Images:     h.images,
		Videos:     h.videos,
		Downloader: h.downloader,
		Transcoder: h.transcoder,
		Muxer:      h.muxer,
	}, Config{Concurrency: concurrency, CallTimeout: time.Second, OutputDir: h.dir})
	require.NoError(t, err)
	return p
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func makeStoryboard(ids ...int) *storyboard.Storyboard {
	sb := &storyboard.Storyboard{StylePreset: "watercolor"}
	for _, id := range ids {
		sb.Scenes = append(sb.Scenes, storyboard.Scene{
			SceneID:      id,
			Title:        fmt.Sprintf("Scene %d", id),
			MainPoint:    "point",
			SceneSummary: "summary",
			KeyElements:  []string{},
			ScenePrompt:  fmt.Sprintf("prompt-%d", id),
		})
	}
	return sb
}

func imageURL(id int) string {
	return fmt.Sprintf("https://img.example/prompt-%d", id)
}

func videoURL(id int) string {
	return imageURL(id) + ".mp4"
}

func sceneByID(t *testing.T, res *RunResult, id int) SceneResult {
	t.Helper()
	for _, s := range res.Scenes {
		if s.Scene.SceneID == id {
			return s
		}
	}
	t.Fatalf("scene %d not in result", id)
	return SceneResult{}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(zerolog.Nop(), Deps{}, Config{})
	assert.Error(t, err)

	h := newHarness(t)
	_, err = New(zerolog.Nop(), Deps{Images: h.images, Videos: h.videos}, Config{})
	assert.Error(t, err)
}

func TestRunRejectsEmptyStoryboard(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline(t, 3).Run(context.Background(), &storyboard.Storyboard{}, RunOptions{})
	assert.ErrorIs(t, err, storyboard.ErrNoScenes)
}

func TestRunIsolatesImageFailures(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("upstream exploded")
	h.images.fn = func(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error) {
		if prompt == "prompt-2" {
			return "", boom
		}
		return "https://img.example/" + prompt, nil
	}

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2, 3), RunOptions{})
	require.NoError(t, err)

	failed := sceneByID(t, res, 2)
	assert.Empty(t, failed.ImageURL)
	assert.Empty(t, failed.VideoURL)
	assert.ErrorIs(t, failed.Err, boom)
	var sceneErr *SceneError
	require.True(t, errors.As(failed.Err, &sceneErr))
	assert.Equal(t, StageImage, sceneErr.Stage)

	for _, id := range []int{1, 3} {
		s := sceneByID(t, res, id)
		assert.Equal(t, imageURL(id), s.ImageURL)
		assert.Equal(t, videoURL(id), s.VideoURL)
		assert.NoError(t, s.Err)
	}

	assert.Len(t, h.videos.imageRequests(), 2)
	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, filepath.Join(h.dir, DefaultOutputFilename), res.OutputPath)
	assert.Equal(t, []string{videoURL(1), videoURL(3)}, h.transcoder.joined)
}

func TestRunHonorsConcurrencyLimit(t *testing.T) {
	h := newHarness(t)
	var inFlight, peak atomic.Int32
	track := func() func() {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return func() { inFlight.Add(-1) }
	}

	h.images.fn = func(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error) {
		defer track()()
		if prompt == "prompt-1" || prompt == "prompt-2" {
			return "", errors.New("rejected")
		}
		return "https://img.example/" + prompt, nil
	}
	h.videos.fromImage = func(ctx context.Context, req fal.ImageToVideoRequest) (json.RawMessage, error) {
		defer track()()
		return json.RawMessage(fmt.Sprintf(`{"video":{"url":%q}}`, req.ImageURL+".mp4")), nil
	}

	res, err := h.pipeline(t, 2).Run(context.Background(), makeStoryboard(1, 2, 3, 4, 5, 6, 7, 8), RunOptions{KeepClips: true})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, res.Failed())
	assert.Len(t, res.ClipPaths, 6)
}

func TestRunCallTimeoutOnlyAffectsThatScene(t *testing.T) {
	h := newHarness(t)
	h.images.fn = func(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error) {
		if prompt == "prompt-1" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "https://img.example/" + prompt, nil
	}

	p, err := New(zerolog.Nop(), Deps{
		Images: h.images, Videos: h.videos, Downloader: h.downloader, Transcoder: h.transcoder,
	}, Config{Concurrency: 3, CallTimeout: 20 * time.Millisecond, OutputDir: h.dir})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), makeStoryboard(1, 2), RunOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, sceneByID(t, res, 1).Err, context.DeadlineExceeded)
	assert.Equal(t, imageURL(2), sceneByID(t, res, 2).ImageURL)
}

func TestRunWithoutVideoURLsProducesNoOutput(t *testing.T) {
	h := newHarness(t)
	h.videos.fromImage = func(ctx context.Context, req fal.ImageToVideoRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"ok","seed":7}`), nil
	}

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2), RunOptions{TotalDuration: 10})
	require.NoError(t, err)

	assert.Empty(t, res.OutputPath)
	assert.Empty(t, res.ClipPaths)
	assert.Empty(t, h.transcoder.concats)
	for _, s := range res.Scenes {
		assert.ErrorIs(t, s.Err, ErrNoVideoURL)
		assert.NotEmpty(t, s.ImageURL)
	}
	assert.Empty(t, h.files(t))
}

func TestRunSingleClipSkipsConcat(t *testing.T) {
	h := newHarness(t)
	h.images.fn = func(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error) {
		if prompt == "prompt-1" {
			return "", errors.New("nope")
		}
		return "https://img.example/" + prompt, nil
	}

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2), RunOptions{OutputFilename: "final.mp4"})
	require.NoError(t, err)

	assert.Empty(t, h.transcoder.concats)
	assert.Equal(t, filepath.Join(h.dir, "final.mp4"), res.OutputPath)
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, videoURL(2), string(data))
	assert.Equal(t, []string{"final.mp4"}, h.files(t))
}

func TestRunJoinsInSceneIDOrder(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(3, 1, 2), RunOptions{})
	require.NoError(t, err)

	require.Len(t, h.transcoder.concats, 1)
	assert.Equal(t, []string{videoURL(1), videoURL(2), videoURL(3)}, h.transcoder.joined)
	assert.False(t, h.transcoder.concats[0].ReEncode)

	// input order is preserved in the result
	assert.Equal(t, 3, res.Scenes[0].Scene.SceneID)
	assert.Equal(t, []string{DefaultOutputFilename}, h.files(t))
}

func TestRunTotalDurationRetimesEachScene(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2), RunOptions{TotalDuration: 12})
	require.NoError(t, err)

	reqs := h.videos.imageRequests()
	for _, id := range []int{1, 2} {
		assert.Equal(t, 5, reqs[imageURL(id)].Duration)
		s := sceneByID(t, res, id)
		assert.Equal(t, 5, s.RequestedSeconds)
		assert.Equal(t, 6.0, s.TargetSeconds)
	}

	targets := h.transcoder.retimeTargets()
	require.Len(t, targets, 2)
	for input, target := range targets {
		assert.Equal(t, 6.0, target)
		assert.True(t, strings.HasPrefix(filepath.Base(input), "clip-"))
	}
	assert.Equal(t, []string{DefaultOutputFilename}, h.files(t))
}

func TestRunDurationMapWinsOverTotal(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2), RunOptions{
		Durations: storyboard.DurationMap{1: 8},
	})
	require.NoError(t, err)

	reqs := h.videos.imageRequests()
	assert.Equal(t, 10, reqs[imageURL(1)].Duration)
	assert.Equal(t, 5, reqs[imageURL(2)].Duration)

	assert.Equal(t, 8.0, sceneByID(t, res, 1).TargetSeconds)
	assert.Zero(t, sceneByID(t, res, 2).TargetSeconds)
	assert.Len(t, h.transcoder.retimeTargets(), 1)
}

func TestRunKeepClipsPromotesSceneFiles(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(2, 1), RunOptions{KeepClips: true, TotalDuration: 8})
	require.NoError(t, err)

	assert.Empty(t, res.OutputPath)
	assert.Empty(t, h.transcoder.concats)
	assert.Equal(t, []string{
		filepath.Join(h.dir, "scene_001.mp4"),
		filepath.Join(h.dir, "scene_002.mp4"),
	}, res.ClipPaths)
	assert.Equal(t, filepath.Join(h.dir, "scene_002.mp4"), sceneByID(t, res, 2).ClipPath)
	assert.Equal(t, []string{"scene_001.mp4", "scene_002.mp4"}, h.files(t))
}

func TestRunCleansUpWhenRetimeFails(t *testing.T) {
	h := newHarness(t)
	broken := errors.New("ffmpeg exited 1")
	var calls atomic.Int32
	h.transcoder.retimeFn = func(opts ffmpeg.RetimeOptions) (*ffmpeg.RetimeResult, error) {
		if calls.Add(1) == 2 {
			// leave a partial output behind like a crashed encoder
			_ = os.WriteFile(opts.Output, []byte("partial"), 0644)
			return nil, &ffmpeg.RunError{Stderr: "Conversion failed!", Err: broken}
		}
		data, _ := os.ReadFile(opts.Input)
		return &ffmpeg.RetimeResult{ActualSeconds: 5}, os.WriteFile(opts.Output, data, 0644)
	}

	var events []ProgressEvent
	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2, 3), RunOptions{
		TotalDuration: 18,
		Progress:      func(ev ProgressEvent) { events = append(events, ev) },
	})
	require.Error(t, err)
	require.NotNil(t, res)

	var sceneErr *SceneError
	require.True(t, errors.As(err, &sceneErr))
	assert.Equal(t, 2, sceneErr.SceneID)
	assert.Equal(t, StageRetime, sceneErr.Stage)
	assert.ErrorIs(t, err, broken)

	var runErr *ffmpeg.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "Conversion failed!", runErr.Stderr)

	assert.Empty(t, res.OutputPath)
	assert.Empty(t, h.files(t))
	require.NotEmpty(t, events)
	assert.Equal(t, PhaseFailed, events[len(events)-1].Phase)
}

func TestRunCleansUpWhenDownloadFails(t *testing.T) {
	h := newHarness(t)
	h.downloader.fn = func(ctx context.Context, url, dest string) error {
		if url == videoURL(2) {
			return errors.New("connection reset")
		}
		return os.WriteFile(dest, []byte(url), 0644)
	}

	_, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2, 3), RunOptions{KeepClips: true})
	require.Error(t, err)

	var sceneErr *SceneError
	require.True(t, errors.As(err, &sceneErr))
	assert.Equal(t, StageDownload, sceneErr.Stage)

	// scene 1 was promoted before the failure and stays
	assert.Equal(t, []string{"scene_001.mp4"}, h.files(t))
}

func TestRunRetimeSkippedKeepsClip(t *testing.T) {
	h := newHarness(t)
	h.transcoder.retimeFn = func(opts ffmpeg.RetimeOptions) (*ffmpeg.RetimeResult, error) {
		return &ffmpeg.RetimeResult{Skipped: true}, os.Rename(opts.Input, opts.Output)
	}

	res, err := h.pipeline(t, 1).Run(context.Background(), makeStoryboard(1), RunOptions{TotalDuration: 4})
	require.NoError(t, err)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, videoURL(1), string(data))
}

func TestRunReferenceUsesContinuousPolicy(t *testing.T) {
	h := newHarness(t)
	ref := &fal.IdentityReference{
		FrontalImageURL:    "https://img.example/front.jpg",
		ReferenceImageURLs: []string{"https://img.example/side.jpg"},
	}

	res, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1, 2), RunOptions{
		TotalDuration: 13.2,
		Reference:     ref,
	})
	require.NoError(t, err)

	require.Len(t, h.videos.refReqs, 2)
	assert.Empty(t, h.videos.imageReqs)
	for _, req := range h.videos.refReqs {
		assert.Equal(t, 7, req.Duration)
		assert.Equal(t, []fal.IdentityReference{*ref}, req.Elements)
		require.Len(t, req.ImageURLs, 1)
		assert.True(t, strings.HasSuffix(req.Prompt, "\nMain character: @Element1. Use @Image1 as style reference."))
	}
	assert.InDelta(t, 6.6, sceneByID(t, res, 1).TargetSeconds, 1e-9)
	assert.NotEmpty(t, res.OutputPath)
}

func TestReferencePrompt(t *testing.T) {
	assert.Equal(t, "a fox", referencePrompt("fal-ai/vidu/q1/reference-to-video", "a fox"))
	assert.Equal(t, "a fox"+referenceTags, referencePrompt("", "a fox"))
	assert.Equal(t, "a fox"+referenceTags, referencePrompt("fal-ai/kling-video/o1/reference-to-video", "a fox"))
}

func TestRunPassesFaceURLToImages(t *testing.T) {
	h := newHarness(t)
	var faces sync.Map
	h.images.fn = func(ctx context.Context, prompt string, opts fal.ImageOptions) (string, error) {
		faces.Store(prompt, opts.FaceURL)
		return "https://img.example/" + prompt, nil
	}

	_, err := h.pipeline(t, 3).Run(context.Background(), makeStoryboard(1), RunOptions{FaceURL: "https://img.example/me.jpg"})
	require.NoError(t, err)

	face, ok := faces.Load("prompt-1")
	require.True(t, ok)
	assert.Equal(t, "https://img.example/me.jpg", face)
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	var events []ProgressEvent

	_, err := h.pipeline(t, 2).Run(context.Background(), makeStoryboard(1, 2, 3, 4), RunOptions{
		Progress: func(ev ProgressEvent) { events = append(events, ev) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var prev Progress
	var phases []Phase
	for _, ev := range events {
		p := ev.Progress
		assert.GreaterOrEqual(t, p.ImagesStarted, prev.ImagesStarted)
		assert.GreaterOrEqual(t, p.ImagesDone, prev.ImagesDone)
		assert.GreaterOrEqual(t, p.VideosStarted, prev.VideosStarted)
		assert.GreaterOrEqual(t, p.VideosDone, prev.VideosDone)
		assert.LessOrEqual(t, p.ImagesDone, p.ImagesStarted)
		prev = p
		if len(phases) == 0 || phases[len(phases)-1] != ev.Phase {
			phases = append(phases, ev.Phase)
		}
	}

	assert.Equal(t, Progress{ImagesStarted: 4, ImagesDone: 4, VideosStarted: 4, VideosDone: 4, Total: 4}, prev)
	assert.Equal(t, []Phase{PhaseImages, PhaseVideos, PhaseAssemble, PhaseDone}, phases)
}

func TestParseVideoField(t *testing.T) {
	cases := []struct {
		raw   string
		shape ResponseShape
		url   string
	}{
		{`{"video":{"url":"https://v/a.mp4","content_type":"video/mp4"}}`, ShapeObject, "https://v/a.mp4"},
		{`{"video":"https://v/b.mp4"}`, ShapeString, "https://v/b.mp4"},
		{`{"video":{}}`, ShapeNone, ""},
		{`{"video":""}`, ShapeNone, ""},
		{`{"video":null}`, ShapeNone, ""},
		{`{"videos":["https://v/c.mp4"]}`, ShapeNone, ""},
		{`not json`, ShapeNone, ""},
		{``, ShapeNone, ""},
	}
	for _, tc := range cases {
		got := ParseVideoField(json.RawMessage(tc.raw))
		assert.Equal(t, tc.shape, got.Shape, tc.raw)
		assert.Equal(t, tc.url, got.URL, tc.raw)
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "images", PhaseImages.String())
	assert.Equal(t, "failed", PhaseFailed.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}
