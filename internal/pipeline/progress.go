package pipeline

import (
	"sync"

	"github.com/rs/zerolog"
)

// Progress is a snapshot of the run's counters
type Progress struct {
	ImagesStarted int
	ImagesDone    int
	VideosStarted int
	VideosDone    int
	Total         int
}

// ProgressEvent is delivered to the caller's sink on every change
type ProgressEvent struct {
	Phase    Phase
	SceneID  int
	Progress Progress
}

// progressTracker serializes counter updates. The sink runs under the same
// lock so it observes counts in order.
type progressTracker struct {
	mu     sync.Mutex
	counts Progress
	phase  Phase
	sink   func(ProgressEvent)
	logger zerolog.Logger
}

func newProgressTracker(logger zerolog.Logger, total int, sink func(ProgressEvent)) *progressTracker {
	return &progressTracker{
		counts: Progress{Total: total},
		sink:   sink,
		logger: logger,
	}
}

func (t *progressTracker) setPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Info().
		Str("from", t.phase.String()).
		Str("to", phase.String()).
		Msg("phase transition")
	t.phase = phase
	t.emit(0)
}

func (t *progressTracker) update(sceneID int, label string, fn func(*Progress) int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := fn(&t.counts)
	t.logger.Info().
		Int("scene_id", sceneID).
		Msgf("[%s] %d/%d", label, n, t.counts.Total)
	t.emit(sceneID)
}

func (t *progressTracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

func (t *progressTracker) emit(sceneID int) {
	if t.sink == nil {
		return
	}
	t.sink(ProgressEvent{Phase: t.phase, SceneID: sceneID, Progress: t.counts})
}

func (t *progressTracker) imageStarted(sceneID int) {
	t.update(sceneID, "img started", func(p *Progress) int { p.ImagesStarted++; return p.ImagesStarted })
}

func (t *progressTracker) imageDone(sceneID int) {
	t.update(sceneID, "img done", func(p *Progress) int { p.ImagesDone++; return p.ImagesDone })
}

func (t *progressTracker) videoStarted(sceneID int) {
	t.update(sceneID, "vid started", func(p *Progress) int { p.VideosStarted++; return p.VideosStarted })
}

func (t *progressTracker) videoDone(sceneID int) {
	t.update(sceneID, "vid done", func(p *Progress) int { p.VideosDone++; return p.VideosDone })
}
