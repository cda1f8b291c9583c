package clips

import (
	"github.com/rs/zerolog"

	"github.com/keagan/storyreel/pkg/util"
)

// Clip is a per-scene video file created during assembly
type Clip struct {
	SceneID  int
	Path     string
	Promoted bool
}

// Tracker records every scratch clip a run creates so none outlive it.
// It is only touched from the sequential assembly phase and does no locking.
type Tracker struct {
	logger zerolog.Logger
	clips  []*Clip
}

// NewTracker creates an empty tracker
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With().Str("component", "clips").Logger(),
		clips:  make([]*Clip, 0),
	}
}

// Track registers a freshly created scratch file for a scene
func (t *Tracker) Track(sceneID int, path string) *Clip {
	clip := &Clip{SceneID: sceneID, Path: path}
	t.clips = append(t.clips, clip)
	return clip
}

// Replace moves a tracked clip's identity to a new file, as after retiming.
// The new path is tracked even when old was never seen.
func (t *Tracker) Replace(oldPath, newPath string) {
	if clip := t.Get(oldPath); clip != nil {
		clip.Path = newPath
		return
	}
	t.clips = append(t.clips, &Clip{Path: newPath})
}

// Promote marks path as caller-visible. Promoted clips are never removed.
func (t *Tracker) Promote(path string) {
	if clip := t.Get(path); clip != nil {
		clip.Promoted = true
	}
}

// Get retrieves a tracked clip by path
func (t *Tracker) Get(path string) *Clip {
	for _, clip := range t.clips {
		if clip.Path == path {
			return clip
		}
	}
	return nil
}

// Scratch lists the paths Cleanup would remove
func (t *Tracker) Scratch() []string {
	paths := make([]string, 0, len(t.clips))
	for _, clip := range t.clips {
		if !clip.Promoted {
			paths = append(paths, clip.Path)
		}
	}
	return paths
}

// All returns all tracked clips
func (t *Tracker) All() []*Clip {
	return t.clips
}

// Cleanup deletes every non-promoted clip still on disk. Calling it again
// is a no-op.
func (t *Tracker) Cleanup() []error {
	scratch := t.Scratch()
	errs := util.RemoveFiles(scratch...)
	for _, err := range errs {
		t.logger.Warn().Err(err).Msg("failed to remove scratch clip")
	}

	kept := t.clips[:0]
	for _, clip := range t.clips {
		if clip.Promoted {
			kept = append(kept, clip)
		}
	}
	t.clips = kept

	t.logger.Debug().
		Int("removed", len(scratch)-len(errs)).
		Int("kept", len(kept)).
		Msg("scratch clips cleaned up")
	return errs
}
