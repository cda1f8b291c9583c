// Package storyboard holds the scene model consumed by the render pipeline.
package storyboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrNoScenes is returned when a storyboard document carries no scenes.
var ErrNoScenes = errors.New("storyboard has no scenes")

// Scene is one narrative beat. Scenes are immutable once parsed.
type Scene struct {
	SceneID      int      `json:"scene_id"`
	Title        string   `json:"title"`
	MainPoint    string   `json:"main_point"`
	SceneSummary string   `json:"scene_summary"`
	KeyElements  []string `json:"key_elements"`
	ScenePrompt  string   `json:"scene_prompt"`
}

// Storyboard is an ordered list of scenes sharing one style preset.
type Storyboard struct {
	StylePreset string  `json:"style_preset"`
	Scenes      []Scene `json:"scenes"`
}

// rawScene uses pointers so required fields can be told apart from empty ones.
type rawScene struct {
	SceneID      *int     `json:"scene_id"`
	Title        *string  `json:"title"`
	MainPoint    *string  `json:"main_point"`
	SceneSummary *string  `json:"scene_summary"`
	KeyElements  []string `json:"key_elements"`
	ScenePrompt  *string  `json:"scene_prompt"`
}

type rawStoryboard struct {
	StylePreset string     `json:"style_preset"`
	Scenes      []rawScene `json:"scenes"`
}

// Parse decodes a storyboard JSON document.
func Parse(data []byte) (*Storyboard, error) {
	var raw rawStoryboard
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode storyboard: %w", err)
	}
	if len(raw.Scenes) == 0 {
		return nil, ErrNoScenes
	}

	sb := &Storyboard{
		StylePreset: raw.StylePreset,
		Scenes:      make([]Scene, 0, len(raw.Scenes)),
	}
	seen := make(map[int]struct{}, len(raw.Scenes))

	for i, rs := range raw.Scenes {
		scene, err := rs.toScene()
		if err != nil {
			return nil, fmt.Errorf("scene at index %d: %w", i, err)
		}
		if _, dup := seen[scene.SceneID]; dup {
			return nil, fmt.Errorf("scene at index %d: duplicate scene_id %d", i, scene.SceneID)
		}
		seen[scene.SceneID] = struct{}{}
		sb.Scenes = append(sb.Scenes, scene)
	}

	return sb, nil
}

func (rs rawScene) toScene() (Scene, error) {
	if rs.SceneID == nil {
		return Scene{}, fmt.Errorf("missing scene_id")
	}
	if *rs.SceneID <= 0 {
		return Scene{}, fmt.Errorf("scene_id must be positive, got %d", *rs.SceneID)
	}

	required := []struct {
		name string
		val  *string
	}{
		{"title", rs.Title},
		{"main_point", rs.MainPoint},
		{"scene_summary", rs.SceneSummary},
		{"scene_prompt", rs.ScenePrompt},
	}
	for _, f := range required {
		if f.val == nil {
			return Scene{}, fmt.Errorf("scene %d: missing %s", *rs.SceneID, f.name)
		}
	}

	keyElements := rs.KeyElements
	if keyElements == nil {
		keyElements = []string{}
	}

	return Scene{
		SceneID:      *rs.SceneID,
		Title:        *rs.Title,
		MainPoint:    *rs.MainPoint,
		SceneSummary: *rs.SceneSummary,
		KeyElements:  keyElements,
		ScenePrompt:  *rs.ScenePrompt,
	}, nil
}

// Load reads and parses a storyboard file.
func Load(path string) (*Storyboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sb, nil
}

// SortedByID returns the scenes ordered by scene id. The storyboard itself is
// left untouched.
func (s *Storyboard) SortedByID() []Scene {
	out := make([]Scene, len(s.Scenes))
	copy(out, s.Scenes)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SceneID < out[j].SceneID
	})
	return out
}
