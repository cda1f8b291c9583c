package storyboard

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DurationMap maps scene id to the target clip length in seconds.
type DurationMap map[int]float64

// ParseDurationMap decodes a JSON object keyed by scene id, e.g. {"1": 4.2}.
func ParseDurationMap(data []byte) (DurationMap, error) {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode duration map: %w", err)
	}
	out := make(DurationMap, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("duration map key %q is not a scene id", k)
		}
		if v < 0 {
			return nil, fmt.Errorf("scene %d: negative duration %.2f", id, v)
		}
		out[id] = v
	}
	return out, nil
}

// VoiceItem is one narration entry produced by the speech synthesis step.
type VoiceItem struct {
	SceneID     int      `json:"scene_id"`
	AudioPath   string   `json:"audio_path"`
	DurationSec *float64 `json:"duration_sec"`
}

// VoiceManifest is the narration timing document written next to the audio.
type VoiceManifest struct {
	ProjectID   *string     `json:"project_id"`
	StylePreset string      `json:"style_preset"`
	VoiceID     string      `json:"voice_id"`
	Items       []VoiceItem `json:"items"`
}

// LoadVoiceManifest reads a narration manifest from disk.
func LoadVoiceManifest(path string) (*VoiceManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m VoiceManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode voice manifest %s: %w", path, err)
	}
	return &m, nil
}

// Durations builds the per-scene target map. Narration longer than
// maxSeconds is capped, and items without a measured duration get
// maxSeconds.
func (m *VoiceManifest) Durations(maxSeconds float64) DurationMap {
	out := make(DurationMap, len(m.Items))
	for _, item := range m.Items {
		if item.DurationSec == nil {
			out[item.SceneID] = maxSeconds
			continue
		}
		out[item.SceneID] = min(*item.DurationSec, maxSeconds)
	}
	return out
}

// AudioPaths maps scene id to its narration file.
func (m *VoiceManifest) AudioPaths() map[int]string {
	out := make(map[int]string, len(m.Items))
	for _, item := range m.Items {
		if item.AudioPath != "" {
			out[item.SceneID] = item.AudioPath
		}
	}
	return out
}
