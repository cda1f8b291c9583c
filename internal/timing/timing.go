// Package timing maps narration targets onto the clip lengths a video model
// can actually generate.
package timing

import (
	"math"

	"github.com/keagan/storyreel/internal/storyboard"
)

// Family describes which clip lengths a video model accepts.
type Family int

const (
	// FamilyBucketed models only render a fixed set of lengths.
	FamilyBucketed Family = iota
	// FamilyContinuous models accept any whole number of seconds up to a cap.
	FamilyContinuous
)

func (f Family) String() string {
	switch f {
	case FamilyBucketed:
		return "bucketed"
	case FamilyContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// Model capability limits. These encode what the upstream models accept and
// are not tuning knobs.
const (
	KlingShortBucket   = 5
	KlingLongBucket    = 10
	KlingLongThreshold = 7.5
	ReferenceMaxSecond = 8
	NativeDefault      = 5

	// MinAudioTempo and MaxAudioTempo bound ffmpeg's atempo filter.
	MinAudioTempo = 0.5
	MaxAudioTempo = 100.0
)

// Policy is the duration capability of one model family.
type Policy struct {
	Family Family
	// Buckets holds the short and long lengths of a bucketed family.
	Buckets   [2]int
	Threshold float64
	// Cap is the longest clip a continuous family accepts.
	Cap     int
	Default int
}

// KlingPolicy covers the image-to-video models that render 5s or 10s clips.
func KlingPolicy() Policy {
	return Policy{
		Family:    FamilyBucketed,
		Buckets:   [2]int{KlingShortBucket, KlingLongBucket},
		Threshold: KlingLongThreshold,
		Default:   NativeDefault,
	}
}

// ReferencePolicy covers the reference-to-video models.
func ReferencePolicy() Policy {
	return Policy{
		Family:  FamilyContinuous,
		Cap:     ReferenceMaxSecond,
		Default: NativeDefault,
	}
}

// Request is what to ask the model for and how to retime the result.
type Request struct {
	// Seconds is the generation length sent to the model.
	Seconds int
	// Target is the exact playback length after retiming; zero when Retime is false.
	Target float64
	Retime bool
}

// Resolve picks the generation length for a target duration. A target of
// zero or less means no target: the model default is used and the clip is
// not retimed.
//
// Bucketed families round toward the longer bucket once the threshold is
// reached, so clips are more often sped up than slowed down.
func (p Policy) Resolve(target float64) Request {
	if target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return Request{Seconds: p.Default}
	}

	req := Request{Target: target, Retime: true}
	switch p.Family {
	case FamilyBucketed:
		if target >= p.Threshold {
			req.Seconds = p.Buckets[1]
		} else {
			req.Seconds = p.Buckets[0]
		}
	case FamilyContinuous:
		seconds := int(math.Ceil(target))
		req.Seconds = min(p.Cap, max(1, seconds))
	default:
		req.Seconds = p.Default
	}
	return req
}

// SpeedFactor is actual/target: above 1 the clip must be sped up.
func SpeedFactor(actual, target float64) float64 {
	if target <= 0 {
		return 1
	}
	return actual / target
}

// AudioTempoSupported reports whether ffmpeg's atempo can apply speed in one pass.
func AudioTempoSupported(speed float64) bool {
	return speed >= MinAudioTempo && speed <= MaxAudioTempo
}

// TargetFor resolves a scene's target: an explicit map entry wins, then an
// even share of totalDuration, else zero (no target).
func TargetFor(sceneID int, durations storyboard.DurationMap, totalDuration float64, sceneCount int) float64 {
	if d, ok := durations[sceneID]; ok && d > 0 {
		return d
	}
	if totalDuration > 0 && sceneCount > 0 {
		return totalDuration / float64(sceneCount)
	}
	return 0
}
