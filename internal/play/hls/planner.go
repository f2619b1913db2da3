// Package hls computes HLS segment plans and renders main/media playlists.
//
// The segment-boundary math is ported directly from the transcoder this
// module replaces: copy-mode walks the probed keyframe list so that every
// segment boundary lands exactly on a keyframe (required because `copy`
// cannot insert new IDRs); transcode-mode cuts uniform segments because the
// Encoder Controller forces keyframes at those exact boundaries itself.
package hls

import (
	"math"

	"github.com/mantonx/playserver/internal/play"
)

const (
	// CopySegmentTarget is the nominal segment duration when remuxing
	// (copy-mode). The source's own keyframe spacing stretches/shrinks the
	// actual segment length around this target.
	CopySegmentTarget = 6.0
	// TranscodeSegmentTarget is the fixed segment duration when the encoder
	// is forcing its own keyframes.
	TranscodeSegmentTarget = 3.0
)

// SegmentTime returns the target segment duration for the given mode, the
// same values Transcoder.segment_time() used in the ported implementation.
func SegmentTime(copyMode bool) float64 {
	if copyMode {
		return CopySegmentTarget
	}
	return TranscodeSegmentTarget
}

// BuildCopyPlan walks the keyframe list, emitting a segment duration every
// time the next keyframe reaches or passes the running break time (which
// advances by target each time a segment is cut), and a final segment
// covering whatever remains to the source duration.
func BuildCopyPlan(duration float64, keyframes []float64) play.SegmentPlan {
	target := CopySegmentTarget
	breakTime := target
	prevKeyframe := 0.0

	var durations []float64
	for _, kf := range keyframes {
		if kf >= breakTime {
			durations = append(durations, kf-prevKeyframe)
			prevKeyframe = kf
			breakTime += target
		}
	}
	durations = append(durations, duration-prevKeyframe)

	return play.SegmentPlan{Durations: durations, CopyMode: true, TargetDuration: target}
}

// BuildTranscodePlan cuts duration into floor(duration/target) segments of
// exactly target seconds, plus one remainder segment if the division isn't
// exact.
func BuildTranscodePlan(duration float64) play.SegmentPlan {
	target := TranscodeSegmentTarget
	n := int(duration / target)
	leftOver := math.Mod(duration, target)

	durations := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		durations = append(durations, target)
	}
	if leftOver > 0 {
		durations = append(durations, leftOver)
	}

	return play.SegmentPlan{Durations: durations, CopyMode: false, TargetDuration: target}
}

// BuildPlan dispatches to BuildCopyPlan or BuildTranscodePlan depending on
// whether the session is copying video.
func BuildPlan(duration float64, keyframes []float64, copyVideo bool) play.SegmentPlan {
	if copyVideo {
		return BuildCopyPlan(duration, keyframes)
	}
	return BuildTranscodePlan(duration)
}

// StartTimeFromSegment sums plan durations in [0, i). Returns 0 if i < 1 or
// out of range, matching the ported start_time_from_segment.
func StartTimeFromSegment(plan play.SegmentPlan, i int) float64 {
	if i < 1 || i >= len(plan.Durations) {
		return 0
	}
	var total float64
	for _, d := range plan.Durations[:i] {
		total += d
	}
	return total
}

// StartSegmentFromStartTime performs a linear scan accumulating plan
// durations, returning the index whose cumulative end first exceeds t (0 if
// t <= 0), matching the ported start_segment_from_start_time.
func StartSegmentFromStartTime(plan play.SegmentPlan, t float64) int {
	if t <= 0 {
		return 0
	}
	var accum float64
	for i, d := range plan.Durations {
		accum += d
		if accum > t {
			return i
		}
	}
	return 0
}

// ClosestKeyframeTime returns the greatest keyframe <= t, or t itself when no
// keyframes are available.
func ClosestKeyframeTime(t float64, keyframes []float64) float64 {
	if len(keyframes) == 0 {
		return t
	}
	found := false
	var best float64
	for _, kf := range keyframes {
		if kf <= t && (!found || kf > best) {
			best = kf
			found = true
		}
	}
	if !found {
		return t
	}
	return best
}

// TargetDuration is the playlist-header EXT-X-TARGETDURATION value: the
// ceiling of the largest planned segment, or the nominal target duration
// when the plan has no segments yet.
func TargetDuration(plan play.SegmentPlan) int {
	if len(plan.Durations) == 0 {
		return int(math.Round(plan.TargetDuration))
	}
	max := plan.Durations[0]
	for _, d := range plan.Durations[1:] {
		if d > max {
			max = d
		}
	}
	return int(math.Ceil(max))
}
