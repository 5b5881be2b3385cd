package render

import (
	"fmt"
	"math"

	"faceless-pipeline/internal/types"
)

// The encoder takes strictly integer geometry and millisecond timing. All
// float values cross into that representation exactly once, here, so a type
// mismatch is caught before the render call instead of surfacing as an opaque
// encoder failure.

// clipSpec is one footage slot after normalization: how many loops of the
// source to lay down and where to cut.
type clipSpec struct {
	Source string
	Loops  int // extra -stream_loop passes needed to cover the slot
	SlotMs int
}

// overlaySpec is one subtitle with millisecond-exact timing.
type overlaySpec struct {
	Text    string
	StartMs int
	EndMs   int
}

// renderSpec is the fully integer-typed request handed to the encoder.
type renderSpec struct {
	AudioPath  string
	DurationMs int
	Width      int
	Height     int
	FPS        int
	Clips      []clipSpec
	Overlays   []overlaySpec
}

// millis converts seconds to whole milliseconds, rejecting values the
// encoder cannot represent.
func millis(sec float64) (int, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, fmt.Errorf("non-finite duration %v", sec)
	}
	if sec < 0 {
		return 0, fmt.Errorf("negative duration %.3fs", sec)
	}
	return int(math.Round(sec * 1000)), nil
}

// normalizeJob converts a render job's float timeline into the encoder's
// integer domain.
func normalizeJob(job types.RenderJob, width, height, fps int) (*renderSpec, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d@%d", width, height, fps)
	}

	totalMs, err := millis(job.Narration.Duration)
	if err != nil {
		return nil, fmt.Errorf("narration duration: %w", err)
	}
	if totalMs == 0 {
		return nil, fmt.Errorf("narration duration is zero")
	}

	spec := &renderSpec{
		AudioPath:  job.Narration.AudioPath,
		DurationMs: totalMs,
		Width:      width,
		Height:     height,
		FPS:        fps,
	}

	assignedMs := 0
	for i, a := range job.Assets {
		slotMs, err := millis(a.SlotSec)
		if err != nil {
			return nil, fmt.Errorf("asset %d slot: %w", i, err)
		}
		// The last clip absorbs rounding drift so clips sum to the
		// narration exactly.
		if i == len(job.Assets)-1 {
			slotMs = totalMs - assignedMs
		}
		if slotMs <= 0 {
			continue
		}
		assignedMs += slotMs

		loops := 0
		if a.Duration > 0 {
			srcMs, err := millis(a.Duration)
			if err != nil {
				return nil, fmt.Errorf("asset %d duration: %w", i, err)
			}
			if srcMs > 0 && srcMs < slotMs {
				// Shorter than the slot: restart from zero until covered.
				loops = (slotMs-1)/srcMs
			}
		}
		spec.Clips = append(spec.Clips, clipSpec{
			Source: a.LocalPath,
			Loops:  loops,
			SlotMs: slotMs,
		})
	}
	if len(spec.Clips) == 0 {
		return nil, fmt.Errorf("no footage assets to compose")
	}

	for i, s := range job.Segments {
		startMs, err := millis(s.Start)
		if err != nil {
			return nil, fmt.Errorf("segment %d start: %w", i, err)
		}
		endMs, err := millis(s.End)
		if err != nil {
			return nil, fmt.Errorf("segment %d end: %w", i, err)
		}
		if endMs <= startMs {
			return nil, fmt.Errorf("segment %d ends (%dms) before it starts (%dms)", i, endMs, startMs)
		}
		spec.Overlays = append(spec.Overlays, overlaySpec{Text: s.Text, StartMs: startMs, EndMs: endMs})
	}

	return spec, nil
}
