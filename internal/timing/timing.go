// Package timing aligns narration word timings with subtitle segment
// boundaries.
package timing

import (
	"fmt"
	"math"
	"strings"

	"faceless-pipeline/internal/types"
)

// Policy controls how words are grouped into subtitle segments.
type Policy struct {
	MaxSegmentSec float64
	MaxWords      int
	// MinGapSec is inserted between consecutive segments. Zero keeps
	// segments contiguous, matching word-level overlay behavior.
	MinGapSec float64
}

// VerifyDuration checks the narration length against the script-derived
// estimate. A deviation beyond tolerance means a corrupt or partial
// narration artifact and is surfaced, never silently ignored.
func VerifyDuration(n *types.NarrationResult, expectedSec, toleranceFrac float64) error {
	if expectedSec <= 0 {
		return nil
	}
	deviation := math.Abs(n.Duration-expectedSec) / expectedSec
	if deviation > toleranceFrac {
		return types.NewStageError("timing", types.CodeTimingMismatch,
			fmt.Errorf("narration is %.1fs but the script predicts %.1fs (deviation %.0f%%, tolerance %.0f%%)",
				n.Duration, expectedSec, deviation*100, toleranceFrac*100))
	}
	return nil
}

// BuildSegments groups consecutive words into subtitle segments. A segment
// ends when its on-screen span would exceed the policy maximum, when the word
// count would exceed the maximum, or when a sentence boundary is crossed,
// whichever triggers first. A single word longer than the maximum still forms
// its own segment.
//
// The produced segments cover [0, narration duration] exactly: each segment
// starts where the previous one ended (plus the configured gap) and the last
// one ends at the narration's end. The duration cap is measured from that
// start, so leading silence absorbed from the previous segment's end counts
// against the cap too.
func BuildSegments(n *types.NarrationResult, sentences []string, p Policy) ([]types.SubtitleSegment, error) {
	if len(n.Words) == 0 {
		return nil, fmt.Errorf("narration has no word timings")
	}
	if p.MaxSegmentSec <= 0 || p.MaxWords <= 0 {
		return nil, fmt.Errorf("invalid segment policy: max duration %.2f, max words %d", p.MaxSegmentSec, p.MaxWords)
	}

	boundaries := sentenceBoundaries(sentences, len(n.Words))

	var segments []types.SubtitleSegment
	var segWords []string
	cursor := 0.0

	flush := func(endIdx int) {
		if len(segWords) == 0 {
			return
		}
		end := n.Words[endIdx].End
		segments = append(segments, types.SubtitleSegment{
			Text:      strings.Join(segWords, " "),
			Start:     cursor,
			End:       end,
			WordCount: len(segWords),
		})
		cursor = end + p.MinGapSec
		segWords = segWords[:0]
	}

	for i, w := range n.Words {
		if len(segWords) > 0 {
			// Span is measured from the segment's emitted start (the
			// cursor), not the first word's start, so a pause between words
			// cannot stretch the on-screen time past the cap.
			if w.End-cursor > p.MaxSegmentSec || len(segWords) >= p.MaxWords || boundaries[i] {
				flush(i - 1)
			}
		}
		segWords = append(segWords, w.Word)
	}
	flush(len(n.Words) - 1)

	// The last word's end and the audio duration can differ by container
	// rounding; pin the final segment to the narration end so the sequence
	// covers the full timeline.
	segments[len(segments)-1].End = n.Duration
	return segments, nil
}

// sentenceBoundaries marks word indices that start a new sentence, derived
// from per-sentence word counts. When the narration has more words than the
// script (numbers read as several words, etc.) the tail carries no boundaries,
// which only makes segments end sooner, never split mid-sentence.
func sentenceBoundaries(sentences []string, totalWords int) []bool {
	marks := make([]bool, totalWords)
	idx := 0
	for i, s := range sentences {
		if i > 0 && idx < totalWords {
			marks[idx] = true
		}
		idx += len(strings.Fields(s))
	}
	return marks
}
