package timing

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceless-pipeline/internal/types"
)

// evenNarration builds a narration of n words spoken at a constant rate over
// total seconds.
func evenNarration(n int, total float64) *types.NarrationResult {
	words := make([]types.WordTiming, n)
	per := total / float64(n)
	for i := range words {
		words[i] = types.WordTiming{
			Word:  fmt.Sprintf("word%d", i),
			Start: float64(i) * per,
			End:   float64(i+1) * per,
		}
	}
	return &types.NarrationResult{Duration: total, Words: words}
}

func TestVerifyDuration(t *testing.T) {
	n := &types.NarrationResult{Duration: 30}

	assert.NoError(t, VerifyDuration(n, 28, 0.35))

	err := VerifyDuration(n, 10, 0.35)
	require.Error(t, err)
	assert.Equal(t, types.CodeTimingMismatch, types.CodeOf(err))

	// No estimate means nothing to verify against.
	assert.NoError(t, VerifyDuration(n, 0, 0.35))
}

func TestBuildSegmentsDurationCap(t *testing.T) {
	// 45 words over 30 seconds with a 4-second cap needs at least 8 segments.
	n := evenNarration(45, 30)
	segments, err := BuildSegments(n, nil, Policy{MaxSegmentSec: 4, MaxWords: 100})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(segments), 8)
	for _, seg := range segments {
		assert.LessOrEqual(t, seg.End-seg.Start, 4.0+1e-9, "segment %q too long", seg.Text)
	}
}

func TestBuildSegmentsWordCap(t *testing.T) {
	n := evenNarration(20, 10)
	segments, err := BuildSegments(n, nil, Policy{MaxSegmentSec: 60, MaxWords: 6})
	require.NoError(t, err)

	for _, seg := range segments {
		assert.LessOrEqual(t, seg.WordCount, 6)
	}
}

func TestBuildSegmentsCoverTimeline(t *testing.T) {
	n := evenNarration(45, 30)
	segments, err := BuildSegments(n, nil, Policy{MaxSegmentSec: 4, MaxWords: 6})
	require.NoError(t, err)

	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, n.Duration, segments[len(segments)-1].End)
	for i := 1; i < len(segments); i++ {
		assert.InDelta(t, segments[i-1].End, segments[i].Start, 1e-9,
			"segment %d must start where %d ended", i, i-1)
	}
}

func TestBuildSegmentsMinGap(t *testing.T) {
	n := evenNarration(12, 6)
	segments, err := BuildSegments(n, nil, Policy{MaxSegmentSec: 2, MaxWords: 4, MinGapSec: 0.1})
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	for i := 1; i < len(segments); i++ {
		assert.InDelta(t, segments[i-1].End+0.1, segments[i].Start, 1e-9)
	}
}

func TestBuildSegmentsSentenceBoundary(t *testing.T) {
	// Two sentences of 4 and 5 words; no segment may span the boundary.
	n := evenNarration(9, 9)
	sentences := []string{"one two three four", "five six seven eight nine"}
	segments, err := BuildSegments(n, sentences, Policy{MaxSegmentSec: 60, MaxWords: 100})
	require.NoError(t, err)

	require.Len(t, segments, 2)
	assert.Equal(t, 4, segments[0].WordCount)
	assert.Equal(t, 5, segments[1].WordCount)
}

func TestBuildSegmentsOversizedWord(t *testing.T) {
	// A single word longer than the cap still gets its own segment.
	n := &types.NarrationResult{
		Duration: 8,
		Words: []types.WordTiming{
			{Word: "quick", Start: 0, End: 1},
			{Word: "sloooow", Start: 1, End: 7},
			{Word: "done", Start: 7, End: 8},
		},
	}
	segments, err := BuildSegments(n, nil, Policy{MaxSegmentSec: 4, MaxWords: 6})
	require.NoError(t, err)

	var found bool
	for _, seg := range segments {
		if strings.Contains(seg.Text, "sloooow") {
			found = true
			assert.Equal(t, 1, seg.WordCount)
		}
	}
	assert.True(t, found)
}

func TestBuildSegmentsCapCountsAbsorbedSilence(t *testing.T) {
	// A long pause mid-narration: the word after the pause starts a segment at
	// the previous segment's end, so the silence it absorbs counts against the
	// duration cap and the following word cannot piggyback past it.
	n := &types.NarrationResult{
		Duration: 7,
		Words: []types.WordTiming{
			{Word: "one", Start: 0, End: 1},
			{Word: "two", Start: 1, End: 2},
			{Word: "three", Start: 6, End: 6.5},
			{Word: "four", Start: 6.5, End: 7},
		},
	}
	segments, err := BuildSegments(n, nil, Policy{MaxSegmentSec: 3, MaxWords: 2})
	require.NoError(t, err)

	require.Len(t, segments, 3)
	assert.Equal(t, 2, segments[0].WordCount)
	assert.Equal(t, 1, segments[1].WordCount)
	assert.Equal(t, 1, segments[2].WordCount)

	// Only the single-word segment straddling the pause may exceed the cap.
	for _, seg := range segments {
		if seg.WordCount > 1 {
			assert.LessOrEqual(t, seg.End-seg.Start, 3.0+1e-9, "segment %q too long", seg.Text)
		}
	}
	assert.Equal(t, n.Duration, segments[len(segments)-1].End)
}

func TestBuildSegmentsRejectsEmptyAndBadPolicy(t *testing.T) {
	_, err := BuildSegments(&types.NarrationResult{}, nil, Policy{MaxSegmentSec: 4, MaxWords: 6})
	assert.Error(t, err)

	_, err = BuildSegments(evenNarration(5, 5), nil, Policy{MaxSegmentSec: 0, MaxWords: 6})
	assert.Error(t, err)
}
