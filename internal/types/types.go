package types

import "time"

// Script is the narration text, already split into sentences.
// Immutable once ingested; every downstream timestamp derives from it.
type Script struct {
	Title     string   `json:"title"`
	Keyword   string   `json:"keyword"`
	Sentences []string `json:"sentences"`
}

// WordCount returns the total number of words across all sentences.
func (s Script) WordCount() int {
	n := 0
	for _, sent := range s.Sentences {
		n += countWords(sent)
	}
	return n
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// WordTiming is one spoken word with its position on the narration timeline.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NarrationResult is the output of the narration service: an audio file plus
// word-level timings. Timings are monotonically non-decreasing and cover the
// full narration duration.
type NarrationResult struct {
	AudioPath string       `json:"audio_path"`
	Duration  float64      `json:"duration_sec"`
	Words     []WordTiming `json:"words"`
}

// SubtitleSegment is a contiguous span of words shown as one subtitle.
type SubtitleSegment struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	WordCount int     `json:"word_count"`
}

// FootageAsset is one downloaded background clip. Owned by the fetcher until
// handed to the render coordinator; read-only after that.
type FootageAsset struct {
	ID        string  `json:"id"`
	Keyword   string  `json:"keyword"`
	SourceURL string  `json:"source_url,omitempty"`
	LocalPath string  `json:"local_path"`
	Duration  float64 `json:"duration_sec"`
	SlotSec   float64 `json:"slot_sec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// RenderJob binds narration, footage, and subtitles to one output path.
// Immutable after creation; exactly one job produces exactly one artifact.
type RenderJob struct {
	Narration NarrationResult   `json:"narration"`
	Assets    []FootageAsset    `json:"assets"`
	Segments  []SubtitleSegment `json:"segments"`
	OutputDir string            `json:"output_dir"`
}

// PublishStatus is the per-platform lifecycle of a rendered artifact.
type PublishStatus string

const (
	StatusUnpublished PublishStatus = "unpublished"
	StatusPublishing  PublishStatus = "publishing"
	StatusPublished   PublishStatus = "published"
	StatusFailed      PublishStatus = "failed"
)

// OutputArtifact is one rendered video tracked by the retention manager.
// Only the Platforms map mutates after creation (by the publish orchestrator).
type OutputArtifact struct {
	ID        string                   `json:"id"`
	Path      string                   `json:"path"`
	CreatedAt time.Time                `json:"created_at"`
	Platforms map[string]PublishStatus `json:"platforms"`
}

// StatusFor returns the publish status for a platform, defaulting to unpublished.
func (a *OutputArtifact) StatusFor(platform string) PublishStatus {
	if a.Platforms == nil {
		return StatusUnpublished
	}
	if st, ok := a.Platforms[platform]; ok {
		return st
	}
	return StatusUnpublished
}

// Publishing reports whether any platform currently holds this artifact
// in publishing state; such artifacts are never retention candidates.
func (a *OutputArtifact) Publishing() bool {
	for _, st := range a.Platforms {
		if st == StatusPublishing {
			return true
		}
	}
	return false
}
