// Package narration wraps the external text-to-speech service. The service
// contract: text in, an audio file plus word-level timings out. A partial
// timing return is treated as failure, never success.
package narration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/types"
)

// Synthesizer converts script text into narration audio with word timings.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, outDir string) (*types.NarrationResult, error)
}

// Client drives the narration engine as a subprocess, the same way the
// renderer drives ffmpeg. Set NARRATION_COMMAND to a binary that accepts
//
//	<cmd> --voice V --output out.mp3 --timings out.json
//
// with the text on stdin. Defaults to edge-tts if installed.
type Client struct {
	cfg *config.Config
}

// New creates a narration client.
func New(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

// timingEntry mirrors the engine's word-boundary JSON sidecar.
type timingEntry struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Synthesize generates narration for the full script text and validates that
// the returned timings cover it.
func (c *Client) Synthesize(ctx context.Context, text string, outDir string) (*types.NarrationResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot synthesize empty text")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}

	audioFile := filepath.Join(outDir, "narration.mp3")
	timingsFile := filepath.Join(outDir, "narration_words.json")

	engine, err := c.engineCommand()
	if err != nil {
		return nil, err
	}

	log.Printf("[narration] Generating audio via %s (%d words)...", engine, len(strings.Fields(text)))

	run := func() (any, error) {
		cmd := exec.CommandContext(ctx, engine,
			"--voice", c.cfg.Narration.Voice,
			"--output", audioFile,
			"--timings", timingsFile,
		)
		cmd.Stdin = strings.NewReader(text)
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("narration engine: %w", err)
		}
		return nil, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	if _, err := backoff.Retry(ctx, run, backoff.WithBackOff(bo), backoff.WithMaxTries(3)); err != nil {
		return nil, err
	}

	return c.validate(text, audioFile, timingsFile)
}

// validate enforces the service contract: non-empty audio with a positive
// duration, and timings that span the full text.
func (c *Client) validate(text, audioFile, timingsFile string) (*types.NarrationResult, error) {
	info, err := os.Stat(audioFile)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("narration produced an empty or missing audio file")
	}

	duration, err := probeDuration(audioFile)
	if err != nil {
		return nil, fmt.Errorf("measure narration duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("narration audio has invalid duration (%.2fs)", duration)
	}

	data, err := os.ReadFile(timingsFile)
	if err != nil {
		return nil, fmt.Errorf("narration did not produce word timings: %w", err)
	}
	var entries []timingEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse word timings: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("narration returned no word timings")
	}

	words := make([]types.WordTiming, len(entries))
	prevEnd := 0.0
	for i, e := range entries {
		end := e.Start + e.Duration
		if e.Start < prevEnd-1e-6 {
			return nil, fmt.Errorf("word timings not monotonic at index %d", i)
		}
		words[i] = types.WordTiming{Word: e.Text, Start: e.Start, End: end}
		prevEnd = end
	}

	// A timing track that stops well short of the audio means the engine
	// returned a partial result. Treat it as failure, not success.
	scriptWords := len(strings.Fields(text))
	if len(words) < scriptWords {
		return nil, fmt.Errorf("partial narration: %d timed words for %d script words", len(words), scriptWords)
	}
	if duration-prevEnd > 2.0 {
		return nil, fmt.Errorf("word timings cover %.1fs of %.1fs audio", prevEnd, duration)
	}
	// Timings carry more precision than the container duration; trust them.
	if prevEnd > duration {
		duration = prevEnd
	}

	log.Printf("[narration] ✅ Audio ready: %s (%.1fs, %d words)", audioFile, duration, len(words))
	return &types.NarrationResult{AudioPath: audioFile, Duration: duration, Words: words}, nil
}

func (c *Client) engineCommand() (string, error) {
	if cmd := os.Getenv("NARRATION_COMMAND"); cmd != "" {
		return strings.TrimSpace(cmd), nil
	}
	if _, err := exec.LookPath("edge-tts"); err == nil {
		return "edge-tts", nil
	}
	return "", fmt.Errorf("no narration engine found: set NARRATION_COMMAND in .env or install edge-tts")
}

// probeDuration asks ffprobe for the audio duration in seconds.
func probeDuration(audioFile string) (float64, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioFile,
	).Output()
	if err != nil {
		return 0, err
	}
	var dur float64
	_, err = fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur)
	return dur, err
}
