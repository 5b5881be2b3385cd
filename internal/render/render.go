// Package render composes narration, footage, and subtitles into the final
// portrait video via ffmpeg.
package render

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/types"
)

// Coordinator sequences the composition steps for one render job.
type Coordinator struct {
	cfg *config.Config
}

// New creates a render coordinator.
func New(cfg *config.Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Run produces exactly one output file for the job. Footage shorter than its
// slot is looped from the start; footage longer is trimmed from the start.
// On failure the incomplete output is removed so a half-written artifact is
// never left behind.
func (c *Coordinator) Run(ctx context.Context, job types.RenderJob) (outPath string, err error) {
	spec, err := normalizeJob(job, c.cfg.Render.Width, c.cfg.Render.Height, c.cfg.Render.FPS)
	if err != nil {
		return "", types.NewStageError("render", types.CodeRenderFailure, fmt.Errorf("normalize job: %w", err))
	}

	workDir := filepath.Join(job.OutputDir, "render")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", types.NewStageError("render", types.CodeRenderFailure, err)
	}

	finalPath := filepath.Join(job.OutputDir, fmt.Sprintf("final_video_%d.mp4", time.Now().Unix()))
	defer func() {
		if err != nil {
			// Never leave a partial artifact on disk.
			os.Remove(finalPath)
		}
	}()

	log.Printf("[render] Composing %d clips + %d subtitle segments (%.1fs)...",
		len(spec.Clips), len(spec.Overlays), float64(spec.DurationMs)/1000)

	silent, err := c.composeBackground(ctx, spec, workDir)
	if err != nil {
		return "", types.NewStageError("render", types.CodeRenderFailure, fmt.Errorf("compose background: %w", err))
	}

	srtPath := filepath.Join(workDir, "subtitles.srt")
	if err := writeSRT(srtPath, spec.Overlays); err != nil {
		return "", types.NewStageError("render", types.CodeRenderFailure, fmt.Errorf("write subtitles: %w", err))
	}

	if err := c.muxFinal(ctx, silent, spec.AudioPath, srtPath, finalPath); err != nil {
		return "", types.NewStageError("render", types.CodeRenderFailure, fmt.Errorf("mux final: %w", err))
	}

	log.Printf("[render] ✅ Final video ready: %s", finalPath)
	return finalPath, nil
}

// composeBackground prepares each clip to exactly its slot length and
// concatenates them into one silent portrait video.
func (c *Coordinator) composeBackground(ctx context.Context, spec *renderSpec, workDir string) (string, error) {
	coverFilter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=%d",
		spec.Width, spec.Height, spec.Width, spec.Height, spec.FPS,
	)

	var lines []string
	for i, clip := range spec.Clips {
		prepared := filepath.Join(workDir, fmt.Sprintf("prepared_%03d.mp4", i))
		args := []string{"-y"}
		if clip.Loops > 0 {
			args = append(args, "-stream_loop", fmt.Sprintf("%d", clip.Loops))
		}
		args = append(args,
			"-i", clip.Source,
			"-t", msArg(clip.SlotMs),
			"-vf", coverFilter,
			"-c:v", "libx264",
			"-preset", c.cfg.Render.Preset,
			"-crf", fmt.Sprintf("%d", c.cfg.Render.CRF),
			"-pix_fmt", "yuv420p",
			"-an",
			prepared,
		)
		if err := runFFmpeg(ctx, args...); err != nil {
			return "", fmt.Errorf("prepare clip %d: %w", i, err)
		}
		lines = append(lines, fmt.Sprintf("file '%s'", prepared))
	}

	listFile := filepath.Join(workDir, "concat_list.txt")
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", err
	}

	outFile := filepath.Join(workDir, "background.mp4")
	err := runFFmpeg(ctx, "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		outFile,
	)
	if err != nil {
		return "", fmt.Errorf("concat clips: %w", err)
	}
	return outFile, nil
}

// muxFinal burns the subtitles and muxes the narration in a single pass.
func (c *Coordinator) muxFinal(ctx context.Context, videoFile, audioFile, srtFile, outFile string) error {
	subFilter := fmt.Sprintf(
		"subtitles=%s:force_style='FontName=%s,FontSize=%d,Bold=1,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=%.0f,Alignment=2,MarginV=%d'",
		escapeSubtitlePath(srtFile),
		c.cfg.Subtitles.Font,
		c.cfg.Subtitles.FontSize,
		c.cfg.Subtitles.StrokeWidth,
		c.cfg.Subtitles.MarginBottom,
	)

	return runFFmpeg(ctx, "-y",
		"-i", videoFile,
		"-i", audioFile,
		"-vf", subFilter,
		"-c:v", "libx264",
		"-preset", c.cfg.Render.Preset,
		"-crf", fmt.Sprintf("%d", c.cfg.Render.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		outFile,
	)
}

// writeSRT serializes the overlays as an SRT file for ffmpeg's subtitles
// filter.
func writeSRT(path string, overlays []overlaySpec) error {
	var b strings.Builder
	for i, o := range overlays {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(o.StartMs), srtTime(o.EndMs), o.Text)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func srtTime(ms int) string {
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

func msArg(ms int) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// escapeSubtitlePath escapes the characters ffmpeg's subtitles filter
// mangles in paths.
func escapeSubtitlePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	return path
}
