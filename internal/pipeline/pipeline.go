// Package pipeline sequences the stages that turn a script into a rendered,
// retention-managed artifact, and hands approved artifacts to the publish
// orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/fetch"
	"faceless-pipeline/internal/narration"
	"faceless-pipeline/internal/render"
	"faceless-pipeline/internal/script"
	"faceless-pipeline/internal/store"
	"faceless-pipeline/internal/timing"
	"faceless-pipeline/internal/types"
)

// RunState is the persisted record of one pipeline run, saved after every
// stage so a failed run tells the operator exactly where it stopped.
type RunState struct {
	RunID       string                  `json:"run_id"`
	StartedAt   string                  `json:"started_at"`
	CompletedAt string                  `json:"completed_at,omitempty"`
	Script      types.Script            `json:"script"`
	Narration   *types.NarrationResult  `json:"narration,omitempty"`
	Assets      []types.FootageAsset    `json:"assets,omitempty"`
	Segments    []types.SubtitleSegment `json:"segments,omitempty"`
	Artifact    *types.OutputArtifact   `json:"artifact,omitempty"`
	FailedStage string                  `json:"failed_stage,omitempty"`
	FailureCode string                  `json:"failure_code,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Pipeline wires the stage implementations together.
type Pipeline struct {
	cfg       *config.Config
	narrator  narration.Synthesizer
	fetcher   *fetch.Fetcher
	renderer  *render.Coordinator
	artifacts *store.Store
}

// New builds a pipeline over the production collaborators.
func New(cfg *config.Config) (*Pipeline, error) {
	library, err := fetch.LoadLibrary(cfg.Fetch.LibraryDir, cfg.Fetch.LibraryTags)
	if err != nil {
		return nil, fmt.Errorf("load asset library: %w", err)
	}
	provider := fetch.NewPexelsProvider(
		os.Getenv("PEXELS_API_KEY"),
		cfg.Fetch.RequestsPerSec,
		time.Duration(cfg.Fetch.TimeoutSec)*time.Second,
	)
	artifacts, err := store.Open(cfg.Paths.Final)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		narrator:  narration.New(cfg),
		fetcher:   fetch.New(cfg, provider, library),
		renderer:  render.New(cfg),
		artifacts: artifacts,
	}, nil
}

// Artifacts exposes the artifact store for publish and sweep commands.
func (p *Pipeline) Artifacts() *store.Store { return p.artifacts }

// Run executes the stages in order (footage fetch and subtitle segmentation
// run in parallel) and returns the registered artifact. Every external call
// runs under a timeout so one stuck collaborator cannot hang the run.
func (p *Pipeline) Run(ctx context.Context, sc types.Script) (*types.OutputArtifact, error) {
	runID := uuid.NewString()[:8]
	runDir := filepath.Join(p.cfg.Paths.Output, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	log.Printf("🎬 Pipeline starting — Run ID: %s", runID)
	state := &RunState{
		RunID:     runID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Script:    sc,
	}
	defer func() {
		state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
		p.saveState(state, runDir)
	}()

	// ━━━ Stage 1: Narration ━━━
	log.Println("━━━ STAGE 1: Narration ━━━")
	narrCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Narration.TimeoutSec)*time.Second)
	narr, err := p.narrator.Synthesize(narrCtx, joinSentences(sc), filepath.Join(runDir, "audio"))
	cancel()
	if err != nil {
		return nil, p.failed(state, runDir, "narration", err)
	}
	expected := script.ExpectedDuration(sc, p.cfg.Narration.WordsPerMinute)
	if err := timing.VerifyDuration(narr, expected, p.cfg.Narration.ToleranceFrac); err != nil {
		return nil, p.failed(state, runDir, "narration", err)
	}
	state.Narration = narr
	p.saveState(state, runDir)

	// ━━━ Stage 2: Footage + subtitle timing (parallel) ━━━
	log.Println("━━━ STAGE 2: Footage + Subtitles ━━━")
	var assets []types.FootageAsset
	var segments []types.SubtitleSegment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetchCtx, cancel := context.WithTimeout(gctx, time.Duration(p.cfg.Fetch.TimeoutSec)*time.Second*time.Duration(len(sc.Sentences)))
		defer cancel()
		var err error
		assets, err = p.fetcher.Fetch(fetchCtx, footageRequests(sc, narr.Duration), filepath.Join(runDir, "video"))
		return err
	})
	g.Go(func() error {
		var err error
		segments, err = timing.BuildSegments(narr, sc.Sentences, timing.Policy{
			MaxSegmentSec: p.cfg.Subtitles.MaxSegmentSec,
			MaxWords:      p.cfg.Subtitles.MaxWords,
			MinGapSec:     float64(p.cfg.Subtitles.MinGapMs) / 1000,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, p.failed(state, runDir, "fetch", err)
	}
	state.Assets = assets
	state.Segments = segments
	p.saveState(state, runDir)

	// ━━━ Stage 3: Render ━━━
	log.Println("━━━ STAGE 3: Render ━━━")
	job := types.RenderJob{
		Narration: *narr,
		Assets:    assets,
		Segments:  segments,
		OutputDir: p.cfg.Paths.Final,
	}
	outPath, err := p.renderer.Run(ctx, job)
	if err != nil {
		return nil, p.failed(state, runDir, "render", err)
	}

	artifact, err := p.artifacts.Register(outPath)
	if err != nil {
		return nil, p.failed(state, runDir, "render", err)
	}
	state.Artifact = artifact
	p.saveState(state, runDir)

	// ━━━ Stage 4: Retention sweep ━━━
	if _, err := p.artifacts.Sweep(p.cfg.Retention.Cap); err != nil {
		// Housekeeping failure doesn't invalidate the fresh artifact.
		log.Printf("[retention] Warning: sweep failed: %v", err)
	}

	log.Printf("✅ Pipeline complete — artifact %s (%s)", artifact.ID, artifact.Path)
	return artifact, nil
}

// failed records where and why a run stopped before returning its error.
func (p *Pipeline) failed(state *RunState, runDir, stage string, err error) error {
	state.FailedStage = stage
	var se *types.StageError
	if errors.As(err, &se) {
		state.FailedStage = se.Stage
		state.FailureCode = string(se.Code)
	}
	state.Error = err.Error()
	p.saveState(state, runDir)
	log.Printf("❌ Pipeline failed at %s: %v", state.FailedStage, err)
	return err
}

func (p *Pipeline) saveState(state *RunState, runDir string) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Printf("Warning: could not marshal run state: %v", err)
		return
	}
	path := filepath.Join(runDir, "pipeline_state.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("Warning: could not save %s: %v", path, err)
	}
}

// footageRequests sizes one footage slot per sentence, proportional to its
// share of the narration.
func footageRequests(sc types.Script, total float64) []fetch.Request {
	keywords := script.Keywords(sc)
	shares := script.SentenceShares(sc, total)
	reqs := make([]fetch.Request, len(keywords))
	for i := range keywords {
		reqs[i] = fetch.Request{Index: i, Keyword: keywords[i], Duration: shares[i]}
	}
	return reqs
}

func joinSentences(sc types.Script) string {
	out := ""
	for i, s := range sc.Sentences {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
