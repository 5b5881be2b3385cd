package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/pipeline"
	"faceless-pipeline/internal/publish"
	"faceless-pipeline/internal/research"
	"faceless-pipeline/internal/script"
	"faceless-pipeline/internal/session"
	"faceless-pipeline/internal/types"
)

const usage = `Usage: pipeline <command> [flags]

Commands:
  run      Generate a video: narration, footage, subtitles, render
  publish  Publish a rendered video to a platform
  login    Open a browser to sign in and save the session
  sweep    Apply the retention policy to the final output directory
`

func main() {
	// Load .env (local dev only; CI uses real env vars)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "run":
		cmdRun(ctx, cfg, os.Args[2:])
	case "publish":
		cmdPublish(ctx, cfg, os.Args[2:])
	case "login":
		cmdLogin(ctx, cfg, os.Args[2:])
	case "sweep":
		cmdSweep(cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func cmdRun(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scriptPath := fs.String("script", "", "path to a text file with the narration script")
	title := fs.String("title", "", "video title")
	keyword := fs.String("keyword", "", "base footage search keyword")
	category := fs.String("category", "interesting", "story category when sourcing from Reddit")
	doPublish := fs.Bool("publish", false, "publish to the configured platforms after rendering")
	yes := fs.Bool("yes", false, "skip the publish confirmation prompt")
	fs.Parse(args)

	if err := cfg.ValidateCredentials(); err != nil {
		log.Fatalf("%v", err)
	}

	sc := scriptFromArgs(ctx, cfg, *scriptPath, *title, *keyword, *category)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	artifact, err := p.Run(ctx, sc)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	if !*doPublish {
		return
	}
	if !*yes && !confirm(fmt.Sprintf("Publish %s to %v?", artifact.Path, cfg.Publish.Platforms)) {
		log.Println("Publish skipped — the video stays in the output directory")
		return
	}
	orch := newOrchestrator(cfg, p)
	for _, platform := range cfg.Publish.Platforms {
		req := publish.Request{
			Artifact:    artifact,
			Platform:    platform,
			Title:       sc.Title,
			Description: buildDescription(sc),
		}
		if err := orch.Publish(ctx, req); err != nil {
			log.Fatalf("Publish to %s failed: %v", platform, err)
		}
	}
}

// scriptFromArgs builds the narration script from a file, or pulls a story
// from Reddit when no script was supplied.
func scriptFromArgs(ctx context.Context, cfg *config.Config, path, title, keyword, category string) types.Script {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read script file: %v", err)
		}
		if title == "" {
			log.Fatalf("-title is required with -script")
		}
		return script.New(title, keyword, string(data))
	}

	log.Printf("[research] No script given — sourcing a %s story from Reddit", category)
	fetcher, err := research.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build Reddit client: %v", err)
	}
	rctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	story, err := fetcher.Fetch(rctx, category)
	if err != nil {
		log.Fatalf("Failed to source a story: %v", err)
	}
	if keyword == "" {
		keyword = category
	}
	return script.New(story.Title, keyword, story.Text)
}

func cmdPublish(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	videoPath := fs.String("video", "", "path to the rendered video (default: newest artifact)")
	platform := fs.String("platform", "youtube", "target platform")
	title := fs.String("title", "", "video title")
	description := fs.String("description", "", "video description")
	fs.Parse(args)

	if err := cfg.ValidatePublishCredentials(); err != nil {
		log.Fatalf("%v", err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}

	artifact := resolveArtifact(p, *videoPath)
	orch := newOrchestrator(cfg, p)
	req := publish.Request{
		Artifact:    artifact,
		Platform:    *platform,
		Title:       *title,
		Description: *description,
	}
	if err := orch.Publish(ctx, req); err != nil {
		log.Fatalf("Publish failed: %v", err)
	}
}

func cmdLogin(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	platform := fs.String("platform", "youtube", "platform to sign in to")
	fs.Parse(args)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}
	orch := newOrchestrator(cfg, p)

	log.Printf("A browser window will open on the %s sign-in page.", *platform)
	err = orch.Login(ctx, *platform, func() {
		fmt.Println("Sign in to your account in the browser, then press Enter here...")
		bufio.NewReader(os.Stdin).ReadString('\n')
	})
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}
	log.Printf("✅ %s session saved", *platform)
}

func cmdSweep(cfg *config.Config) {
	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}
	removed, err := p.Artifacts().Sweep(cfg.Retention.Cap)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Printf("✅ Sweep done: %d artifact(s) removed, cap %d", len(removed), cfg.Retention.Cap)
}

func newOrchestrator(cfg *config.Config, p *pipeline.Pipeline) *publish.Orchestrator {
	sessions := session.NewStore(cfg.Paths.Sessions, time.Duration(cfg.Publish.LockGraceSec)*time.Second)
	var api publish.APIPublisher
	if cfg.Publish.YouTubeViaAPI {
		api = publish.NewYouTubeAPIPublisher()
	}
	return publish.New(cfg, sessions, p.Artifacts(), publish.NewChromeDriver(), api)
}

func resolveArtifact(p *pipeline.Pipeline, videoPath string) *types.OutputArtifact {
	if videoPath != "" {
		artifact, err := p.Artifacts().ByPath(videoPath)
		if err != nil {
			log.Fatalf("Unknown video %s: %v", videoPath, err)
		}
		return artifact
	}
	artifacts, err := p.Artifacts().List()
	if err != nil {
		log.Fatalf("Failed to list artifacts: %v", err)
	}
	if len(artifacts) == 0 {
		log.Fatalf("No rendered videos found — run the pipeline first")
	}
	return &artifacts[0]
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}

func buildDescription(sc types.Script) string {
	if len(sc.Sentences) == 0 {
		return sc.Title
	}
	return sc.Sentences[0] + "\n\n#shorts"
}
