// Package fetch acquires background footage: stock video search and download
// with bounded concurrency, falling back to a local clip library when the
// provider comes up empty.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/types"
)

// Request is one footage slot to fill: a keyword and the seconds of timeline
// it must cover. Index fixes the asset's position in the composed video.
type Request struct {
	Index    int
	Keyword  string
	Duration float64
}

// Fetcher downloads footage for a set of keyword requests.
type Fetcher struct {
	cfg      *config.Config
	provider Provider
	library  *Library
	client   *http.Client
}

// New builds a fetcher around a provider and the local fallback library.
func New(cfg *config.Config, provider Provider, library *Library) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		provider: provider,
		library:  library,
		client:   &http.Client{Timeout: time.Duration(cfg.Fetch.TimeoutSec) * time.Second},
	}
}

// Fetch resolves every request concurrently, bounded by the configured worker
// count, and returns assets re-assembled in request order regardless of which
// download finished first. Requests the provider could not serve are filled
// from the local library after the parallel phase, in request order, so the
// same keyword set and library state always yield the same picks; only when
// provider and library are both exhausted does the whole fetch fail with
// AssetUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, requests []Request, outDir string) ([]types.FootageAsset, error) {
	if len(requests) == 0 {
		return nil, types.NewStageError("fetch", types.CodeAssetUnavailable, fmt.Errorf("no footage requests"))
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}

	results := make([]*types.FootageAsset, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Fetch.Workers)
	for _, req := range requests {
		g.Go(func() error {
			asset, err := f.fetchOne(gctx, req, outDir)
			if err != nil {
				return err
			}
			results[req.Index] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Library fallback runs single-threaded and in request order: clip
	// assignment must not depend on which worker finished first.
	for i, req := range requests {
		if results[i] != nil || f.library.Empty() {
			continue
		}
		path, err := f.library.Pick(req.Keyword)
		if err != nil {
			continue
		}
		results[i] = &types.FootageAsset{
			ID:        "library_" + filepath.Base(path),
			Keyword:   req.Keyword,
			LocalPath: path,
			SlotSec:   req.Duration,
			Fallback:  true,
		}
	}

	// Fill any slot the fallback couldn't serve from its nearest resolved
	// neighbor, so a single dead keyword never sinks the whole run.
	assets := make([]types.FootageAsset, len(results))
	for i, a := range results {
		if a == nil {
			n := nearestResolved(results, i)
			if n == nil {
				return nil, types.NewStageError("fetch", types.CodeAssetUnavailable,
					fmt.Errorf("no footage for any of %d keywords and the local library is empty", len(requests)))
			}
			copied := *n
			copied.SlotSec = requests[i].Duration
			results[i] = &copied
		}
		assets[i] = *results[i]
	}
	return assets, nil
}

// fetchOne tries the provider for one keyword. It returns (nil, nil) when the
// provider has nothing usable; the caller resolves the library fallback.
func (f *Fetcher) fetchOne(ctx context.Context, req Request, outDir string) (*types.FootageAsset, error) {
	log.Printf("[fetch] Clip %d: %q (%.1fs)", req.Index+1, req.Keyword, req.Duration)

	candidates, err := f.provider.Search(ctx, req.Keyword, req.Duration)
	if err != nil {
		log.Printf("[fetch] Provider failed for %q: %v — will fall back to library", req.Keyword, err)
	}

	for _, c := range candidates {
		localPath := filepath.Join(outDir, fmt.Sprintf("clip_%03d.mp4", req.Index))
		if err := f.download(ctx, c.URL, localPath); err != nil {
			log.Printf("[fetch] Download failed for %q: %v", req.Keyword, err)
			continue
		}
		return &types.FootageAsset{
			ID:        c.ID,
			Keyword:   req.Keyword,
			SourceURL: c.URL,
			LocalPath: localPath,
			Duration:  c.Duration,
			SlotSec:   req.Duration,
			Width:     c.Width,
			Height:    c.Height,
		}, nil
	}

	return nil, nil
}

// download streams the asset to a temp file and renames it into place, so an
// interrupted transfer never leaves a half-written clip behind. Retries with
// backoff on transient failures.
func (f *Fetcher) download(ctx context.Context, srcURL, dest string) error {
	operation := func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if isRetryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("download status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("download status %d", resp.StatusCode))
		}

		tmp := dest + ".tmp"
		out, err := os.Create(tmp)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			os.Remove(tmp)
			return nil, err
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return nil, err
		}
		return nil, os.Rename(tmp, dest)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(f.cfg.Fetch.MaxRetries)))
	return err
}

func nearestResolved(results []*types.FootageAsset, i int) *types.FootageAsset {
	for d := 1; d < len(results); d++ {
		if j := i - d; j >= 0 && results[j] != nil {
			return results[j]
		}
		if j := i + d; j < len(results) && results[j] != nil {
			return results[j]
		}
	}
	return nil
}
