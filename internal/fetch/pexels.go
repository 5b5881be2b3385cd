package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const pexelsSearchURL = "https://api.pexels.com/videos/search"

// Candidate is one provider result before download.
type Candidate struct {
	ID       string
	URL      string
	Duration float64
	Width    int
	Height   int
}

// Provider searches a stock footage source for portrait video candidates.
// An empty result is a valid response, not an error; it triggers the local
// library fallback.
type Provider interface {
	Search(ctx context.Context, keyword string, minDuration float64) ([]Candidate, error)
}

// PexelsProvider queries the Pexels video search API.
type PexelsProvider struct {
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewPexelsProvider builds a provider that respects the configured request
// rate. Pexels free-tier keys are rate limited, so all searches and downloads
// share one limiter.
func NewPexelsProvider(apiKey string, requestsPerSec float64, timeout time.Duration) *PexelsProvider {
	return &PexelsProvider{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

type pexelsVideoFile struct {
	Link     string `json:"link"`
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type pexelsVideo struct {
	ID         int               `json:"id"`
	Duration   float64           `json:"duration"`
	VideoFiles []pexelsVideoFile `json:"video_files"`
}

type pexelsResponse struct {
	Videos []pexelsVideo `json:"videos"`
}

// Search returns portrait MP4 candidates for a keyword, longest first, best
// rendition per video. Transient provider failures (timeouts, 429, 5xx) are
// retried with backoff; other statuses are permanent.
func (p *PexelsProvider) Search(ctx context.Context, keyword string, minDuration float64) ([]Candidate, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("PEXELS_API_KEY is not set")
	}

	query := url.Values{}
	query.Set("query", keyword)
	query.Set("orientation", "portrait")
	query.Set("per_page", "10")
	query.Set("size", "large")
	reqURL := pexelsSearchURL + "?" + query.Encode()

	operation := func() (*pexelsResponse, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("pexels status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("pexels status %d", resp.StatusCode))
		}

		var out pexelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode pexels response: %w", err))
		}
		return &out, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 10 * time.Second

	result, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, v := range result.Videos {
		best := bestRendition(v.VideoFiles)
		if best == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:       fmt.Sprintf("pexels_%d", v.ID),
			URL:      best.Link,
			Duration: v.Duration,
			Width:    best.Width,
			Height:   best.Height,
		})
	}

	// Longest first so a single clip can cover its slot without looping
	// where possible.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Duration > candidates[j].Duration })
	return candidates, nil
}

// bestRendition picks the highest-resolution MP4 file for a video.
func bestRendition(files []pexelsVideoFile) *pexelsVideoFile {
	var best *pexelsVideoFile
	for i := range files {
		f := &files[i]
		if f.FileType != "video/mp4" {
			continue
		}
		if best == nil || f.Height > best.Height {
			best = f
		}
	}
	return best
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
