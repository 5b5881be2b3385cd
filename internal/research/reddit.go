// Package research sources narration scripts from Reddit when the operator
// does not supply one.
package research

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"faceless-pipeline/internal/config"
)

// Story is one candidate script with its provenance.
type Story struct {
	Title string
	Text  string
	URL   string
}

// forbiddenKeywords filters out stories unsuitable for the channel.
var forbiddenKeywords = []string{
	"sexual", "porn", "drugs", "cocaine", "heroin", "meth", "weed",
	"propaganda", "politics", "election", "democrat", "republican",
}

// Fetcher pulls filtered stories from category-mapped subreddits.
type Fetcher struct {
	cfg    *config.Config
	client *reddit.Client
}

// New builds a fetcher. With REDDIT_CLIENT_ID/REDDIT_CLIENT_SECRET set it
// authenticates; otherwise it uses Reddit's read-only API.
func New(cfg *config.Config) (*Fetcher, error) {
	var client *reddit.Client
	var err error
	if id := os.Getenv("REDDIT_CLIENT_ID"); id != "" {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       id,
			Secret:   os.Getenv("REDDIT_CLIENT_SECRET"),
			Username: os.Getenv("REDDIT_USERNAME"),
			Password: os.Getenv("REDDIT_PASSWORD"),
		})
	} else {
		client, err = reddit.NewReadonlyClient()
	}
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}
	return &Fetcher{cfg: cfg, client: client}, nil
}

// Fetch returns the first hot post in the category's subreddit that passes
// the content filters: not stickied, not NSFW, no forbidden keywords, and a
// word count that fits a short.
func (f *Fetcher) Fetch(ctx context.Context, category string) (*Story, error) {
	name, ok := f.cfg.Research.Subreddits[strings.ToLower(category)]
	if !ok {
		name = f.cfg.Research.Subreddits["interesting"]
	}
	if name == "" {
		return nil, fmt.Errorf("no subreddit configured for category %q", category)
	}

	posts, _, err := f.client.Subreddit.HotPosts(ctx, name, &reddit.ListOptions{Limit: 25})
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", name, err)
	}

	for _, post := range posts {
		if post.Stickied || post.NSFW {
			continue
		}
		text := strings.ToLower(post.Title + " " + post.Body)
		if containsAny(text, forbiddenKeywords) {
			continue
		}
		words := len(strings.Fields(text))
		if words < f.cfg.Research.MinWords || words > f.cfg.Research.MaxWords {
			continue
		}
		log.Printf("[research] Selected story from r/%s: %q", name, post.Title)
		return &Story{Title: post.Title, Text: post.Body, URL: post.URL}, nil
	}
	return nil, fmt.Errorf("no suitable story in r/%s after filtering %d posts", name, len(posts))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
