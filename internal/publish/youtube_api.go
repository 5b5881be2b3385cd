package publish

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTubeAPIPublisher uploads through the YouTube Data API v3 instead of the
// browser. It needs an OAuth client with a refresh token (YOUTUBE_CLIENT_ID,
// YOUTUBE_CLIENT_SECRET, YOUTUBE_REFRESH_TOKEN) and skips session handling
// entirely: the API has no UI to drift.
type YouTubeAPIPublisher struct {
	categoryID string
	visibility string
}

// NewYouTubeAPIPublisher creates the API publish path.
func NewYouTubeAPIPublisher() *YouTubeAPIPublisher {
	return &YouTubeAPIPublisher{categoryID: "22", visibility: "public"}
}

// Publish uploads the video with a resumable insert and returns its ID.
func (u *YouTubeAPIPublisher) Publish(ctx context.Context, videoPath, title, description string) (string, error) {
	transport, err := u.oauthTransport(ctx)
	if err != nil {
		return "", fmt.Errorf("youtube auth: %w", err)
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(&http.Client{Transport: transport}))
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: description,
			CategoryId:  u.categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           u.visibility,
			SelfDeclaredMadeForKids: false,
		},
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		log.Printf("[publish] Uploading %.1f MB via YouTube Data API...", float64(fi.Size())/1024/1024)
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	return uploaded.Id, nil
}

func (u *YouTubeAPIPublisher) oauthTransport(ctx context.Context) (*oauth2.Transport, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return &oauth2.Transport{Source: conf.TokenSource(ctx, token)}, nil
}
