package publish

import (
	"fmt"
	"time"
)

// Flow is one platform's declarative upload sequence: where to go, how to
// recognize a dead session, the steps to perform, and the signals that decide
// the outcome.
type Flow struct {
	Platform  string
	UploadURL string
	LoginURL  string
	// LoginMarkers are URL fragments that mean the platform bounced us to
	// a sign-in page: the saved session is no longer authenticated.
	LoginMarkers []string
	Steps        func(videoPath, title, description string) []Action
	Success      []Signal
}

// FlowFor returns the upload flow for a platform.
func FlowFor(platform string) (*Flow, error) {
	switch platform {
	case "youtube":
		return &youtubeFlow, nil
	case "tiktok":
		return &tiktokFlow, nil
	}
	return nil, fmt.Errorf("unknown platform %q", platform)
}

// Platforms lists every platform with a browser flow.
func Platforms() []string { return []string{"youtube", "tiktok"} }

var youtubeFlow = Flow{
	Platform:     "youtube",
	UploadURL:    "https://studio.youtube.com",
	LoginURL:     "https://accounts.google.com/signin",
	LoginMarkers: []string{"accounts.google.com", "/login"},
	Steps: func(videoPath, title, description string) []Action {
		return []Action{
			// Open the upload dialog; the icon id has survived several
			// Studio redesigns, the create menu is the fallback.
			{Kind: ActionClick, Selector: "#upload-icon, ytcp-button#upload-icon, ytcp-icon-button#upload-icon", Timeout: 10 * time.Second, Optional: true},
			{Kind: ActionUpload, Selector: `input[type="file"]`, Files: []string{videoPath}, Timeout: 30 * time.Second},
			{Kind: ActionWaitVisible, Selector: "#title-textarea #textbox, #textbox[aria-label='Add a title that describes your video']", Timeout: 45 * time.Second},
			{Kind: ActionClear, Selector: "#title-textarea #textbox"},
			{Kind: ActionType, Selector: "#title-textarea #textbox, #textbox[aria-label='Add a title that describes your video']", Value: title},
			{Kind: ActionType, Selector: "#description-textarea #textbox, #textbox[aria-label='Tell viewers about your video']", Value: description, Optional: true},
			// Audience declaration is mandatory before Next is enabled.
			{Kind: ActionClick, Selector: "tp-yt-paper-radio-button[name='VIDEO_MADE_FOR_KIDS_NOT_MFK'], #off[name='VIDEO_MADE_FOR_KIDS_NOT_MFK']", Timeout: 15 * time.Second},
			{Kind: ActionClick, Selector: "#next-button, ytcp-button#next-button", Repeat: 3, Timeout: 15 * time.Second},
			{Kind: ActionClick, Selector: "tp-yt-paper-radio-button[name='PUBLIC'], #public-radio-button", Timeout: 15 * time.Second},
			// The publish button stays disabled until upload processing
			// finishes; this is the long pole of the whole flow.
			{Kind: ActionWaitEnabled, Selector: "#done-button, ytcp-button#done-button, ytcp-button#publish-button", Timeout: 10 * time.Minute},
			{Kind: ActionClick, Selector: "#done-button, ytcp-button#done-button, ytcp-button#publish-button", Timeout: 30 * time.Second},
		}
	},
	Success: []Signal{
		{Name: "share_dialog", Selector: "ytcp-video-share-dialog", Polarity: Positive, Weight: StrongWeight},
		{Name: "confirm_dialog_title", Selector: "#dialog-title", Polarity: Positive, Weight: StrongWeight},
		{Name: "processing_badge", Selector: "ytcp-video-upload-progress", Polarity: Positive, Weight: 3},
		{Name: "error_banner", Selector: "ytcp-uploads-dialog .error-short, tp-yt-paper-dialog [dialog-title*='Error']", Polarity: Negative, Weight: StrongWeight},
	},
}

var tiktokFlow = Flow{
	Platform:     "tiktok",
	UploadURL:    "https://www.tiktok.com/creator#/upload?scene=creator_center",
	LoginURL:     "https://www.tiktok.com/login",
	LoginMarkers: []string{"/login", "/passport"},
	Steps: func(videoPath, title, description string) []Action {
		caption := title
		if description != "" {
			caption = title + "\n\n" + description
		}
		return []Action{
			{Kind: ActionUpload, Selector: `input[type="file"][accept="video/*"], input[type="file"]`, Files: []string{videoPath}, Timeout: 60 * time.Second},
			{Kind: ActionWaitVisible, Selector: `button[data-e2e="post_video_button"], .btn-post button`, Timeout: 60 * time.Second, Optional: true},
			{Kind: ActionClear, Selector: `div[contenteditable="true"], .public-DraftEditor-content`},
			{Kind: ActionType, Selector: `div[contenteditable="true"], .public-DraftEditor-content`, Value: caption, Timeout: 60 * time.Second},
			{Kind: ActionWaitEnabled, Selector: `button[data-e2e="post_video_button"], .btn-post button`, Timeout: 5 * time.Minute},
			{Kind: ActionClick, Selector: `button[data-e2e="post_video_button"], .btn-post button`, Timeout: 30 * time.Second},
		}
	},
	Success: []Signal{
		{Name: "manage_posts_modal", Selector: ".tiktok-modal__modal-button", Polarity: Positive, Weight: StrongWeight},
		{Name: "upload_done_banner", Selector: `[data-e2e="upload_done"], .upload-success`, Polarity: Positive, Weight: StrongWeight},
		{Name: "error_toast", Selector: ".upload-error, [data-e2e='upload_error']", Polarity: Negative, Weight: StrongWeight},
	},
}
