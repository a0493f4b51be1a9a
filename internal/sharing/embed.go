package sharing

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"

	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
)

var (
	ErrEmbedDisabled   = errors.New("embedding is disabled")
	ErrEmbedNotAllowed = errors.New("embedding is not allowed from this site")
)

const (
	defaultEmbedWidth  = 640
	defaultEmbedHeight = 360
)

var embedTemplate = template.Must(template.New("embed").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<link rel="alternate" type="application/json+oembed" href="{{.OEmbedURL}}" title="{{.Title}}">
<style>
html, body { margin: 0; height: 100%; background: #000; }
video { width: 100%; height: 100%; object-fit: contain; }
.byline { position: absolute; top: 8px; left: 12px; color: #fff; font: 13px sans-serif; text-decoration: none; opacity: .85; }
</style>
</head>
<body>
<a class="byline" href="{{.WatchURL}}" target="_blank" rel="noopener">{{.Title}} · {{.Author}}</a>
<video controls playsinline preload="metadata"{{if .PosterURL}} poster="{{.PosterURL}}"{{end}} data-video-id="{{.VideoID}}">
<source src="{{.PlaybackURL}}">
</video>
</body>
</html>
`))

// EmbedPage is the data behind the embeddable player
type EmbedPage struct {
	VideoID     string
	Title       string
	Author      string
	WatchURL    string
	OEmbedURL   string
	PlaybackURL string
	PosterURL   string
}

// Render writes the player HTML. Values are escaped by html/template.
func (p *EmbedPage) Render(w io.Writer) error {
	return embedTemplate.Execute(w, p)
}

func embeddable(video *models.Video) bool {
	if !video.IsReady() || !video.AllowEmbed {
		return false
	}
	return video.Visibility == models.VisibilityPublic || video.Visibility == models.VisibilityUnlisted
}

// refererAllowed checks the embedding page's host against the video's
// allow-list. An empty list allows every site; entries also match their
// subdomains.
func refererAllowed(domains models.StringArray, referer string) bool {
	if len(domains) == 0 {
		return true
	}
	if referer == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(d, "*."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Embed builds the player page for a video embedded on referer
func (s *Service) Embed(ctx context.Context, videoID, referer string) (page *EmbedPage, err error) {
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrEmbedDisabled):
			result = "disabled"
		case errors.Is(err, ErrEmbedNotAllowed):
			result = "forbidden"
		case err != nil:
			result = "not_found"
		}
		metrics.Get().EmbedLoadsTotal.WithLabelValues(result).Inc()
	}()

	if !s.embedEnabled {
		return nil, ErrEmbedDisabled
	}
	video, err := s.videos.Find(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !embeddable(video) {
		return nil, apierrors.NotFound("video")
	}
	if !refererAllowed(video.EmbedDomains, referer) {
		return nil, ErrEmbedNotAllowed
	}

	playback, err := s.videos.Playback(ctx, video)
	if err != nil {
		return nil, err
	}
	author := ""
	if video.Creator != nil {
		author = video.Creator.DisplayName
	}
	watchURL := s.webURL + "/watch/" + video.ID
	return &EmbedPage{
		VideoID:     video.ID,
		Title:       video.Title,
		Author:      author,
		WatchURL:    watchURL,
		OEmbedURL:   s.webURL + "/oembed?url=" + url.QueryEscape(watchURL),
		PlaybackURL: playback.PlaybackURL,
		PosterURL:   video.ThumbnailURL,
	}, nil
}

// OEmbed is an oEmbed 1.0 video response
type OEmbed struct {
	Type            string `json:"type"`
	Version         string `json:"version"`
	Title           string `json:"title"`
	AuthorName      string `json:"author_name,omitempty"`
	AuthorURL       string `json:"author_url,omitempty"`
	ProviderName    string `json:"provider_name"`
	ProviderURL     string `json:"provider_url"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	HTML            string `json:"html"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	DurationSeconds int    `json:"duration,omitempty"`
}

// videoIDFromURL accepts /watch/:id, /videos/:id and /embed/:id URLs on
// the site's own host
func (s *Service) videoIDFromURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	site, err := url.Parse(s.webURL)
	if err != nil || !strings.EqualFold(u.Hostname(), site.Hostname()) {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	switch parts[0] {
	case "watch", "videos", "embed":
		return parts[1], true
	}
	return "", false
}

// OEmbedFor describes the embed for a watch URL. maxWidth and maxHeight
// shrink the player while keeping 16:9; zero means no limit.
func (s *Service) OEmbedFor(ctx context.Context, rawURL string, maxWidth, maxHeight int) (*OEmbed, error) {
	if !s.embedEnabled {
		return nil, ErrEmbedDisabled
	}
	videoID, ok := s.videoIDFromURL(rawURL)
	if !ok {
		return nil, apierrors.NotFound("video")
	}
	video, err := s.videos.Find(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !embeddable(video) {
		return nil, apierrors.NotFound("video")
	}

	width, height := defaultEmbedWidth, defaultEmbedHeight
	if maxWidth > 0 && width > maxWidth {
		width = maxWidth
		height = width * 9 / 16
	}
	if maxHeight > 0 && height > maxHeight {
		height = maxHeight
		width = height * 16 / 9
	}

	embedURL := s.webURL + "/embed/" + video.ID
	out := &OEmbed{
		Type:            "video",
		Version:         "1.0",
		Title:           video.Title,
		ProviderName:    "Vidlayer",
		ProviderURL:     s.webURL,
		ThumbnailURL:    video.ThumbnailURL,
		Width:           width,
		Height:          height,
		DurationSeconds: int(video.DurationSeconds),
		HTML: fmt.Sprintf(`<iframe src="%s" width="%d" height="%d" frameborder="0" allow="autoplay; fullscreen" allowfullscreen></iframe>`,
			template.HTMLEscapeString(embedURL), width, height),
	}
	if video.Creator != nil {
		out.AuthorName = video.Creator.DisplayName
		out.AuthorURL = s.webURL + "/creators/" + video.Creator.Username
	}
	return out, nil
}
