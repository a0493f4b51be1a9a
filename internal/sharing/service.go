// Package sharing hands out tokenized links to videos and serves the
// embeddable player.
package sharing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/videos"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrShareLinkNotFound  = errors.New("share link not found")
	ErrShareLinkRevoked   = errors.New("share link has been revoked")
	ErrShareLinkExpired   = errors.New("share link has expired")
	ErrShareLinkExhausted = errors.New("share link has reached its view limit")
	ErrPasswordRequired   = errors.New("share link requires a password")
	ErrWrongPassword      = errors.New("share link password is incorrect")
)

const (
	tokenBytes         = 24
	maxEmailRecipients = 10
)

// VideoSource is what sharing needs from the video service
type VideoSource interface {
	Find(ctx context.Context, videoID string) (*models.Video, error)
	Playback(ctx context.Context, video *models.Video) (*videos.Playback, error)
}

// Notifier emails share links. email.Notifier implements it.
type Notifier interface {
	ShareLink(ctx context.Context, to, fromName, videoTitle, shareURL string, hasPassword bool) error
}

// Service manages share links and embeds
type Service struct {
	db           *gorm.DB
	videos       VideoSource
	notifier     Notifier
	webURL       string
	embedEnabled bool
	now          func() time.Time
}

// NewService creates the sharing service. webURL is the public site used
// in share and embed links.
func NewService(db *gorm.DB, source VideoSource, webURL string, embedEnabled bool) *Service {
	return &Service{
		db:           db,
		videos:       source,
		webURL:       strings.TrimRight(webURL, "/"),
		embedEnabled: embedEnabled,
		now:          time.Now,
	}
}

// SetNotifier enables emailing share links
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateInput configures a new share link
type CreateInput struct {
	Password         string `json:"password" binding:"omitempty,min=4,max=72"`
	ExpiresInSeconds int64  `json:"expires_in" binding:"gte=0"`
	MaxViews         int    `json:"max_views" binding:"gte=0"`
}

// LinkView is a share link with its public URL
type LinkView struct {
	*models.ShareLink
	URL         string `json:"url"`
	HasPassword bool   `json:"has_password"`
}

func (s *Service) view(link *models.ShareLink) *LinkView {
	return &LinkView{ShareLink: link, URL: s.ShareURL(link.Token), HasPassword: link.HasPassword()}
}

// ShareURL is the public address for a token
func (s *Service) ShareURL(token string) string {
	return s.webURL + "/share/" + token
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Service) ownedVideo(ctx context.Context, owner *models.User, videoID string) (*models.Video, error) {
	video, err := s.videos.Find(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.CreatorID != owner.ID && !owner.IsAdmin {
		return nil, apierrors.NotFound("video")
	}
	return video, nil
}

// Create issues a share link for a video the caller owns
func (s *Service) Create(ctx context.Context, owner *models.User, videoID string, in CreateInput) (*LinkView, error) {
	video, err := s.ownedVideo(ctx, owner, videoID)
	if err != nil {
		return nil, err
	}
	if in.ExpiresInSeconds < 0 {
		return nil, apierrors.ValidationError("expires_in", "expires_in cannot be negative")
	}
	if in.MaxViews < 0 {
		return nil, apierrors.ValidationError("max_views", "max_views cannot be negative")
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate share token: %w", err)
	}
	link := &models.ShareLink{
		VideoID:   video.ID,
		CreatorID: video.CreatorID,
		Token:     token,
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash share password: %w", err)
		}
		hashed := string(hash)
		link.PasswordHash = &hashed
	}
	if in.ExpiresInSeconds > 0 {
		expires := s.now().Add(time.Duration(in.ExpiresInSeconds) * time.Second).UTC()
		link.ExpiresAt = &expires
	}
	if in.MaxViews > 0 {
		maxViews := in.MaxViews
		link.MaxViews = &maxViews
	}

	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}

	logger.Log.Info("Share link created",
		logger.WithVideoID(video.ID),
		zap.String("share_link_id", link.ID),
		zap.Bool("password", link.HasPassword()),
	)
	return s.view(link), nil
}

// List returns a video's share links, newest first
func (s *Service) List(ctx context.Context, owner *models.User, videoID string) ([]*LinkView, error) {
	video, err := s.ownedVideo(ctx, owner, videoID)
	if err != nil {
		return nil, err
	}
	var links []models.ShareLink
	if err := s.db.WithContext(ctx).Where("video_id = ?", video.ID).Order("created_at DESC").Find(&links).Error; err != nil {
		return nil, err
	}
	out := make([]*LinkView, 0, len(links))
	for i := range links {
		out = append(out, s.view(&links[i]))
	}
	return out, nil
}

func (s *Service) ownedLink(ctx context.Context, owner *models.User, linkID string) (*models.ShareLink, error) {
	var link models.ShareLink
	err := s.db.WithContext(ctx).First(&link, "id = ?", linkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if link.CreatorID != owner.ID && !owner.IsAdmin {
		return nil, ErrShareLinkNotFound
	}
	return &link, nil
}

// Revoke disables a link. Revoking twice is harmless.
func (s *Service) Revoke(ctx context.Context, owner *models.User, linkID string) (*LinkView, error) {
	link, err := s.ownedLink(ctx, owner, linkID)
	if err != nil {
		return nil, err
	}
	if link.RevokedAt == nil {
		revokedAt := s.now().UTC()
		if err := s.db.WithContext(ctx).Model(link).Update("revoked_at", revokedAt).Error; err != nil {
			return nil, err
		}
		link.RevokedAt = &revokedAt
	}
	return s.view(link), nil
}

// Resolution is what a valid share link unlocks
type Resolution struct {
	ShareLinkID string `json:"share_link_id"`
	*videos.Playback
}

// Resolve opens a share link. Every successful resolve counts against the
// link's view limit.
func (s *Service) Resolve(ctx context.Context, token, password string) (res *Resolution, err error) {
	defer func() {
		metrics.Get().ShareResolutionsTotal.WithLabelValues(resolutionResult(err)).Inc()
	}()

	var link models.ShareLink
	err = s.db.WithContext(ctx).Where("token = ?", token).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareLinkNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkLive(&link); err != nil {
		return nil, err
	}
	if link.IsExhausted() {
		return nil, ErrShareLinkExhausted
	}
	if link.HasPassword() {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)) != nil {
			return nil, ErrWrongPassword
		}
	}

	video, err := s.videos.Find(ctx, link.VideoID)
	if err != nil {
		return nil, err
	}
	if !video.IsReady() {
		return nil, apierrors.NotFound("video")
	}

	// Count the view only while the limit allows it
	result := s.db.WithContext(ctx).Model(&models.ShareLink{}).
		Where("id = ? AND revoked_at IS NULL AND (max_views IS NULL OR view_count < max_views)", link.ID).
		Update("view_count", gorm.Expr("view_count + 1"))
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrShareLinkExhausted
	}

	playback, err := s.videos.Playback(ctx, video)
	if err != nil {
		return nil, err
	}
	return &Resolution{ShareLinkID: link.ID, Playback: playback}, nil
}

// checkLive refuses revoked and expired links
func (s *Service) checkLive(link *models.ShareLink) error {
	switch {
	case link.RevokedAt != nil:
		return ErrShareLinkRevoked
	case link.IsExpired(s.now()):
		return ErrShareLinkExpired
	}
	return nil
}

// LinkForView returns the share link behind token when it may attribute a
// view of videoID. Revoked and expired links are refused. A link at its view
// limit still attributes: the limit is spent by Resolve, which admitted the
// viewer that is now reporting.
func (s *Service) LinkForView(ctx context.Context, token, videoID string) (*models.ShareLink, error) {
	var link models.ShareLink
	err := s.db.WithContext(ctx).Where("token = ? AND video_id = ?", token, videoID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkLive(&link); err != nil {
		return nil, err
	}
	return &link, nil
}

func resolutionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrShareLinkNotFound):
		return "not_found"
	case errors.Is(err, ErrShareLinkRevoked):
		return "revoked"
	case errors.Is(err, ErrShareLinkExpired):
		return "expired"
	case errors.Is(err, ErrShareLinkExhausted):
		return "exhausted"
	case errors.Is(err, ErrPasswordRequired), errors.Is(err, ErrWrongPassword):
		return "password"
	default:
		return "error"
	}
}

// EmailInput sends a share link to a few people
type EmailInput struct {
	Recipients []string `json:"recipients" binding:"required,min=1"`
}

// Email sends the link to each recipient. It stops at the first delivery
// failure.
func (s *Service) Email(ctx context.Context, owner *models.User, linkID string, in EmailInput) (int, error) {
	if s.notifier == nil {
		return 0, apierrors.ServiceUnavailable("email")
	}
	if len(in.Recipients) == 0 || len(in.Recipients) > maxEmailRecipients {
		return 0, apierrors.ValidationError("recipients", fmt.Sprintf("send to between 1 and %d recipients", maxEmailRecipients))
	}
	addresses := make([]string, 0, len(in.Recipients))
	for _, r := range in.Recipients {
		addr, err := mail.ParseAddress(strings.TrimSpace(r))
		if err != nil {
			return 0, apierrors.ValidationError("recipients", "invalid email address: "+r)
		}
		addresses = append(addresses, addr.Address)
	}

	link, err := s.ownedLink(ctx, owner, linkID)
	if err != nil {
		return 0, err
	}
	if link.RevokedAt != nil {
		return 0, ErrShareLinkRevoked
	}
	video, err := s.videos.Find(ctx, link.VideoID)
	if err != nil {
		return 0, err
	}

	from := owner.DisplayName
	if from == "" {
		from = owner.Username
	}
	sent := 0
	for _, to := range addresses {
		if err := s.notifier.ShareLink(ctx, to, from, video.Title, s.ShareURL(link.Token), link.HasPassword()); err != nil {
			logger.Log.Warn("Share email failed", zap.String("share_link_id", link.ID), zap.Error(err))
			return sent, apierrors.ServiceUnavailable("email").Wrap(err)
		}
		sent++
	}
	return sent, nil
}
