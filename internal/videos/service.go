// Package videos owns the video lifecycle: presigned uploads, imports,
// access control for playback, view accounting and search.
package videos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/zfogg/vidlayer/internal/cache"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/storage"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubscriptionChecker answers whether a viewer pays for a creator's
// subscriber-only videos
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, subscriberID, creatorID string) (bool, error)
}

// ImportEnqueuer hands import jobs to the background workers
type ImportEnqueuer interface {
	Enqueue(jobID string) error
}

// Options configures URL lifetimes and view de-duplication
type Options struct {
	UploadURLTTL   time.Duration
	PlaybackURLTTL time.Duration
	DedupWindow    time.Duration
}

// Service implements the video operations
type Service struct {
	db      *gorm.DB
	store   storage.VideoStore
	index   search.Index
	cache   cache.Store
	subs    SubscriptionChecker
	imports ImportEnqueuer
	opts    Options
	now     func() time.Time
}

// NewService wires the video service. subs and imports may be set later
// with SetSubscriptionChecker and SetImportEnqueuer.
func NewService(db *gorm.DB, store storage.VideoStore, index search.Index, kv cache.Store, opts Options) *Service {
	if opts.UploadURLTTL <= 0 {
		opts.UploadURLTTL = 15 * time.Minute
	}
	if opts.PlaybackURLTTL <= 0 {
		opts.PlaybackURLTTL = 6 * time.Hour
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 30 * time.Minute
	}
	return &Service{db: db, store: store, index: index, cache: kv, opts: opts, now: time.Now}
}

// SetSubscriptionChecker enables subscriber-only playback
func (s *Service) SetSubscriptionChecker(subs SubscriptionChecker) {
	s.subs = subs
}

// SetImportEnqueuer connects the import worker pool
func (s *Service) SetImportEnqueuer(q ImportEnqueuer) {
	s.imports = q
}

// Metadata is the editable part of a video shared by uploads and imports
type Metadata struct {
	Title        string            `json:"title" binding:"required,max=200"`
	Description  string            `json:"description" binding:"max=5000"`
	Category     string            `json:"category" binding:"max=50"`
	Tags         []string          `json:"tags"`
	Visibility   models.Visibility `json:"visibility"`
	AllowAds     *bool             `json:"allow_ads"`
	AllowEmbed   *bool             `json:"allow_embed"`
	EmbedDomains []string          `json:"embed_domains"`
}

func (m Metadata) apply(video *models.Video) error {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return apierrors.ValidationError("title", "title is required")
	}
	visibility := m.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if !visibility.Valid() {
		return apierrors.ValidationError("visibility", "visibility must be public, unlisted, private or subscribers")
	}
	domains, err := normalizeDomains(m.EmbedDomains)
	if err != nil {
		return err
	}

	video.Title = title
	video.Description = strings.TrimSpace(m.Description)
	video.Category = strings.ToLower(strings.TrimSpace(m.Category))
	video.Tags = models.StringArray(util.NormalizeTags(m.Tags))
	video.Visibility = visibility
	video.AllowAds = m.AllowAds == nil || *m.AllowAds
	video.AllowEmbed = m.AllowEmbed == nil || *m.AllowEmbed
	video.EmbedDomains = models.StringArray(domains)
	return nil
}

// normalizeDomains lower-cases embed allow-list hosts and strips any scheme
// or path a creator pasted in
func normalizeDomains(domains []string) ([]string, error) {
	out := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.Contains(d, "://") {
			u, err := url.Parse(d)
			if err != nil || u.Hostname() == "" {
				return nil, apierrors.ValidationError("embed_domains", fmt.Sprintf("invalid domain %q", d))
			}
			d = u.Hostname()
		}
		d = strings.TrimSuffix(strings.SplitN(d, "/", 2)[0], ".")
		if d == "" || strings.ContainsAny(d, " \t") {
			return nil, apierrors.ValidationError("embed_domains", "invalid embed domain")
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// CreateUploadRequest starts a direct-to-storage upload
type CreateUploadRequest struct {
	Metadata
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

// UploadTicket is returned to the client, which PUTs the file to UploadURL
type UploadTicket struct {
	Video     *models.Video `json:"video"`
	UploadURL string        `json:"upload_url"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// CreateUpload creates a video in the uploading state and presigns the PUT
func (s *Service) CreateUpload(ctx context.Context, creator *models.User, req CreateUploadRequest) (*UploadTicket, error) {
	if !creator.IsCreator() {
		return nil, apierrors.Forbidden("only creators can upload videos")
	}
	if err := util.ValidateFilename(req.Filename); err != nil {
		return nil, apierrors.ValidationError("filename", err.Error())
	}
	if !util.IsValidVideoFile(req.Filename) {
		return nil, apierrors.ValidationError("filename", "unsupported video format (mp4, m4v, mov, webm, mkv)")
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = util.VideoContentType(req.Filename)
	} else if !util.IsValidVideoContentType(contentType) {
		return nil, apierrors.ValidationError("content_type", "unsupported content type")
	}

	video := &models.Video{
		CreatorID:   creator.ID,
		Status:      models.VideoStatusUploading,
		SourceType:  models.SourceUpload,
		ContentType: contentType,
	}
	if err := req.Metadata.apply(video); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(video).Error; err != nil {
			return err
		}
		video.StorageKey = storage.VideoKey(creator.ID, video.ID, req.Filename)
		return tx.Model(video).Update("storage_key", video.StorageKey).Error
	})
	if err != nil {
		metrics.Get().VideoUploadsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("failed to create video: %w", err)
	}

	uploadURL, err := s.store.PresignUpload(ctx, video.StorageKey, contentType, s.opts.UploadURLTTL)
	if err != nil {
		metrics.Get().VideoUploadsTotal.WithLabelValues("upload", "error").Inc()
		return nil, apierrors.ServiceUnavailable("storage").Wrap(err)
	}

	metrics.Get().VideoUploadsTotal.WithLabelValues("upload", "started").Inc()
	logger.Log.Info("Upload started",
		logger.WithVideoID(video.ID),
		logger.WithCreatorID(creator.ID),
	)

	return &UploadTicket{
		Video:     video,
		UploadURL: uploadURL,
		ExpiresAt: s.now().UTC().Add(s.opts.UploadURLTTL),
	}, nil
}

// CompleteUpload marks an upload ready once the object is in storage.
// Completing a ready video again is a no-op.
func (s *Service) CompleteUpload(ctx context.Context, user *models.User, videoID string) (*models.Video, error) {
	video, err := s.ownedVideo(ctx, user, videoID)
	if err != nil {
		return nil, err
	}
	if video.Status == models.VideoStatusReady {
		return video, nil
	}
	if video.Status != models.VideoStatusUploading {
		return nil, apierrors.Conflict("upload")
	}

	info, err := s.store.Head(ctx, video.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apierrors.BadRequest("the video file has not been uploaded yet")
	}
	if err != nil {
		return nil, apierrors.ServiceUnavailable("storage").Wrap(err)
	}

	now := s.now().UTC()
	updates := map[string]interface{}{
		"status":       models.VideoStatusReady,
		"size_bytes":   info.Size,
		"published_at": now,
	}
	if info.ContentType != "" && util.IsValidVideoContentType(info.ContentType) {
		updates["content_type"] = info.ContentType
	}
	result := s.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ?", video.ID, models.VideoStatusUploading).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, apierrors.Conflict("upload")
	}

	video, err = s.load(ctx, video.ID)
	if err != nil {
		return nil, err
	}
	metrics.Get().VideoUploadsTotal.WithLabelValues("upload", "completed").Inc()
	s.Reindex(ctx, video)
	return video, nil
}

// ImportRequest copies a video from a public URL
type ImportRequest struct {
	Metadata
	SourceURL string `json:"source_url" binding:"required"`
}

// Import creates a processing video and queues the download
func (s *Service) Import(ctx context.Context, creator *models.User, req ImportRequest) (*models.Video, *models.ImportJob, error) {
	if !creator.IsCreator() {
		return nil, nil, apierrors.Forbidden("only creators can import videos")
	}
	source, err := url.Parse(strings.TrimSpace(req.SourceURL))
	if err != nil || (source.Scheme != "http" && source.Scheme != "https") || source.Host == "" {
		return nil, nil, apierrors.ValidationError("source_url", "source_url must be an http or https URL")
	}

	video := &models.Video{
		CreatorID:  creator.ID,
		Status:     models.VideoStatusProcessing,
		SourceType: models.SourceImport,
		SourceURL:  source.String(),
	}
	if err := req.Metadata.apply(video); err != nil {
		return nil, nil, err
	}

	job := &models.ImportJob{CreatorID: creator.ID, SourceURL: video.SourceURL}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(video).Error; err != nil {
			return err
		}
		job.VideoID = video.ID
		return tx.Create(job).Error
	})
	if err != nil {
		metrics.Get().VideoUploadsTotal.WithLabelValues("import", "error").Inc()
		return nil, nil, fmt.Errorf("failed to create import: %w", err)
	}

	if s.imports != nil {
		if err := s.imports.Enqueue(job.ID); err != nil {
			// The job stays queued and is picked up by the next recovery pass
			logger.Log.Warn("Import queue rejected job",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}

	metrics.Get().VideoUploadsTotal.WithLabelValues("import", "started").Inc()
	logger.Log.Info("Import queued",
		logger.WithVideoID(video.ID),
		zap.String("job_id", job.ID),
	)
	return video, job, nil
}

// ImportStatus returns the import job behind an imported video
func (s *Service) ImportStatus(ctx context.Context, user *models.User, videoID string) (*models.ImportJob, error) {
	video, err := s.ownedVideo(ctx, user, videoID)
	if err != nil {
		return nil, err
	}
	var job models.ImportJob
	err = s.db.WithContext(ctx).Where("video_id = ?", video.ID).Order("created_at DESC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("import job")
	}
	return &job, err
}

// Playback is a video plus a short-lived URL to stream it
type Playback struct {
	Video       *models.Video `json:"video"`
	PlaybackURL string        `json:"playback_url,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// Get returns a video if viewer may see it. The playback URL is included
// once the video is ready.
func (s *Service) Get(ctx context.Context, viewer *models.User, videoID string) (*Playback, error) {
	video, err := s.load(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if err := s.CanWatch(ctx, viewer, video); err != nil {
		return nil, err
	}
	return s.Playback(ctx, video)
}

// Playback presigns the stream URL for a video the caller already
// authorised
func (s *Service) Playback(ctx context.Context, video *models.Video) (*Playback, error) {
	p := &Playback{Video: video}
	if !video.IsReady() || video.StorageKey == "" {
		return p, nil
	}
	playbackURL, err := s.store.PresignPlayback(ctx, video.StorageKey, s.opts.PlaybackURLTTL)
	if err != nil {
		return nil, apierrors.ServiceUnavailable("storage").Wrap(err)
	}
	expires := s.now().UTC().Add(s.opts.PlaybackURLTTL)
	p.PlaybackURL = playbackURL
	p.ExpiresAt = &expires
	return p, nil
}

// CanWatch applies the visibility rules. Owners and admins can always watch;
// everyone else needs a ready video and, for subscriber-only videos, an
// active subscription.
func (s *Service) CanWatch(ctx context.Context, viewer *models.User, video *models.Video) error {
	if viewer != nil && (viewer.ID == video.CreatorID || viewer.IsAdmin) {
		return nil
	}
	if !video.IsReady() {
		return apierrors.NotFound("video")
	}

	switch video.Visibility {
	case models.VisibilityPublic, models.VisibilityUnlisted:
		return nil
	case models.VisibilitySubscribers:
		if viewer == nil {
			return apierrors.Unauthorized("sign in to watch subscriber-only videos")
		}
		if s.subs == nil {
			return apierrors.PaymentRequired("an active subscription is required")
		}
		ok, err := s.subs.HasActiveSubscription(ctx, viewer.ID, video.CreatorID)
		if err != nil {
			return err
		}
		if !ok {
			return apierrors.PaymentRequired("an active subscription is required")
		}
		return nil
	default:
		return apierrors.NotFound("video")
	}
}

// ListParams filters public listings
type ListParams struct {
	CreatorID string
	Category  string
	Query     string
	Limit     int
	Offset    int
}

// List returns listed videos, newest first. A query is answered by the
// search index.
func (s *Service) List(ctx context.Context, params ListParams) ([]models.Video, int64, error) {
	if strings.TrimSpace(params.Query) != "" {
		return s.listFromSearch(ctx, params)
	}

	query := s.db.WithContext(ctx).Model(&models.Video{}).
		Where("visibility = ? AND status = ?", models.VisibilityPublic, models.VideoStatusReady)
	if params.CreatorID != "" {
		query = query.Where("creator_id = ?", params.CreatorID)
	}
	if params.Category != "" {
		query = query.Where("category = ?", strings.ToLower(params.Category))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var videos []models.Video
	err := query.Preload("Creator").
		Order("published_at DESC, created_at DESC").
		Limit(params.Limit).Offset(params.Offset).
		Find(&videos).Error
	return videos, total, err
}

func (s *Service) listFromSearch(ctx context.Context, params ListParams) ([]models.Video, int64, error) {
	result, err := s.Search(ctx, search.VideoSearchParams{
		Query:     params.Query,
		Category:  strings.ToLower(params.Category),
		CreatorID: params.CreatorID,
		Limit:     params.Limit,
		Offset:    params.Offset,
	})
	if err != nil {
		return nil, 0, err
	}
	if len(result.Videos) == 0 {
		return []models.Video{}, int64(result.Total), nil
	}

	ids := make([]string, len(result.Videos))
	for i, hit := range result.Videos {
		ids[i] = hit.ID
	}
	var found []models.Video
	if err := s.db.WithContext(ctx).Preload("Creator").Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, 0, err
	}

	// Keep the index's ranking and drop anything that stopped being listed
	byID := make(map[string]models.Video, len(found))
	for _, v := range found {
		byID[v.ID] = v
	}
	videos := make([]models.Video, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok && v.IsListed() {
			videos = append(videos, v)
		}
	}
	return videos, int64(result.Total), nil
}

// ListMine returns all of a creator's videos regardless of state
func (s *Service) ListMine(ctx context.Context, creatorID string, limit, offset int) ([]models.Video, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Video{}).Where("creator_id = ?", creatorID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var videos []models.Video
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&videos).Error
	return videos, total, err
}

// Search queries the index
func (s *Service) Search(ctx context.Context, params search.VideoSearchParams) (*search.VideoSearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = 20
	}
	result, err := s.index.SearchVideos(ctx, params)
	if err != nil {
		return nil, apierrors.ServiceUnavailable("search").Wrap(err)
	}
	return result, nil
}

// UpdateRequest changes video metadata. Nil fields are left alone.
type UpdateRequest struct {
	Title        *string            `json:"title" binding:"omitempty,max=200"`
	Description  *string            `json:"description" binding:"omitempty,max=5000"`
	Category     *string            `json:"category" binding:"omitempty,max=50"`
	Tags         []string           `json:"tags"`
	Visibility   *models.Visibility `json:"visibility"`
	AllowAds     *bool              `json:"allow_ads"`
	AllowEmbed   *bool              `json:"allow_embed"`
	EmbedDomains []string           `json:"embed_domains"`
	ThumbnailURL *string            `json:"thumbnail_url" binding:"omitempty,url"`
}

// Update edits a video the user owns
func (s *Service) Update(ctx context.Context, user *models.User, videoID string, req UpdateRequest) (*models.Video, error) {
	video, err := s.ownedVideo(ctx, user, videoID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apierrors.ValidationError("title", "title is required")
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updates["category"] = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.Tags != nil {
		updates["tags"] = models.StringArray(util.NormalizeTags(req.Tags))
	}
	if req.Visibility != nil {
		if !req.Visibility.Valid() {
			return nil, apierrors.ValidationError("visibility", "visibility must be public, unlisted, private or subscribers")
		}
		updates["visibility"] = *req.Visibility
	}
	if req.AllowAds != nil {
		updates["allow_ads"] = *req.AllowAds
	}
	if req.AllowEmbed != nil {
		updates["allow_embed"] = *req.AllowEmbed
	}
	if req.EmbedDomains != nil {
		domains, err := normalizeDomains(req.EmbedDomains)
		if err != nil {
			return nil, err
		}
		updates["embed_domains"] = models.StringArray(domains)
	}
	if req.ThumbnailURL != nil {
		updates["thumbnail_url"] = *req.ThumbnailURL
	}
	if len(updates) == 0 {
		return video, nil
	}

	if err := s.db.WithContext(ctx).Model(video).Updates(updates).Error; err != nil {
		return nil, err
	}
	video, err = s.load(ctx, video.ID)
	if err != nil {
		return nil, err
	}
	s.Reindex(ctx, video)
	return video, nil
}

// Delete soft-deletes a video and removes its file and search document.
// Storage and index failures are logged; reconciliation catches the index.
func (s *Service) Delete(ctx context.Context, user *models.User, videoID string) error {
	video, err := s.ownedVideo(ctx, user, videoID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(video).Error; err != nil {
		return err
	}

	if video.StorageKey != "" {
		if err := s.store.Delete(ctx, video.StorageKey); err != nil {
			logger.Log.Warn("Failed to delete video object",
				logger.WithVideoID(video.ID),
				zap.String("key", video.StorageKey),
				zap.Error(err),
			)
		}
	}
	if err := s.index.DeleteVideo(ctx, video.ID); err != nil {
		logger.Log.Warn("Failed to remove video from search index",
			logger.WithVideoID(video.ID),
			zap.Error(err),
		)
	}

	logger.Log.Info("Video deleted", logger.WithVideoID(video.ID), logger.WithUserID(user.ID))
	return nil
}

// Reindex pushes a video's current state to the search index
func (s *Service) Reindex(ctx context.Context, video *models.Video) {
	var err error
	if video.IsListed() {
		username := ""
		if video.Creator != nil {
			username = video.Creator.Username
		}
		err = s.index.IndexVideo(ctx, search.VideoToSearchDoc(*video, username))
	} else {
		err = s.index.DeleteVideo(ctx, video.ID)
	}
	if err != nil {
		logger.Log.Warn("Failed to update search index", logger.WithVideoID(video.ID), zap.Error(err))
	}
}

// OnImportComplete is the import queue callback
func (s *Service) OnImportComplete(ctx context.Context, video *models.Video) {
	loaded, err := s.load(ctx, video.ID)
	if err != nil {
		logger.Log.Warn("Imported video vanished before indexing", logger.WithVideoID(video.ID), zap.Error(err))
		return
	}
	metrics.Get().VideoUploadsTotal.WithLabelValues("import", "completed").Inc()
	s.Reindex(ctx, loaded)
}

// ViewInput is a playback report from the player
type ViewInput struct {
	SessionID    string  `json:"session_id" binding:"max=128"`
	WatchSeconds float64 `json:"watch_seconds" binding:"gte=0"`
	Completed    bool    `json:"completed"`
	Source       string  `json:"source" binding:"omitempty,oneof=page embed share"`
	Country      string  `json:"country" binding:"omitempty,len=2"`
	ShareLinkID  *string `json:"-"` // set only for a live share link of this video
}

// RecordView stores a playback session. Only the first view per viewer (or
// session) in the de-duplication window increments the view count; watch
// time is always added.
func (s *Service) RecordView(ctx context.Context, viewer *models.User, videoID string, in ViewInput) (*models.VideoView, error) {
	video, err := s.load(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if in.ShareLinkID == nil {
		if err := s.CanWatch(ctx, viewer, video); err != nil {
			return nil, err
		}
	} else if !video.IsReady() {
		return nil, apierrors.NotFound("video")
	}

	viewerKey := ""
	var viewerID *string
	switch {
	case viewer != nil:
		viewerKey = "u:" + viewer.ID
		viewerID = &viewer.ID
	case strings.TrimSpace(in.SessionID) != "":
		viewerKey = "s:" + strings.TrimSpace(in.SessionID)
	default:
		return nil, apierrors.ValidationError("session_id", "session_id is required for anonymous viewers")
	}

	watched := in.WatchSeconds
	if watched < 0 || math.IsNaN(watched) || math.IsInf(watched, 0) {
		watched = 0
	}
	if video.DurationSeconds > 0 && watched > video.DurationSeconds {
		watched = video.DurationSeconds
	}
	source := in.Source
	if source == "" {
		source = "page"
		if in.ShareLinkID != nil {
			source = "share"
		}
	}

	counted := s.claimView(ctx, video.ID, viewerKey)

	view := &models.VideoView{
		VideoID:      video.ID,
		CreatorID:    video.CreatorID,
		ViewerID:     viewerID,
		SessionID:    strings.TrimSpace(in.SessionID),
		ShareLinkID:  in.ShareLinkID,
		Source:       source,
		Country:      strings.ToUpper(in.Country),
		WatchSeconds: watched,
		Completed:    in.Completed,
		Counted:      counted,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(view).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"watch_seconds": gorm.Expr("watch_seconds + ?", int64(math.Round(watched))),
		}
		if counted {
			updates["view_count"] = gorm.Expr("view_count + 1")
		}
		return tx.Model(&models.Video{}).Where("id = ?", video.ID).UpdateColumns(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record view: %w", err)
	}

	metrics.Get().VideoViewsTotal.WithLabelValues(source, fmt.Sprintf("%t", counted)).Inc()
	return view, nil
}

// claimView reports whether this is the first view in the window. When the
// cache is unreachable the view is counted.
func (s *Service) claimView(ctx context.Context, videoID, viewerKey string) bool {
	if s.cache == nil {
		return true
	}
	key := fmt.Sprintf("view:%s:%s", videoID, viewerKey)
	first, err := s.cache.SetNX(ctx, key, "1", s.opts.DedupWindow)
	if err != nil {
		logger.Log.Warn("View de-duplication unavailable", logger.WithVideoID(videoID), zap.Error(err))
		return true
	}
	return first
}

// Find loads a video by ID without access checks
func (s *Service) Find(ctx context.Context, videoID string) (*models.Video, error) {
	return s.load(ctx, videoID)
}

func (s *Service) load(ctx context.Context, videoID string) (*models.Video, error) {
	var video models.Video
	err := s.db.WithContext(ctx).Preload("Creator").First(&video, "id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("video")
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// ownedVideo loads a video and checks the user may edit it
func (s *Service) ownedVideo(ctx context.Context, user *models.User, videoID string) (*models.Video, error) {
	video, err := s.load(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.CreatorID != user.ID && !user.IsAdmin {
		return nil, apierrors.Forbidden("you do not own this video")
	}
	return video, nil
}
