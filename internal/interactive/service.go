// Package interactive manages the timestamped overlays on a video (quizzes,
// polls, hotspots and branching decisions) and viewers' responses to them.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxOptions     = 10
	maxLabelLength = 200

	// MessagePollResults is the websocket message type for live tallies
	MessagePollResults = websocket.MessageTypePollResults
	// MessageElementChanged tells players to refresh an element
	MessageElementChanged = websocket.MessageTypeElementChange
)

// Element change actions
const (
	ElementCreated = "created"
	ElementUpdated = "updated"
	ElementDeleted = "deleted"
)

// ElementChange is pushed to a video's room when its creator edits an
// element. Element is the viewer-safe copy and is omitted on delete.
type ElementChange struct {
	ElementID string                     `json:"element_id"`
	Action    string                     `json:"action"`
	Element   *models.InteractiveElement `json:"element,omitempty"`
}

// Publisher pushes live updates to a video's websocket room
type Publisher interface {
	PublishToVideo(videoID, msgType string, payload interface{})
}

// AccessChecker decides whether a viewer may watch a video
type AccessChecker interface {
	CanWatch(ctx context.Context, viewer *models.User, video *models.Video) error
}

// Service implements element authoring and responses
type Service struct {
	db     *gorm.DB
	pub    Publisher
	access AccessChecker
}

// NewService creates the service. pub may be nil when live results are off.
func NewService(db *gorm.DB, pub Publisher, access AccessChecker) *Service {
	return &Service{db: db, pub: pub, access: access}
}

// OptionInput is an option as sent by the editor. ID is kept when it names
// an existing option of the element being updated.
type OptionInput struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	IsCorrect     bool     `json:"is_correct"`
	TargetTime    *float64 `json:"target_time"`
	TargetVideoID *string  `json:"target_video_id"`
}

// ElementInput creates or replaces an element
type ElementInput struct {
	Type        models.ElementType    `json:"type" binding:"required"`
	Prompt      string                `json:"prompt"`
	StartTime   float64               `json:"start_time"`
	EndTime     float64               `json:"end_time"`
	Options     []OptionInput         `json:"options"`
	MultiSelect bool                  `json:"multi_select"`
	Points      int                   `json:"points"`
	PauseVideo  bool                  `json:"pause_video"`
	URL         string                `json:"url"`
	Region      *models.HotspotRegion `json:"region"`
}

// Create adds an element to a video the user owns
func (s *Service) Create(ctx context.Context, user *models.User, videoID string, in ElementInput) (*models.InteractiveElement, error) {
	video, err := s.ownedVideo(ctx, user, videoID)
	if err != nil {
		return nil, err
	}

	element := &models.InteractiveElement{VideoID: video.ID}
	if err := s.build(ctx, video, element, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(element).Error; err != nil {
		return nil, fmt.Errorf("failed to create element: %w", err)
	}

	logger.Log.Info("Interactive element created",
		logger.WithVideoID(video.ID),
		zap.String("element_id", element.ID),
		zap.String("type", string(element.Type)),
	)
	s.publishChange(video.ID, ElementCreated, element)
	return element, nil
}

// Update replaces an element's content. The type cannot change.
func (s *Service) Update(ctx context.Context, user *models.User, elementID string, in ElementInput) (*models.InteractiveElement, error) {
	element, video, err := s.ownedElement(ctx, user, elementID)
	if err != nil {
		return nil, err
	}
	if in.Type != element.Type {
		return nil, apierrors.ValidationError("type", "element type cannot be changed")
	}

	if err := s.build(ctx, video, element, in); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(element).Select(
		"prompt", "start_time", "end_time", "options", "multi_select",
		"points", "pause_video", "url", "region",
	).Updates(element).Error
	if err != nil {
		return nil, err
	}
	s.publishChange(video.ID, ElementUpdated, element)
	return element, nil
}

// Delete removes an element. Its responses are kept for earnings history.
func (s *Service) Delete(ctx context.Context, user *models.User, elementID string) error {
	element, video, err := s.ownedElement(ctx, user, elementID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(element).Error; err != nil {
		return err
	}
	s.publishChange(video.ID, ElementDeleted, element)
	return nil
}

func (s *Service) publishChange(videoID, action string, element *models.InteractiveElement) {
	if s.pub == nil {
		return
	}
	change := ElementChange{ElementID: element.ID, Action: action}
	if action != ElementDeleted {
		safe := element.ForViewer()
		change.Element = &safe
	}
	s.pub.PublishToVideo(videoID, MessageElementChanged, change)
}

// ListForVideo returns a video's elements in playback order. Quiz answers
// are hidden from everyone but the owner.
func (s *Service) ListForVideo(ctx context.Context, viewer *models.User, videoID string) ([]models.InteractiveElement, error) {
	video, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanWatch(ctx, viewer, video); err != nil {
		return nil, err
	}

	var elements []models.InteractiveElement
	err = s.db.WithContext(ctx).
		Where("video_id = ?", video.ID).
		Order("start_time ASC, created_at ASC").
		Find(&elements).Error
	if err != nil {
		return nil, err
	}

	if isOwner(viewer, video) {
		return elements, nil
	}
	for i := range elements {
		elements[i] = elements[i].ForViewer()
	}
	return elements, nil
}

// build validates in and copies it onto element
func (s *Service) build(ctx context.Context, video *models.Video, element *models.InteractiveElement, in ElementInput) error {
	if !in.Type.Valid() {
		return apierrors.ValidationError("type", "type must be quiz, poll, hotspot or decision")
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return apierrors.ValidationError("prompt", "prompt is required")
	}
	if err := validateTiming(in.StartTime, in.EndTime, video.DurationSeconds); err != nil {
		return err
	}

	options, err := s.buildOptions(ctx, video, element.Options, in)
	if err != nil {
		return err
	}

	element.Type = in.Type
	element.Prompt = prompt
	element.StartTime = in.StartTime
	element.EndTime = in.EndTime
	element.Options = options
	element.PauseVideo = in.PauseVideo
	element.MultiSelect = false
	element.Points = 0
	element.URL = ""
	element.Region = nil

	switch in.Type {
	case models.ElementQuiz:
		if in.Points < 0 {
			return apierrors.ValidationError("points", "points cannot be negative")
		}
		element.Points = in.Points
		element.MultiSelect = in.MultiSelect
	case models.ElementPoll:
		element.MultiSelect = in.MultiSelect
	case models.ElementHotspot:
		link, err := url.Parse(strings.TrimSpace(in.URL))
		if err != nil || (link.Scheme != "http" && link.Scheme != "https") || link.Host == "" {
			return apierrors.ValidationError("url", "hotspots need an http or https url")
		}
		if err := validateRegion(in.Region); err != nil {
			return err
		}
		region := *in.Region
		element.URL = link.String()
		element.Region = &region
	}
	return nil
}

func validateTiming(start, end, duration float64) error {
	if math.IsNaN(start) || math.IsNaN(end) || start < 0 {
		return apierrors.ValidationError("start_time", "start_time must be zero or more")
	}
	if end <= start {
		return apierrors.ValidationError("end_time", "end_time must be after start_time")
	}
	if duration > 0 && end > duration {
		return apierrors.ValidationError("end_time", fmt.Sprintf("end_time must be within the video (%.1fs)", duration))
	}
	return nil
}

func validateRegion(r *models.HotspotRegion) error {
	if r == nil {
		return apierrors.ValidationError("region", "hotspots need a region")
	}
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	if !inUnit(r.X) || !inUnit(r.Y) || r.Width <= 0 || r.Height <= 0 ||
		r.X+r.Width > 1 || r.Y+r.Height > 1 {
		return apierrors.ValidationError("region", "region must lie within the frame in 0..1 coordinates")
	}
	return nil
}

// buildOptions validates options per element type. Existing option IDs are
// preserved so stored responses keep pointing at the same answer.
func (s *Service) buildOptions(ctx context.Context, video *models.Video, existing []models.ElementOption, in ElementInput) ([]models.ElementOption, error) {
	if in.Type == models.ElementHotspot {
		if len(in.Options) > 0 {
			return nil, apierrors.ValidationError("options", "hotspots do not take options")
		}
		return []models.ElementOption{}, nil
	}

	if len(in.Options) < 2 {
		return nil, apierrors.ValidationError("options", "at least two options are required")
	}
	if len(in.Options) > maxOptions {
		return nil, apierrors.ValidationError("options", fmt.Sprintf("at most %d options are allowed", maxOptions))
	}

	known := make(map[string]bool, len(existing))
	for _, opt := range existing {
		known[opt.ID] = true
	}

	used := make(map[string]bool, len(in.Options))
	options := make([]models.ElementOption, 0, len(in.Options))
	correct := 0
	for i, o := range in.Options {
		label := strings.TrimSpace(o.Label)
		if label == "" || len(label) > maxLabelLength {
			return nil, apierrors.ValidationError("options", fmt.Sprintf("option %d needs a label of at most %d characters", i+1, maxLabelLength))
		}

		id := o.ID
		if id == "" || !known[id] || used[id] {
			id = uuid.New().String()
		}
		used[id] = true

		opt := models.ElementOption{ID: id, Label: label}
		switch in.Type {
		case models.ElementQuiz:
			opt.IsCorrect = o.IsCorrect
			if o.IsCorrect {
				correct++
			}
		case models.ElementDecision:
			if err := s.validateTarget(ctx, video, o); err != nil {
				return nil, err
			}
			opt.TargetTime = o.TargetTime
			opt.TargetVideoID = o.TargetVideoID
		}
		options = append(options, opt)
	}

	switch in.Type {
	case models.ElementQuiz:
		if correct == 0 {
			return nil, apierrors.ValidationError("options", "a quiz needs at least one correct option")
		}
		if correct > 1 && !in.MultiSelect {
			return nil, apierrors.ValidationError("options", "single-select quizzes have exactly one correct option")
		}
	case models.ElementDecision:
		if in.MultiSelect {
			return nil, apierrors.ValidationError("multi_select", "decisions are single-select")
		}
	}
	return options, nil
}

// validateTarget checks a decision branch: either a time in this video or
// another ready video by the same creator
func (s *Service) validateTarget(ctx context.Context, video *models.Video, o OptionInput) error {
	hasTime := o.TargetTime != nil
	hasVideo := o.TargetVideoID != nil && *o.TargetVideoID != ""
	if hasTime == hasVideo {
		return apierrors.ValidationError("options", "each decision option needs either target_time or target_video_id")
	}

	if hasTime {
		t := *o.TargetTime
		if t < 0 || (video.DurationSeconds > 0 && t > video.DurationSeconds) {
			return apierrors.ValidationError("options", "target_time must be within the video")
		}
		return nil
	}

	var target models.Video
	err := s.db.WithContext(ctx).Select("id", "creator_id", "status").First(&target, "id = ?", *o.TargetVideoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && target.CreatorID != video.CreatorID) {
		return apierrors.ValidationError("options", "target_video_id must be one of your videos")
	}
	return err
}

// SubmitInput is a viewer's answer
type SubmitInput struct {
	OptionIDs []string `json:"option_ids"`
	SessionID string   `json:"session_id" binding:"max=128"`
}

// OptionTally is the vote count for one option
type OptionTally struct {
	OptionID string  `json:"option_id"`
	Label    string  `json:"label"`
	Count    int64   `json:"count"`
	Percent  float64 `json:"percent"`
}

// BranchTarget is where a decision sends the player
type BranchTarget struct {
	Time    *float64 `json:"time,omitempty"`
	VideoID *string  `json:"video_id,omitempty"`
}

// SubmitResult is what the player needs after a response
type SubmitResult struct {
	Response *models.ElementResponse `json:"response"`
	Correct  *bool                   `json:"correct,omitempty"`
	Score    int                     `json:"score"`
	Tallies  []OptionTally           `json:"tallies,omitempty"`
	Total    int64                   `json:"total,omitempty"`
	Target   *BranchTarget           `json:"target,omitempty"`
	URL      string                  `json:"url,omitempty"`
}

// PollResults is pushed to websocket subscribers after each poll vote
type PollResults struct {
	ElementID string        `json:"element_id"`
	Total     int64         `json:"total"`
	Tallies   []OptionTally `json:"tallies"`
}

// Submit records a response. Each user, or anonymous session, answers an
// element once.
func (s *Service) Submit(ctx context.Context, viewer *models.User, elementID string, in SubmitInput) (*SubmitResult, error) {
	element, err := s.loadElement(ctx, elementID)
	if err != nil {
		return nil, err
	}
	video, err := s.loadVideo(ctx, element.VideoID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanWatch(ctx, viewer, video); err != nil {
		return nil, err
	}

	response := &models.ElementResponse{
		ElementID: element.ID,
		VideoID:   video.ID,
		CreatorID: video.CreatorID,
	}
	switch {
	case viewer != nil:
		response.ResponderKey = "u:" + viewer.ID
		response.UserID = &viewer.ID
	case strings.TrimSpace(in.SessionID) != "":
		response.ResponderKey = "s:" + strings.TrimSpace(in.SessionID)
	default:
		return nil, apierrors.ValidationError("session_id", "session_id is required for anonymous viewers")
	}

	selected, err := validateSelection(element, in.OptionIDs)
	if err != nil {
		return nil, err
	}
	response.OptionIDs = models.StringArray(selected)

	result := &SubmitResult{Response: response}
	switch element.Type {
	case models.ElementQuiz:
		correct := quizCorrect(element, selected)
		response.IsCorrect = &correct
		if correct {
			response.Score = element.Points
		}
		result.Correct = &correct
		result.Score = response.Score
	case models.ElementDecision:
		opt, _ := element.Option(selected[0])
		result.Target = &BranchTarget{Time: opt.TargetTime, VideoID: opt.TargetVideoID}
	case models.ElementHotspot:
		result.URL = element.URL
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(response).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.InteractiveElement{}).Where("id = ?", element.ID).
			UpdateColumn("response_count", gorm.Expr("response_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.Video{}).Where("id = ?", video.ID).
			UpdateColumn("response_count", gorm.Expr("response_count + 1")).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, apierrors.AlreadyExists("response")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save response: %w", err)
	}

	metrics.Get().ElementResponsesTotal.WithLabelValues(string(element.Type)).Inc()

	if element.Type == models.ElementPoll {
		tallies, total, err := s.tally(ctx, element)
		if err != nil {
			return nil, err
		}
		result.Tallies = tallies
		result.Total = total
		if s.pub != nil {
			s.pub.PublishToVideo(video.ID, MessagePollResults, PollResults{
				ElementID: element.ID,
				Total:     total,
				Tallies:   tallies,
			})
		}
	}
	return result, nil
}

// validateSelection checks option IDs against the element and returns them
// de-duplicated in element order
func validateSelection(element *models.InteractiveElement, ids []string) ([]string, error) {
	if element.Type == models.ElementHotspot {
		if len(ids) > 0 {
			return nil, apierrors.ValidationError("option_ids", "hotspots do not take options")
		}
		return []string{}, nil
	}
	if len(ids) == 0 {
		return nil, apierrors.ValidationError("option_ids", "select an option")
	}

	chosen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := element.Option(id); !ok {
			return nil, apierrors.ValidationError("option_ids", fmt.Sprintf("unknown option %q", id))
		}
		chosen[id] = true
	}
	if len(chosen) > 1 && !element.MultiSelect {
		return nil, apierrors.ValidationError("option_ids", "only one option may be selected")
	}

	out := make([]string, 0, len(chosen))
	for _, opt := range element.Options {
		if chosen[opt.ID] {
			out = append(out, opt.ID)
		}
	}
	return out, nil
}

// quizCorrect requires the selection to match the correct set exactly
func quizCorrect(element *models.InteractiveElement, selected []string) bool {
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	for _, opt := range element.Options {
		if opt.IsCorrect != chosen[opt.ID] {
			return false
		}
	}
	return true
}

// tally counts responses per option. Percentages are of responses, so
// multi-select polls can sum past 100.
func (s *Service) tally(ctx context.Context, element *models.InteractiveElement) ([]OptionTally, int64, error) {
	var responses []models.ElementResponse
	err := s.db.WithContext(ctx).
		Select("option_ids").
		Where("element_id = ?", element.ID).
		Find(&responses).Error
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(element.Options))
	for _, r := range responses {
		for _, id := range r.OptionIDs {
			counts[id]++
		}
	}

	total := int64(len(responses))
	tallies := make([]OptionTally, 0, len(element.Options))
	for _, opt := range element.Options {
		t := OptionTally{OptionID: opt.ID, Label: opt.Label, Count: counts[opt.ID]}
		if total > 0 {
			t.Percent = math.Round(float64(t.Count)/float64(total)*1000) / 10
		}
		tallies = append(tallies, t)
	}
	return tallies, total, nil
}

// Results is the owner's view of an element's responses
type Results struct {
	ElementID    string             `json:"element_id"`
	Type         models.ElementType `json:"type"`
	Total        int64              `json:"total"`
	Options      []OptionTally      `json:"options"`
	CorrectCount *int64             `json:"correct_count,omitempty"`
	Accuracy     *float64           `json:"accuracy,omitempty"`
}

// Results aggregates responses for the element's owner
func (s *Service) Results(ctx context.Context, user *models.User, elementID string) (*Results, error) {
	element, _, err := s.ownedElement(ctx, user, elementID)
	if err != nil {
		return nil, err
	}

	tallies, total, err := s.tally(ctx, element)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tallies, func(i, j int) bool { return tallies[i].Count > tallies[j].Count })

	res := &Results{ElementID: element.ID, Type: element.Type, Total: total, Options: tallies}
	if element.Type == models.ElementQuiz {
		var correct int64
		if err := s.db.WithContext(ctx).Model(&models.ElementResponse{}).
			Where("element_id = ? AND is_correct = ?", element.ID, true).
			Count(&correct).Error; err != nil {
			return nil, err
		}
		accuracy := 0.0
		if total > 0 {
			accuracy = float64(correct) / float64(total)
		}
		res.CorrectCount = &correct
		res.Accuracy = &accuracy
	}
	return res, nil
}

func isOwner(user *models.User, video *models.Video) bool {
	return user != nil && (user.ID == video.CreatorID || user.IsAdmin)
}

func (s *Service) loadVideo(ctx context.Context, videoID string) (*models.Video, error) {
	var video models.Video
	err := s.db.WithContext(ctx).First(&video, "id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("video")
	}
	return &video, err
}

func (s *Service) loadElement(ctx context.Context, elementID string) (*models.InteractiveElement, error) {
	var element models.InteractiveElement
	err := s.db.WithContext(ctx).First(&element, "id = ?", elementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NotFound("element")
	}
	return &element, err
}

func (s *Service) ownedVideo(ctx context.Context, user *models.User, videoID string) (*models.Video, error) {
	video, err := s.loadVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !isOwner(user, video) {
		return nil, apierrors.Forbidden("you do not own this video")
	}
	return video, nil
}

func (s *Service) ownedElement(ctx context.Context, user *models.User, elementID string) (*models.InteractiveElement, *models.Video, error) {
	element, err := s.loadElement(ctx, elementID)
	if err != nil {
		return nil, nil, err
	}
	video, err := s.ownedVideo(ctx, user, element.VideoID)
	if err != nil {
		return nil, nil, err
	}
	return element, video, nil
}
