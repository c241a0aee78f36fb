package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

const (
	MinRating          = 1
	MaxRating          = 5
	MaxCommentLength   = 500
	MinTemplateName    = 3
	MaxTemplateName    = 100
	copyNameSuffix     = " (Copy)"
	templateNameSuffix = " (From Template)"
)

// RatingSummary is what rating endpoints return. UserRating is nil when the
// caller is anonymous or has not rated.
type RatingSummary struct {
	AverageRating float64 `json:"averageRating"`
	TotalRatings  int     `json:"totalRatings"`
	UserRating    *int    `json:"userRating"`
}

// CopyResult carries the copy and whether it already existed.
type CopyResult struct {
	Strategy      *model.Strategy
	AlreadyCopied bool
}

// SocialService covers what other users do to a strategy: favorites,
// ratings, comments, templates and copies.
type SocialService struct {
	strategies repository.StrategyRepository
	users      repository.UserRepository
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

func NewSocialService(strategies repository.StrategyRepository, users repository.UserRepository, logger *slog.Logger) *SocialService {
	return &SocialService{
		strategies: strategies,
		users:      users,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// =========================================================================
// FAVORITES
// =========================================================================

// ToggleFavorite flips the strategy's membership in the caller's favorites
// and returns the new state. Only public strategies can be favorited.
func (s *SocialService) ToggleFavorite(ctx context.Context, callerID, strategyID string) (bool, error) {
	if callerID == "" {
		return false, apperror.Unauthorized()
	}

	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return false, err
	}
	if !st.IsPublic {
		return false, apperror.BadRequest("Only public strategies can be favorited")
	}
	if err := s.requireUser(ctx, callerID); err != nil {
		return false, err
	}

	favorited, err := s.users.IsFavorite(ctx, callerID, strategyID)
	if err != nil {
		return false, fmt.Errorf("checking favorite %s for %s: %w", strategyID, callerID, err)
	}

	if favorited {
		err = s.users.RemoveFavorite(ctx, callerID, strategyID)
	} else {
		err = s.users.AddFavorite(ctx, callerID, strategyID)
	}
	if err != nil {
		return false, fmt.Errorf("toggling favorite %s for %s: %w", strategyID, callerID, err)
	}

	s.logger.Info("favorite toggled",
		slog.String("strategy", strategyID),
		slog.String("user", callerID),
		slog.Bool("favorited", !favorited),
	)
	return !favorited, nil
}

func (s *SocialService) IsFavorite(ctx context.Context, callerID, strategyID string) (bool, error) {
	if callerID == "" {
		return false, apperror.Unauthorized()
	}
	if strings.TrimSpace(strategyID) == "" {
		return false, apperror.ValidationFailed("strategyId", "Strategy ID is required")
	}
	if err := s.requireUser(ctx, callerID); err != nil {
		return false, err
	}

	ok, err := s.users.IsFavorite(ctx, callerID, strategyID)
	if err != nil {
		return false, fmt.Errorf("checking favorite %s for %s: %w", strategyID, callerID, err)
	}
	return ok, nil
}

// =========================================================================
// RATINGS
// =========================================================================

// Rate records the caller's 1-5 score on a public strategy, replacing any
// earlier score, and returns the recomputed summary.
func (s *SocialService) Rate(ctx context.Context, callerID, strategyID string, value int) (*RatingSummary, error) {
	return s.rate(ctx, callerID, strategyID, value,
		apperror.BadRequest("Only public strategies can be rated"))
}

// RateLegacy is Rate for the older /rating endpoint, which answers 403
// instead of 400 for a private strategy.
func (s *SocialService) RateLegacy(ctx context.Context, callerID, strategyID string, value int) (*RatingSummary, error) {
	return s.rate(ctx, callerID, strategyID, value,
		apperror.Forbidden("Cannot rate private strategies"))
}

func (s *SocialService) rate(ctx context.Context, callerID, strategyID string, value int, private error) (*RatingSummary, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}
	if strings.TrimSpace(strategyID) == "" {
		return nil, apperror.ValidationFailed("strategyId", "Strategy ID is required")
	}
	if value < MinRating || value > MaxRating {
		return nil, apperror.ValidationFailed("rating",
			fmt.Sprintf("Rating must be between %d and %d", MinRating, MaxRating))
	}

	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return nil, err
	}
	if !st.IsPublic {
		return nil, private
	}

	st.ApplyRating(callerID, value, s.now().UTC())
	if err := s.strategies.SaveRatings(ctx, st.ID, st.Ratings, st.AverageRating); err != nil {
		s.logger.Error("failed to save rating",
			slog.String("strategy", strategyID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving rating on %s: %w", strategyID, err)
	}

	s.logger.Info("strategy rated",
		slog.String("strategy", strategyID),
		slog.String("user", callerID),
		slog.Int("rating", value),
		slog.Float64("average", st.AverageRating),
	)
	return summarize(st, callerID), nil
}

// RatingSummary works for anonymous callers; UserRating is then nil.
func (s *SocialService) RatingSummary(ctx context.Context, callerID, strategyID string) (*RatingSummary, error) {
	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return nil, err
	}
	return summarize(st, callerID), nil
}

func summarize(st *model.Strategy, callerID string) *RatingSummary {
	sum := &RatingSummary{
		AverageRating: st.AverageRating,
		TotalRatings:  len(st.Ratings),
	}
	if r := st.UserRating(callerID); r > 0 {
		sum.UserRating = &r
	}
	return sum
}

// =========================================================================
// COMMENTS
// =========================================================================

// ListComments returns the comments in posting order with authors resolved.
func (s *SocialService) ListComments(ctx context.Context, strategyID string) ([]model.Comment, error) {
	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return nil, err
	}
	if st.Comments == nil {
		return []model.Comment{}, nil
	}
	return st.Comments, nil
}

// AddComment appends the caller's comment to a public strategy and returns
// the full comment list.
func (s *SocialService) AddComment(ctx context.Context, callerID, strategyID, text string) ([]model.Comment, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}
	if strings.TrimSpace(strategyID) == "" {
		return nil, apperror.ValidationFailed("strategyId", "Strategy ID is required")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("text", "Comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return nil, apperror.ValidationFailed("text",
			fmt.Sprintf("Comment must be at most %d characters", MaxCommentLength))
	}

	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return nil, err
	}
	if !st.IsPublic {
		return nil, apperror.BadRequest("Only public strategies can be commented on")
	}

	c := &model.Comment{
		ID:        s.newID(),
		User:      model.UserRef{ID: callerID},
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.strategies.AddComment(ctx, strategyID, c); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage("Strategy not found")
		}
		return nil, fmt.Errorf("adding comment to %s: %w", strategyID, err)
	}

	s.logger.Info("comment added",
		slog.String("strategy", strategyID),
		slog.String("comment", c.ID),
		slog.String("user", callerID),
	)
	return s.ListComments(ctx, strategyID)
}

// DeleteComment removes one comment by its ID. The comment's author and the
// strategy's owner may delete it.
func (s *SocialService) DeleteComment(ctx context.Context, callerID, strategyID, commentID string) error {
	if callerID == "" {
		return apperror.Unauthorized()
	}
	if strings.TrimSpace(strategyID) == "" || strings.TrimSpace(commentID) == "" {
		return apperror.ValidationFailed("commentId", "Strategy ID and comment ID are required")
	}

	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return err
	}

	c := st.FindComment(commentID)
	if c == nil {
		return apperror.NotFoundMessage("Comment not found")
	}
	if c.User.ID != callerID && !st.OwnedBy(callerID) {
		return apperror.Forbidden("Unauthorized to delete this comment")
	}

	if err := s.strategies.DeleteComment(ctx, strategyID, commentID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Deleted by someone else since we loaded it.
			return apperror.NotFoundMessage("Comment not found")
		}
		return fmt.Errorf("deleting comment %s: %w", commentID, err)
	}

	s.logger.Info("comment deleted",
		slog.String("strategy", strategyID),
		slog.String("comment", commentID),
		slog.String("user", callerID),
	)
	return nil
}

// =========================================================================
// TEMPLATES
// =========================================================================

// ListTemplates returns every template, public or not, newest first.
func (s *SocialService) ListTemplates(ctx context.Context) ([]model.Strategy, error) {
	list, err := s.strategies.List(ctx, repository.StrategyFilter{TemplatesOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	if list == nil {
		list = []model.Strategy{}
	}
	return list, nil
}

func (s *SocialService) MarkTemplate(ctx context.Context, callerID, strategyID string) (*model.Strategy, error) {
	return s.setTemplate(ctx, callerID, strategyID, true,
		"You can only create templates from your own strategies")
}

func (s *SocialService) UnmarkTemplate(ctx context.Context, callerID, strategyID string) (*model.Strategy, error) {
	return s.setTemplate(ctx, callerID, strategyID, false,
		"You can only remove template status from your own strategies")
}

func (s *SocialService) setTemplate(ctx context.Context, callerID, strategyID string, on bool, notOwner string) (*model.Strategy, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}

	st, err := loadStrategy(ctx, s.strategies, strategyID, "Strategy not found")
	if err != nil {
		return nil, err
	}
	if !st.OwnedBy(callerID) {
		return nil, apperror.Forbidden(notOwner)
	}

	st.IsTemplate = on
	if err := s.strategies.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("setting template flag on %s: %w", strategyID, err)
	}

	s.logger.Info("template flag changed",
		slog.String("strategy", strategyID),
		slog.Bool("isTemplate", on),
	)
	return st, nil
}

// UseTemplate creates a private strategy for the caller from a template.
// name overrides the default "<template> (From Template)".
func (s *SocialService) UseTemplate(ctx context.Context, callerID, templateID string, name *string) (*model.Strategy, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}
	if strings.TrimSpace(templateID) == "" {
		return nil, apperror.ValidationFailed("templateId", "Template ID is required")
	}
	if name != nil {
		n := strings.TrimSpace(*name)
		if l := utf8.RuneCountInString(n); l < MinTemplateName || l > MaxTemplateName {
			return nil, apperror.ValidationFailed("name",
				fmt.Sprintf("Name must be between %d and %d characters", MinTemplateName, MaxTemplateName))
		}
		name = &n
	}

	tpl, err := loadStrategy(ctx, s.strategies, templateID, "Template not found")
	if err != nil {
		return nil, err
	}
	if !tpl.IsTemplate {
		return nil, apperror.BadRequest("This strategy is not a template")
	}

	st := derive(tpl, callerID)
	st.Name = derivedName(tpl.Name, templateNameSuffix)
	if name != nil {
		st.Name = *name
	}

	created, err := insertStrategy(ctx, s.strategies, s.logger, st)
	if err != nil {
		return nil, err
	}

	s.logger.Info("strategy created from template",
		slog.String("id", created.ID),
		slog.String("template", templateID),
		slog.String("owner", callerID),
	)
	return created, nil
}

// =========================================================================
// COPY
// =========================================================================

// Copy gives the caller a private copy of a public strategy. A second copy
// of the same source returns the first one and leaves copyCount alone.
func (s *SocialService) Copy(ctx context.Context, callerID, sourceID string) (*CopyResult, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}

	src, err := loadStrategy(ctx, s.strategies, sourceID, "Strategy not found")
	if err != nil {
		return nil, err
	}
	if !src.IsPublic {
		return nil, apperror.BadRequest("Only public strategies can be copied")
	}

	existing, err := s.strategies.FindCopy(ctx, callerID, sourceID)
	switch {
	case err == nil:
		return &CopyResult{Strategy: existing, AlreadyCopied: true}, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("looking up copy of %s: %w", sourceID, err)
	}

	st := derive(src, callerID)
	st.Name = derivedName(src.Name, copyNameSuffix)

	created, err := insertStrategy(ctx, s.strategies, s.logger, st)
	if err != nil {
		return nil, err
	}
	if err := s.strategies.IncrementCopyCount(ctx, sourceID); err != nil {
		return nil, fmt.Errorf("incrementing copy count of %s: %w", sourceID, err)
	}

	s.logger.Info("strategy copied",
		slog.String("id", created.ID),
		slog.String("source", sourceID),
		slog.String("owner", callerID),
	)
	return &CopyResult{Strategy: created}, nil
}

// derivedName appends suffix to base, cutting base short so the result
// stays within MaxTemplateName runes.
func derivedName(base, suffix string) string {
	room := MaxTemplateName - utf8.RuneCountInString(suffix)
	if r := []rune(base); len(r) > room {
		base = strings.TrimRight(string(r[:room]), " ")
	}
	return base + suffix
}

// derive starts a new private strategy for owner from src's display fields,
// with copiedFrom pointing back at src.
func derive(src *model.Strategy, owner string) *model.Strategy {
	tags := make([]string, len(src.Tags))
	copy(tags, src.Tags)

	params := make(map[string]any, len(src.Parameters))
	for k, v := range src.Parameters {
		params[k] = v
	}

	return &model.Strategy{
		Description:         src.Description,
		Parameters:          params,
		RiskLevel:           src.RiskLevel,
		AssetClass:          src.AssetClass,
		BacktestPerformance: src.BacktestPerformance,
		CreatedBy:           model.UserRef{ID: owner},
		Tags:                tags,
		CopiedFrom:          src.ID,
	}
}

func (s *SocialService) requireUser(ctx context.Context, id string) error {
	if _, err := s.users.GetUserByID(ctx, id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFoundMessage("User not found")
		}
		return fmt.Errorf("getting user %s: %w", id, err)
	}
	return nil
}
