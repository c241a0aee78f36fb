package repository

import (
	"context"
	"time"

	"github.com/sakif/strategy-hub/internal/model"
)

// StrategyFilter selects which strategies List returns. Exactly one mode
// applies, checked in this order:
//   - TemplatesOnly: every template, whatever its visibility
//   - IDs != nil: only those strategies (the favorites view)
//   - OwnerOrPublic != "": that user's strategies plus every public one
//   - otherwise: public strategies only
type StrategyFilter struct {
	IDs           []string
	OwnerOrPublic string
	TemplatesOnly bool
}

// StrategyRepository is the Strategy Store. Comments and ratings are part of
// the aggregate: GetByID returns them, and they are only changed through the
// dedicated methods below.
type StrategyRepository interface {
	Create(ctx context.Context, s *model.Strategy) error
	GetByID(ctx context.Context, id string) (*model.Strategy, error)
	List(ctx context.Context, filter StrategyFilter) ([]model.Strategy, error)
	// Update writes the owner-editable fields and flags; it does not touch
	// comments, ratings, owner or copy provenance.
	Update(ctx context.Context, s *model.Strategy) error
	Delete(ctx context.Context, id string) error

	// FindCopy returns the strategy ownerID copied from sourceID, or ErrNotFound.
	FindCopy(ctx context.Context, ownerID, sourceID string) (*model.Strategy, error)
	IncrementCopyCount(ctx context.Context, id string) error

	// SaveRatings replaces the rating set and stored average in one write.
	SaveRatings(ctx context.Context, id string, ratings []model.Rating, average float64) error
	AddComment(ctx context.Context, strategyID string, c *model.Comment) error
	DeleteComment(ctx context.Context, strategyID, commentID string) error
}

// UserRepository is the Identity Store, including each user's favorite set.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByVerificationToken and GetByResetToken only match tokens whose
	// expiry is after now.
	GetByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	GetByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	// UpsertGitHub links a GitHub identity: by github_id, then by email,
	// otherwise a new account is created.
	UpsertGitHub(ctx context.Context, user *model.User) error

	AddFavorite(ctx context.Context, userID, strategyID string) error
	RemoveFavorite(ctx context.Context, userID, strategyID string) error
	IsFavorite(ctx context.Context, userID, strategyID string) (bool, error)
	ListFavoriteIDs(ctx context.Context, userID string) ([]string, error)
}

// Pinger is implemented by stores that can report reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}
