package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

// UserStore implements repository.UserRepository.
type UserStore struct {
	col *mongo.Collection
}

type userDoc struct {
	ID                  string     `bson:"_id"`
	Email               string     `bson:"email"`
	PasswordHash        string     `bson:"passwordHash"`
	Name                string     `bson:"name"`
	Role                string     `bson:"role"`
	EmailVerified       bool       `bson:"emailVerified"`
	VerificationToken   string     `bson:"verificationToken,omitempty"`
	VerificationExpires *time.Time `bson:"verificationExpires,omitempty"`
	ResetToken          string     `bson:"resetToken,omitempty"`
	ResetExpires        *time.Time `bson:"resetExpires,omitempty"`
	GitHubID            int64      `bson:"githubId,omitempty"`
	AvatarURL           string     `bson:"avatarUrl,omitempty"`
	Favorites           []string   `bson:"favorites"`
	CreatedAt           time.Time  `bson:"createdAt"`
	UpdatedAt           time.Time  `bson:"updatedAt"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID:                  d.ID,
		Email:               d.Email,
		PasswordHash:        d.PasswordHash,
		Name:                d.Name,
		Role:                d.Role,
		EmailVerified:       d.EmailVerified,
		VerificationToken:   d.VerificationToken,
		VerificationExpires: d.VerificationExpires,
		ResetToken:          d.ResetToken,
		ResetExpires:        d.ResetExpires,
		GitHubID:            d.GitHubID,
		AvatarURL:           d.AvatarURL,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	doc := userDoc{
		ID:                  user.ID,
		Email:               user.Email,
		PasswordHash:        user.PasswordHash,
		Name:                user.Name,
		Role:                user.Role,
		EmailVerified:       user.EmailVerified,
		VerificationToken:   user.VerificationToken,
		VerificationExpires: user.VerificationExpires,
		ResetToken:          user.ResetToken,
		ResetExpires:        user.ResetExpires,
		GitHubID:            user.GitHubID,
		AvatarURL:           user.AvatarURL,
		Favorites:           []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("mongo: inserting user %s: %w", user.Email, err)
	}
	return nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"_id": id}, id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.findOne(ctx, bson.M{"email": email}, email)
}

func (s *UserStore) GetByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "token")
	}
	return s.findOne(ctx, bson.M{
		"verificationToken":   token,
		"verificationExpires": bson.M{"$gt": now},
	}, "token")
}

func (s *UserStore) GetByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "token")
	}
	return s.findOne(ctx, bson.M{
		"resetToken":   token,
		"resetExpires": bson.M{"$gt": now},
	}, "token")
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M, key string) (*model.User, error) {
	var doc userDoc
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongo: finding user %s: %w", key, err)
	}
	return doc.toModel(), nil
}

// Update writes every field except favorites. Empty tokens are unset so the
// sparse token indexes stay small.
func (s *UserStore) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	set := bson.M{
		"email":         strings.ToLower(user.Email),
		"passwordHash":  user.PasswordHash,
		"name":          user.Name,
		"role":          user.Role,
		"emailVerified": user.EmailVerified,
		"avatarUrl":     user.AvatarURL,
		"updatedAt":     user.UpdatedAt,
	}
	unset := bson.M{}
	optional := func(field string, value any, present bool) {
		if present {
			set[field] = value
		} else {
			unset[field] = ""
		}
	}
	optional("verificationToken", user.VerificationToken, user.VerificationToken != "")
	optional("verificationExpires", user.VerificationExpires, user.VerificationExpires != nil)
	optional("resetToken", user.ResetToken, user.ResetToken != "")
	optional("resetExpires", user.ResetExpires, user.ResetExpires != nil)
	optional("githubId", user.GitHubID, user.GitHubID != 0)

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	result, err := s.col.UpdateByID(ctx, user.ID, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("mongo: updating user %s: %w", user.ID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// UpsertGitHub matches on githubId, then email, otherwise creates a new
// verified account. On return user holds the stored record.
func (s *UserStore) UpsertGitHub(ctx context.Context, user *model.User) error {
	existing, err := s.findOne(ctx, bson.M{"githubId": user.GitHubID}, "github")
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	if existing == nil && user.Email != "" {
		existing, err = s.GetByEmail(ctx, user.Email)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
	}

	if existing == nil {
		user.EmailVerified = true
		if user.Email == "" {
			user.Email = fmt.Sprintf("%d@users.noreply.github.com", user.GitHubID)
		}
		return s.Create(ctx, user)
	}

	existing.GitHubID = user.GitHubID
	existing.AvatarURL = user.AvatarURL
	if existing.Name == "" {
		existing.Name = user.Name
	}
	if err := s.Update(ctx, existing); err != nil {
		return err
	}
	*user = *existing
	return nil
}

// =========================================================================
// FAVORITES
// =========================================================================

func (s *UserStore) AddFavorite(ctx context.Context, userID, strategyID string) error {
	return s.updateFavorites(ctx, userID, bson.M{"$addToSet": bson.M{"favorites": strategyID}})
}

func (s *UserStore) RemoveFavorite(ctx context.Context, userID, strategyID string) error {
	return s.updateFavorites(ctx, userID, bson.M{"$pull": bson.M{"favorites": strategyID}})
}

func (s *UserStore) updateFavorites(ctx context.Context, userID string, update bson.M) error {
	result, err := s.col.UpdateByID(ctx, userID, update)
	if err != nil {
		return fmt.Errorf("mongo: updating favorites of %s: %w", userID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *UserStore) IsFavorite(ctx context.Context, userID, strategyID string) (bool, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": userID, "favorites": strategyID})
	if err != nil {
		return false, fmt.Errorf("mongo: checking favorite: %w", err)
	}
	return n > 0, nil
}

func (s *UserStore) ListFavoriteIDs(ctx context.Context, userID string) ([]string, error) {
	var doc struct {
		Favorites []string `bson:"favorites"`
	}
	opts := options.FindOne().SetProjection(bson.M{"favorites": 1})
	if err := s.col.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("mongo: listing favorites of %s: %w", userID, err)
	}
	if doc.Favorites == nil {
		return []string{}, nil
	}
	return doc.Favorites, nil
}
