package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

// =========================================================================
// FAKE USER REPOSITORY
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It stores copies
// so a service mutating a returned *model.User does not change the "database"
// until it calls Update.
type fakeUserRepo struct {
	users     map[string]*model.User
	favorites map[string][]string
	nextID    int
	// set to a non-nil error to simulate a database failure
	createErr  error
	getByIDErr error
	updateErr  error
	upsertErr  error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:     make(map[string]*model.User),
		favorites: make(map[string][]string),
		nextID:    1,
	}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.Conflict("user", user.Email)
		}
	}
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if f.getByIDErr != nil {
		return nil, f.getByIDErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) GetByVerificationToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	for _, u := range f.users {
		if u.VerificationToken == token && u.VerificationExpires != nil && u.VerificationExpires.After(now) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("verification token", "")
}

func (f *fakeUserRepo) GetByResetToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	for _, u := range f.users {
		if u.ResetToken == token && u.ResetExpires != nil && u.ResetExpires.After(now) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("reset token", "")
}

func (f *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.users[user.ID]; !ok {
		return apperror.NotFound("user", user.ID)
	}
	user.UpdatedAt = time.Now()
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) UpsertGitHub(ctx context.Context, user *model.User) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	var existing *model.User
	for _, u := range f.users {
		if u.GitHubID == user.GitHubID {
			existing = u
		}
	}
	if existing == nil && user.Email != "" {
		existing, _ = f.GetByEmail(ctx, user.Email)
	}
	if existing == nil {
		user.EmailVerified = true
		return f.Create(ctx, user)
	}

	updated := *existing
	updated.GitHubID = user.GitHubID
	updated.AvatarURL = user.AvatarURL
	if updated.Name == "" {
		updated.Name = user.Name
	}
	if err := f.Update(ctx, &updated); err != nil {
		return err
	}
	*user = updated
	return nil
}

func (f *fakeUserRepo) AddFavorite(_ context.Context, userID, strategyID string) error {
	for _, id := range f.favorites[userID] {
		if id == strategyID {
			return nil
		}
	}
	f.favorites[userID] = append(f.favorites[userID], strategyID)
	return nil
}

func (f *fakeUserRepo) RemoveFavorite(_ context.Context, userID, strategyID string) error {
	ids := f.favorites[userID]
	for i, id := range ids {
		if id == strategyID {
			f.favorites[userID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeUserRepo) IsFavorite(_ context.Context, userID, strategyID string) (bool, error) {
	for _, id := range f.favorites[userID] {
		if id == strategyID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserRepo) ListFavoriteIDs(_ context.Context, userID string) ([]string, error) {
	return append([]string(nil), f.favorites[userID]...), nil
}

// addUser inserts a user directly and returns its ID.
func (f *fakeUserRepo) addUser(t *testing.T, email, name string) string {
	t.Helper()
	u := &model.User{Email: email, Name: name}
	if err := f.Create(context.Background(), u); err != nil {
		t.Fatalf("setup: creating user %s: %v", email, err)
	}
	return u.ID
}

// =========================================================================
// FAKE STRATEGY REPOSITORY
// =========================================================================

// fakeStrategyRepo is an in-memory repository.StrategyRepository. Reads
// resolve creator and comment authors from users, like the real stores.
type fakeStrategyRepo struct {
	items  map[string]*model.Strategy
	users  *fakeUserRepo
	nextID int
	clock  time.Time

	createErr      error
	updateErr      error
	saveRatingsErr error
	listErr        error
	incrementCalls int
}

var _ repository.StrategyRepository = (*fakeStrategyRepo)(nil)

func newFakeStrategyRepo(users *fakeUserRepo) *fakeStrategyRepo {
	return &fakeStrategyRepo{
		items:  make(map[string]*model.Strategy),
		users:  users,
		nextID: 1,
		clock:  time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStrategyRepo) Create(_ context.Context, s *model.Strategy) error {
	if f.createErr != nil {
		return f.createErr
	}
	s.ID = fmt.Sprintf("strategy-%d", f.nextID)
	f.nextID++
	// Each insert is one second newer so newest-first ordering is stable.
	f.clock = f.clock.Add(time.Second)
	s.CreatedAt = f.clock
	s.UpdatedAt = f.clock
	s.Comments = []model.Comment{}
	s.Ratings = []model.Rating{}
	s.AverageRating = 0
	f.items[s.ID] = clone(s)
	return nil
}

func (f *fakeStrategyRepo) GetByID(_ context.Context, id string) (*model.Strategy, error) {
	s, ok := f.items[id]
	if !ok {
		return nil, apperror.NotFound("strategy", id)
	}
	return f.populate(clone(s)), nil
}

func (f *fakeStrategyRepo) List(_ context.Context, filter repository.StrategyFilter) ([]model.Strategy, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	var ids map[string]bool
	if filter.IDs != nil {
		ids = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}

	out := []model.Strategy{}
	for _, s := range f.items {
		var keep bool
		switch {
		case filter.TemplatesOnly:
			keep = s.IsTemplate
		case filter.IDs != nil:
			keep = ids[s.ID]
		case filter.OwnerOrPublic != "":
			keep = s.IsPublic || s.CreatedBy.ID == filter.OwnerOrPublic
		default:
			keep = s.IsPublic
		}
		if keep {
			out = append(out, *f.populate(clone(s)))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStrategyRepo) Update(_ context.Context, s *model.Strategy) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	cur, ok := f.items[s.ID]
	if !ok {
		return apperror.NotFound("strategy", s.ID)
	}
	next := clone(s)
	next.CreatedBy = model.UserRef{ID: cur.CreatedBy.ID}
	next.CopiedFrom = cur.CopiedFrom
	next.CopyCount = cur.CopyCount
	next.Comments = cur.Comments
	next.Ratings = cur.Ratings
	next.AverageRating = cur.AverageRating
	f.items[s.ID] = next
	return nil
}

func (f *fakeStrategyRepo) Delete(_ context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return apperror.NotFound("strategy", id)
	}
	delete(f.items, id)
	return nil
}

func (f *fakeStrategyRepo) FindCopy(_ context.Context, ownerID, sourceID string) (*model.Strategy, error) {
	for _, s := range f.items {
		if s.CreatedBy.ID == ownerID && s.CopiedFrom == sourceID {
			return f.populate(clone(s)), nil
		}
	}
	return nil, apperror.NotFound("copy", sourceID)
}

func (f *fakeStrategyRepo) IncrementCopyCount(_ context.Context, id string) error {
	s, ok := f.items[id]
	if !ok {
		return apperror.NotFound("strategy", id)
	}
	f.incrementCalls++
	s.CopyCount++
	return nil
}

func (f *fakeStrategyRepo) SaveRatings(_ context.Context, id string, ratings []model.Rating, average float64) error {
	if f.saveRatingsErr != nil {
		return f.saveRatingsErr
	}
	s, ok := f.items[id]
	if !ok {
		return apperror.NotFound("strategy", id)
	}
	s.Ratings = append([]model.Rating(nil), ratings...)
	s.AverageRating = average
	return nil
}

func (f *fakeStrategyRepo) AddComment(_ context.Context, strategyID string, c *model.Comment) error {
	s, ok := f.items[strategyID]
	if !ok {
		return apperror.NotFound("strategy", strategyID)
	}
	s.Comments = append(s.Comments, model.Comment{
		ID:        c.ID,
		User:      model.UserRef{ID: c.User.ID},
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	})
	return nil
}

func (f *fakeStrategyRepo) DeleteComment(_ context.Context, strategyID, commentID string) error {
	s, ok := f.items[strategyID]
	if !ok {
		return apperror.NotFound("strategy", strategyID)
	}
	for i := range s.Comments {
		if s.Comments[i].ID == commentID {
			s.Comments = append(s.Comments[:i], s.Comments[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("comment", commentID)
}

func (f *fakeStrategyRepo) populate(s *model.Strategy) *model.Strategy {
	s.CreatedBy = f.ref(s.CreatedBy.ID)
	for i := range s.Comments {
		s.Comments[i].User = f.ref(s.Comments[i].User.ID)
	}
	return s
}

func (f *fakeStrategyRepo) ref(id string) model.UserRef {
	if u, ok := f.users.users[id]; ok {
		return u.Ref()
	}
	return model.UserRef{ID: id}
}

// put stores s as-is, bypassing Create, and returns its ID.
func (f *fakeStrategyRepo) put(s model.Strategy) string {
	if s.ID == "" {
		s.ID = fmt.Sprintf("strategy-%d", f.nextID)
		f.nextID++
	}
	if s.CreatedAt.IsZero() {
		f.clock = f.clock.Add(time.Second)
		s.CreatedAt = f.clock
		s.UpdatedAt = f.clock
	}
	f.items[s.ID] = clone(&s)
	return s.ID
}

// cloneSlice copies src, keeping nil and empty distinct the way the stores do.
func cloneSlice[T any](src []T) []T {
	if src == nil {
		return nil
	}
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

func clone(s *model.Strategy) *model.Strategy {
	c := *s
	c.Tags = cloneSlice(s.Tags)
	c.Comments = cloneSlice(s.Comments)
	c.Ratings = cloneSlice(s.Ratings)
	if s.Parameters != nil {
		c.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

// =========================================================================
// HELPERS
// =========================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// requireAppError fails unless err is an *apperror.AppError wrapping want.
// A non-empty message is compared too.
func requireAppError(t *testing.T, err, want error, message string) *apperror.AppError {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %v", want)
	}
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want errors.Is(%v)", err, want)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %T is not an *apperror.AppError", err)
	}
	if message != "" && appErr.Message != message {
		t.Errorf("message = %q, want %q", appErr.Message, message)
	}
	return appErr
}

func ptr[T any](v T) *T { return &v }
