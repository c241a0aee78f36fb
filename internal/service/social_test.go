package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
)

// =========================================================================
// HELPERS
// =========================================================================

type socialFixture struct {
	svc               *SocialService
	users             *fakeUserRepo
	strategies        *fakeStrategyRepo
	alice, bob, carol string
	public, private   string
}

func newSocialFixture(t *testing.T) *socialFixture {
	t.Helper()
	users := newFakeUserRepo()
	strategies := newFakeStrategyRepo(users)
	svc := NewSocialService(strategies, users, newTestLogger())

	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("comment-%d", n)
	}

	f := &socialFixture{
		svc:        svc,
		users:      users,
		strategies: strategies,
		alice:      users.addUser(t, "alice@example.com", "Alice"),
		bob:        users.addUser(t, "bob@example.com", "Bob"),
		carol:      users.addUser(t, "carol@example.com", "Carol"),
	}
	f.public = strategies.put(model.Strategy{
		Name:        "Mean Reversion",
		Description: "Buys dips, 10+ chars",
		Parameters:  map[string]any{"entry": "RSI<30"},
		RiskLevel:   "Medium",
		AssetClass:  "Stocks",
		Tags:        []string{"rsi"},
		CreatedBy:   model.UserRef{ID: f.alice},
		IsPublic:    true,
	})
	f.private = strategies.put(model.Strategy{
		Name:      "Secret Sauce",
		CreatedBy: model.UserRef{ID: f.alice},
	})
	return f
}

// =========================================================================
// FAVORITE TESTS
// =========================================================================

func TestToggleFavorite_IsAnInvolution(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	on, err := f.svc.ToggleFavorite(ctx, f.bob, f.public)
	if err != nil || !on {
		t.Fatalf("first toggle = (%v, %v), want (true, nil)", on, err)
	}
	if fav, _ := f.svc.IsFavorite(ctx, f.bob, f.public); !fav {
		t.Error("IsFavorite after first toggle = false, want true")
	}

	off, err := f.svc.ToggleFavorite(ctx, f.bob, f.public)
	if err != nil || off {
		t.Fatalf("second toggle = (%v, %v), want (false, nil)", off, err)
	}
	if fav, _ := f.svc.IsFavorite(ctx, f.bob, f.public); fav {
		t.Error("IsFavorite after second toggle = true, want false")
	}
	if ids, _ := f.users.ListFavoriteIDs(ctx, f.bob); len(ids) != 0 {
		t.Errorf("favorites after two toggles = %v, want none", ids)
	}
}

func TestToggleFavorite_Rejections(t *testing.T) {
	f := newSocialFixture(t)

	tests := []struct {
		name     string
		callerID string
		id       string
		want     error
		message  string
	}{
		{"anonymous", "", f.public, apperror.ErrUnauthorized, "Unauthorized"},
		{"private strategy", f.bob, f.private, apperror.ErrBadRequest, "Only public strategies can be favorited"},
		{"unknown strategy", f.bob, "missing", apperror.ErrNotFound, "Strategy not found"},
		{"missing id", f.bob, "", apperror.ErrValidation, "Strategy ID is required"},
		{"deleted user", "ghost", f.public, apperror.ErrNotFound, "User not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ToggleFavorite(context.Background(), tt.callerID, tt.id)
			requireAppError(t, err, tt.want, tt.message)
		})
	}
}

// =========================================================================
// RATING TESTS
// =========================================================================

func TestRate_MeanAndReplace(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Rate(ctx, f.bob, f.public, 4); err != nil {
		t.Fatalf("bob Rate() error = %v", err)
	}
	sum, err := f.svc.Rate(ctx, f.carol, f.public, 2)
	if err != nil {
		t.Fatalf("carol Rate() error = %v", err)
	}
	if sum.AverageRating != 3.0 || sum.TotalRatings != 2 {
		t.Errorf("after 4 and 2: average %v over %d, want 3.0 over 2", sum.AverageRating, sum.TotalRatings)
	}

	sum, err = f.svc.Rate(ctx, f.bob, f.public, 5)
	if err != nil {
		t.Fatalf("bob re-Rate() error = %v", err)
	}
	if sum.AverageRating != 3.5 || sum.TotalRatings != 2 {
		t.Errorf("after re-rate: average %v over %d, want 3.5 over 2", sum.AverageRating, sum.TotalRatings)
	}
	if sum.UserRating == nil || *sum.UserRating != 5 {
		t.Errorf("UserRating = %v, want 5", sum.UserRating)
	}

	stored, _ := f.strategies.GetByID(ctx, f.public)
	if stored.AverageRating != 3.5 || len(stored.Ratings) != 2 {
		t.Errorf("stored average %v over %d ratings, want 3.5 over 2", stored.AverageRating, len(stored.Ratings))
	}
}

func TestRate_Rejections(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	for _, v := range []int{0, 6, -1} {
		_, err := f.svc.Rate(ctx, f.bob, f.public, v)
		requireAppError(t, err, apperror.ErrValidation, "Rating must be between 1 and 5")
	}

	_, err := f.svc.Rate(ctx, f.bob, f.private, 3)
	requireAppError(t, err, apperror.ErrBadRequest, "Only public strategies can be rated")

	_, err = f.svc.RateLegacy(ctx, f.bob, f.private, 3)
	requireAppError(t, err, apperror.ErrForbidden, "Cannot rate private strategies")

	_, err = f.svc.Rate(ctx, "", f.public, 3)
	requireAppError(t, err, apperror.ErrUnauthorized, "")

	_, err = f.svc.Rate(ctx, f.bob, "missing", 3)
	requireAppError(t, err, apperror.ErrNotFound, "Strategy not found")
}

func TestRate_StoreErrorLeavesAverage(t *testing.T) {
	f := newSocialFixture(t)
	f.strategies.saveRatingsErr = errors.New("write conflict")

	if _, err := f.svc.Rate(context.Background(), f.bob, f.public, 4); err == nil {
		t.Fatal("Rate() should propagate store errors")
	}
	stored, _ := f.strategies.GetByID(context.Background(), f.public)
	if stored.AverageRating != 0 || len(stored.Ratings) != 0 {
		t.Errorf("failed rate changed the stored aggregate: %v over %d", stored.AverageRating, len(stored.Ratings))
	}
}

func TestRatingSummary(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()
	f.svc.Rate(ctx, f.bob, f.public, 4)

	anon, err := f.svc.RatingSummary(ctx, "", f.public)
	if err != nil {
		t.Fatalf("RatingSummary() error = %v", err)
	}
	if anon.UserRating != nil {
		t.Errorf("anonymous UserRating = %v, want nil", *anon.UserRating)
	}
	if anon.AverageRating != 4 || anon.TotalRatings != 1 {
		t.Errorf("summary = %+v, want average 4 over 1", anon)
	}

	mine, _ := f.svc.RatingSummary(ctx, f.bob, f.public)
	if mine.UserRating == nil || *mine.UserRating != 4 {
		t.Errorf("bob's UserRating = %v, want 4", mine.UserRating)
	}
	notRated, _ := f.svc.RatingSummary(ctx, f.carol, f.public)
	if notRated.UserRating != nil {
		t.Errorf("carol's UserRating = %v, want nil", *notRated.UserRating)
	}
}

// =========================================================================
// COMMENT TESTS
// =========================================================================

func TestAddComment_TrimsAndPopulates(t *testing.T) {
	f := newSocialFixture(t)

	comments, err := f.svc.AddComment(context.Background(), f.bob, f.public, "  nice backtest  ")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("len(comments) = %d, want 1", len(comments))
	}
	c := comments[0]
	if c.ID != "comment-1" {
		t.Errorf("ID = %q, want generated %q", c.ID, "comment-1")
	}
	if c.Text != "nice backtest" {
		t.Errorf("Text = %q, want trimmed", c.Text)
	}
	if c.User.ID != f.bob || c.User.Name != "Bob" {
		t.Errorf("author = %+v, want populated Bob", c.User)
	}
	if c.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestAddComment_Rejections(t *testing.T) {
	f := newSocialFixture(t)

	tests := []struct {
		name     string
		callerID string
		id       string
		text     string
		want     error
		message  string
	}{
		{"anonymous", "", f.public, "hi", apperror.ErrUnauthorized, ""},
		{"blank", f.bob, f.public, "   ", apperror.ErrValidation, "Comment text is required"},
		{"too long", f.bob, f.public, strings.Repeat("x", 501), apperror.ErrValidation, "Comment must be at most 500 characters"},
		{"private strategy", f.bob, f.private, "hi", apperror.ErrBadRequest, "Only public strategies can be commented on"},
		{"unknown strategy", f.bob, "missing", "hi", apperror.ErrNotFound, "Strategy not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddComment(context.Background(), tt.callerID, tt.id, tt.text)
			requireAppError(t, err, tt.want, tt.message)
		})
	}

	if _, err := f.svc.AddComment(context.Background(), f.bob, f.public, strings.Repeat("é", 500)); err != nil {
		t.Errorf("500 multi-byte characters should be accepted, got %v", err)
	}
}

func TestDeleteComment_ByStableID(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()
	f.svc.AddComment(ctx, f.bob, f.public, "first")   // comment-1
	f.svc.AddComment(ctx, f.carol, f.public, "second") // comment-2
	f.svc.AddComment(ctx, f.bob, f.public, "third")   // comment-3

	// The author deletes the first; the others keep their IDs.
	if err := f.svc.DeleteComment(ctx, f.bob, f.public, "comment-1"); err != nil {
		t.Fatalf("author DeleteComment() error = %v", err)
	}
	// Deleting comment-3 still hits "third" even though positions shifted.
	if err := f.svc.DeleteComment(ctx, f.alice, f.public, "comment-3"); err != nil {
		t.Fatalf("owner DeleteComment() error = %v", err)
	}

	comments, _ := f.svc.ListComments(ctx, f.public)
	if len(comments) != 1 || comments[0].Text != "second" {
		t.Errorf("remaining comments = %+v, want only \"second\"", comments)
	}
}

func TestDeleteComment_Rejections(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()
	f.svc.AddComment(ctx, f.bob, f.public, "mine") // comment-1

	err := f.svc.DeleteComment(ctx, f.carol, f.public, "comment-1")
	requireAppError(t, err, apperror.ErrForbidden, "Unauthorized to delete this comment")

	err = f.svc.DeleteComment(ctx, f.bob, f.public, "comment-99")
	requireAppError(t, err, apperror.ErrNotFound, "Comment not found")

	err = f.svc.DeleteComment(ctx, f.bob, f.public, "")
	requireAppError(t, err, apperror.ErrValidation, "")

	err = f.svc.DeleteComment(ctx, "", f.public, "comment-1")
	requireAppError(t, err, apperror.ErrUnauthorized, "")

	if comments, _ := f.svc.ListComments(ctx, f.public); len(comments) != 1 {
		t.Errorf("rejected deletes removed comments: %d left", len(comments))
	}
}

func TestListComments_EmptyIsNotNil(t *testing.T) {
	f := newSocialFixture(t)

	comments, err := f.svc.ListComments(context.Background(), f.public)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if comments == nil {
		t.Error("ListComments() = nil, want empty slice")
	}
}

// =========================================================================
// TEMPLATE TESTS
// =========================================================================

func TestTemplates_MarkListUnmark(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkTemplate(ctx, f.bob, f.private)
	requireAppError(t, err, apperror.ErrForbidden, "You can only create templates from your own strategies")

	st, err := f.svc.MarkTemplate(ctx, f.alice, f.private)
	if err != nil {
		t.Fatalf("MarkTemplate() error = %v", err)
	}
	if !st.IsTemplate {
		t.Error("IsTemplate should be true")
	}

	list, _ := f.svc.ListTemplates(ctx)
	if len(list) != 1 || list[0].ID != f.private {
		t.Errorf("ListTemplates() = %d entries, want the private template", len(list))
	}

	_, err = f.svc.UnmarkTemplate(ctx, f.bob, f.private)
	requireAppError(t, err, apperror.ErrForbidden, "You can only remove template status from your own strategies")

	if _, err := f.svc.UnmarkTemplate(ctx, f.alice, f.private); err != nil {
		t.Fatalf("UnmarkTemplate() error = %v", err)
	}
	if list, _ := f.svc.ListTemplates(ctx); len(list) != 0 {
		t.Errorf("ListTemplates() after unmark = %d entries, want 0", len(list))
	}
}

func TestUseTemplate(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()
	f.svc.MarkTemplate(ctx, f.alice, f.public)

	st, err := f.svc.UseTemplate(ctx, f.bob, f.public, nil)
	if err != nil {
		t.Fatalf("UseTemplate() error = %v", err)
	}
	if st.Name != "Mean Reversion (From Template)" {
		t.Errorf("Name = %q, want default template name", st.Name)
	}
	if st.CreatedBy.ID != f.bob || st.IsPublic || st.IsTemplate || st.CopiedFrom != f.public {
		t.Errorf("derived strategy = %+v, want owner bob, private, not a template, copiedFrom source", st)
	}
	if st.Description != "Buys dips, 10+ chars" || st.Parameters["entry"] != "RSI<30" {
		t.Error("display fields should be copied from the template")
	}

	named, err := f.svc.UseTemplate(ctx, f.bob, f.public, ptr("  My Version "))
	if err != nil {
		t.Fatalf("UseTemplate(name) error = %v", err)
	}
	if named.Name != "My Version" {
		t.Errorf("Name = %q, want override", named.Name)
	}

	src, _ := f.strategies.GetByID(ctx, f.public)
	if src.CopyCount != 0 {
		t.Errorf("using a template changed copyCount to %d", src.CopyCount)
	}
}

func TestUseTemplate_Rejections(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	_, err := f.svc.UseTemplate(ctx, f.bob, f.public, nil)
	requireAppError(t, err, apperror.ErrBadRequest, "This strategy is not a template")

	_, err = f.svc.UseTemplate(ctx, f.bob, "missing", nil)
	requireAppError(t, err, apperror.ErrNotFound, "Template not found")

	f.svc.MarkTemplate(ctx, f.alice, f.public)
	_, err = f.svc.UseTemplate(ctx, f.bob, f.public, ptr("ab"))
	requireAppError(t, err, apperror.ErrValidation, "")
}

// =========================================================================
// COPY TESTS
// =========================================================================

func TestCopy_IsIdempotentPerCaller(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	first, err := f.svc.Copy(ctx, f.bob, f.public)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if first.AlreadyCopied {
		t.Error("first copy reported AlreadyCopied")
	}
	st := first.Strategy
	if st.Name != "Mean Reversion (Copy)" || st.CreatedBy.ID != f.bob || st.IsPublic || st.CopiedFrom != f.public {
		t.Errorf("copy = %+v, want \"(Copy)\" owned by bob, private, copiedFrom source", st)
	}
	if len(st.Tags) != 1 || st.Tags[0] != "rsi" {
		t.Errorf("Tags = %v, want copied", st.Tags)
	}

	second, err := f.svc.Copy(ctx, f.bob, f.public)
	if err != nil {
		t.Fatalf("second Copy() error = %v", err)
	}
	if !second.AlreadyCopied || second.Strategy.ID != st.ID {
		t.Errorf("second copy = %+v, want the existing copy %s", second, st.ID)
	}

	src, _ := f.strategies.GetByID(ctx, f.public)
	if src.CopyCount != 1 {
		t.Errorf("copyCount = %d, want 1", src.CopyCount)
	}

	if _, err := f.svc.Copy(ctx, f.carol, f.public); err != nil {
		t.Fatalf("carol Copy() error = %v", err)
	}
	src, _ = f.strategies.GetByID(ctx, f.public)
	if src.CopyCount != 2 {
		t.Errorf("copyCount after a second copier = %d, want 2", src.CopyCount)
	}
}

func TestCopy_Rejections(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	_, err := f.svc.Copy(ctx, f.bob, f.private)
	requireAppError(t, err, apperror.ErrBadRequest, "Only public strategies can be copied")

	_, err = f.svc.Copy(ctx, f.bob, "missing")
	requireAppError(t, err, apperror.ErrNotFound, "Strategy not found")

	_, err = f.svc.Copy(ctx, "", f.public)
	requireAppError(t, err, apperror.ErrUnauthorized, "")

	if f.strategies.incrementCalls != 0 {
		t.Errorf("rejected copies incremented copyCount %d times", f.strategies.incrementCalls)
	}
}

func TestDerivedNames_StayWithinLimit(t *testing.T) {
	f := newSocialFixture(t)
	ctx := context.Background()

	longName := strings.Repeat("é", MaxTemplateName)
	src := f.strategies.put(model.Strategy{
		Name:        longName,
		Description: "Buys dips, 10+ chars",
		Parameters:  map[string]any{"entry": "RSI<30"},
		RiskLevel:   "Medium",
		AssetClass:  "Stocks",
		CreatedBy:   model.UserRef{ID: f.alice},
		IsPublic:    true,
		IsTemplate:  true,
	})
	strategies := NewStrategyService(f.strategies, f.users, newTestLogger())

	copied, err := f.svc.Copy(ctx, f.bob, src)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	fromTemplate, err := f.svc.UseTemplate(ctx, f.carol, src, nil)
	if err != nil {
		t.Fatalf("UseTemplate() error = %v", err)
	}

	tests := []struct {
		name   string
		got    *model.Strategy
		owner  string
		suffix string
	}{
		{"copy", copied.Strategy, f.bob, copyNameSuffix},
		{"template", fromTemplate, f.carol, templateNameSuffix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n := len([]rune(tt.got.Name)); n != MaxTemplateName {
				t.Errorf("name length = %d runes, want %d", n, MaxTemplateName)
			}
			if !strings.HasSuffix(tt.got.Name, tt.suffix) {
				t.Errorf("name %q lacks suffix %q", tt.got.Name, tt.suffix)
			}

			// The owner can save the derived record unchanged.
			name := tt.got.Name
			if _, err := strategies.Update(ctx, tt.owner, tt.got.ID, StrategyPatch{Name: &name}); err != nil {
				t.Errorf("Update() with the derived name error = %v", err)
			}
		})
	}
}

func TestDerivedName_ShortBaseUntouched(t *testing.T) {
	if got := derivedName("Breakout", copyNameSuffix); got != "Breakout (Copy)" {
		t.Errorf("derivedName() = %q, want %q", got, "Breakout (Copy)")
	}
}
