package service

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
)

// =========================================================================
// HELPERS
// =========================================================================

type strategyFixture struct {
	svc        *StrategyService
	users      *fakeUserRepo
	strategies *fakeStrategyRepo
	alice, bob string
}

func newStrategyFixture(t *testing.T) *strategyFixture {
	t.Helper()
	users := newFakeUserRepo()
	strategies := newFakeStrategyRepo(users)
	return &strategyFixture{
		svc:        NewStrategyService(strategies, users, newTestLogger()),
		users:      users,
		strategies: strategies,
		alice:      users.addUser(t, "alice@example.com", "Alice"),
		bob:        users.addUser(t, "bob@example.com", "Bob"),
	}
}

func validInput() StrategyInput {
	return StrategyInput{
		Name:        "Mean Reversion",
		Description: "Buys dips, 10+ chars",
		Parameters:  map[string]any{"entry": "RSI<30"},
		RiskLevel:   "Medium",
	}
}

func detailFields(appErr *apperror.AppError) []string {
	fields := make([]string, 0, len(appErr.Details))
	for _, d := range appErr.Details {
		fields = append(fields, d.Field)
	}
	sort.Strings(fields)
	return fields
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate_Success(t *testing.T) {
	f := newStrategyFixture(t)

	st, err := f.svc.Create(context.Background(), f.alice, validInput())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if st.CreatedBy.ID != f.alice {
		t.Errorf("owner = %q, want %q", st.CreatedBy.ID, f.alice)
	}
	if st.CreatedBy.Name != "Alice" {
		t.Errorf("creator name = %q, want populated %q", st.CreatedBy.Name, "Alice")
	}
	if st.AverageRating != 0 || len(st.Ratings) != 0 {
		t.Errorf("new strategy has average %v and %d ratings, want 0 and 0", st.AverageRating, len(st.Ratings))
	}
	if st.IsPublic {
		t.Error("IsPublic should default to false")
	}
	if st.AssetClass != model.DefaultAssetClass {
		t.Errorf("AssetClass = %q, want default %q", st.AssetClass, model.DefaultAssetClass)
	}
	if st.Tags == nil {
		t.Error("Tags should be an empty slice, not nil")
	}
}

func TestCreate_TrimsWhitespace(t *testing.T) {
	f := newStrategyFixture(t)
	in := validInput()
	in.Name = "   Trend Follower   "
	in.Description = "  Follows the 200 day moving average  "
	in.Tags = []string{" trend ", "ma"}

	st, err := f.svc.Create(context.Background(), f.alice, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if st.Name != "Trend Follower" {
		t.Errorf("Name = %q, want trimmed", st.Name)
	}
	if st.Description != "Follows the 200 day moving average" {
		t.Errorf("Description = %q, want trimmed", st.Description)
	}
	if st.Tags[0] != "trend" {
		t.Errorf("Tags[0] = %q, want trimmed", st.Tags[0])
	}
}

func TestCreate_ReportsEveryInvalidField(t *testing.T) {
	f := newStrategyFixture(t)

	_, err := f.svc.Create(context.Background(), f.alice, StrategyInput{
		Name:        "ab",
		Description: "short",
		Parameters:  map[string]any{},
		RiskLevel:   "Extreme",
		AssetClass:  "Bonds",
	})

	appErr := requireAppError(t, err, apperror.ErrValidation, "Validation failed")
	got := detailFields(appErr)
	want := []string{"assetClass", "description", "name", "parameters", "riskLevel"}
	if len(got) != len(want) {
		t.Fatalf("invalid fields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("invalid fields = %v, want %v", got, want)
			break
		}
	}
}

func TestCreate_VeryHighRiskAccepted(t *testing.T) {
	f := newStrategyFixture(t)
	in := validInput()
	in.RiskLevel = "Very High"

	if _, err := f.svc.Create(context.Background(), f.alice, in); err != nil {
		t.Fatalf("Create() with \"Very High\" error = %v", err)
	}
}

func TestCreate_MissingParameters(t *testing.T) {
	f := newStrategyFixture(t)
	in := validInput()
	in.Parameters = nil

	_, err := f.svc.Create(context.Background(), f.alice, in)
	appErr := requireAppError(t, err, apperror.ErrValidation, "")
	if appErr.Field != "parameters" {
		t.Errorf("Field = %q, want %q", appErr.Field, "parameters")
	}
}

func TestCreate_Anonymous(t *testing.T) {
	f := newStrategyFixture(t)

	_, err := f.svc.Create(context.Background(), "", validInput())
	requireAppError(t, err, apperror.ErrUnauthorized, "Unauthorized")
}

func TestCreate_StoreError(t *testing.T) {
	f := newStrategyFixture(t)
	f.strategies.createErr = errors.New("disk full")

	_, err := f.svc.Create(context.Background(), f.alice, validInput())
	if err == nil {
		t.Fatal("Create() should propagate store errors")
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		t.Errorf("store failure should not become an AppError, got %v", appErr)
	}
}

// =========================================================================
// LIST AND GET TESTS
// =========================================================================

func TestList_Modes(t *testing.T) {
	f := newStrategyFixture(t)
	alicePrivate := f.strategies.put(model.Strategy{Name: "alice private", CreatedBy: model.UserRef{ID: f.alice}})
	alicePublic := f.strategies.put(model.Strategy{Name: "alice public", CreatedBy: model.UserRef{ID: f.alice}, IsPublic: true})
	bobPrivate := f.strategies.put(model.Strategy{Name: "bob private", CreatedBy: model.UserRef{ID: f.bob}})
	bobPublic := f.strategies.put(model.Strategy{Name: "bob public", CreatedBy: model.UserRef{ID: f.bob}, IsPublic: true})
	f.users.AddFavorite(context.Background(), f.alice, bobPublic)

	tests := []struct {
		name     string
		callerID string
		filter   ListFilter
		want     []string
	}{
		{"anonymous sees public", "", ListFilter{}, []string{bobPublic, alicePublic}},
		{"caller sees own and public", f.alice, ListFilter{}, []string{bobPublic, alicePublic, alicePrivate}},
		{"other caller", f.bob, ListFilter{}, []string{bobPublic, bobPrivate, alicePublic}},
		{"public only", f.alice, ListFilter{PublicOnly: true}, []string{bobPublic, alicePublic}},
		{"favorites", f.alice, ListFilter{FavoritesOnly: true}, []string{bobPublic}},
		{"no favorites", f.bob, ListFilter{FavoritesOnly: true}, []string{}},
		{"anonymous favorites falls back to public", "", ListFilter{FavoritesOnly: true}, []string{bobPublic, alicePublic}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := f.svc.List(context.Background(), tt.callerID, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if list == nil {
				t.Fatal("List() returned nil, want empty slice")
			}
			if len(list) != len(tt.want) {
				t.Fatalf("List() returned %d strategies, want %d", len(list), len(tt.want))
			}
			for i, id := range tt.want {
				if list[i].ID != id {
					t.Errorf("list[%d] = %s (%s), want %s", i, list[i].ID, list[i].Name, id)
				}
			}
		})
	}
}

func TestList_StoreError(t *testing.T) {
	f := newStrategyFixture(t)
	f.strategies.listErr = errors.New("connection reset")

	if _, err := f.svc.List(context.Background(), f.alice, ListFilter{}); err == nil {
		t.Fatal("List() should propagate store errors")
	}
}

func TestGet_Visibility(t *testing.T) {
	f := newStrategyFixture(t)
	private := f.strategies.put(model.Strategy{CreatedBy: model.UserRef{ID: f.alice}})
	template := f.strategies.put(model.Strategy{CreatedBy: model.UserRef{ID: f.alice}, IsTemplate: true})

	if _, err := f.svc.Get(context.Background(), f.alice, private); err != nil {
		t.Errorf("owner Get() error = %v", err)
	}
	_, err := f.svc.Get(context.Background(), f.bob, private)
	requireAppError(t, err, apperror.ErrForbidden, "")

	if _, err := f.svc.Get(context.Background(), "", template); err != nil {
		t.Errorf("private template should be readable, got %v", err)
	}

	_, err = f.svc.Get(context.Background(), f.alice, "missing")
	requireAppError(t, err, apperror.ErrNotFound, "Strategy not found")
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdate_MergesPartialPatch(t *testing.T) {
	f := newStrategyFixture(t)
	st, _ := f.svc.Create(context.Background(), f.alice, validInput())

	updated, err := f.svc.Update(context.Background(), f.alice, st.ID, StrategyPatch{
		Name:     ptr("  Mean Reversion v2 "),
		IsPublic: ptr(true),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.Name != "Mean Reversion v2" {
		t.Errorf("Name = %q, want trimmed new name", updated.Name)
	}
	if !updated.IsPublic {
		t.Error("IsPublic should be true after update")
	}
	if updated.Description != st.Description || updated.RiskLevel != st.RiskLevel {
		t.Error("fields absent from the patch must be left unchanged")
	}

	stored, _ := f.strategies.GetByID(context.Background(), st.ID)
	if stored.Name != "Mean Reversion v2" || !stored.IsPublic {
		t.Errorf("update was not persisted: %+v", stored)
	}
}

func TestUpdate_NonOwnerForbidden(t *testing.T) {
	f := newStrategyFixture(t)
	st, _ := f.svc.Create(context.Background(), f.alice, validInput())

	_, err := f.svc.Update(context.Background(), f.bob, st.ID, StrategyPatch{Name: ptr("Hijacked")})
	requireAppError(t, err, apperror.ErrForbidden, "Forbidden: Not owner")

	stored, _ := f.strategies.GetByID(context.Background(), st.ID)
	if stored.Name != "Mean Reversion" {
		t.Errorf("non-owner update changed Name to %q", stored.Name)
	}
}

func TestUpdate_NotFoundBeforeForbidden(t *testing.T) {
	f := newStrategyFixture(t)

	_, err := f.svc.Update(context.Background(), f.bob, "does-not-exist", StrategyPatch{Name: ptr("Whatever")})
	requireAppError(t, err, apperror.ErrNotFound, "Strategy not found")
}

func TestUpdate_ValidatesPatch(t *testing.T) {
	f := newStrategyFixture(t)
	st, _ := f.svc.Create(context.Background(), f.alice, validInput())

	_, err := f.svc.Update(context.Background(), f.alice, st.ID, StrategyPatch{
		Name:      ptr("x"),
		RiskLevel: ptr("Extreme"),
	})
	appErr := requireAppError(t, err, apperror.ErrValidation, "")
	if len(appErr.Details) != 2 {
		t.Errorf("Details = %v, want 2 entries", appErr.Details)
	}
}

func TestUpdate_MissingID(t *testing.T) {
	f := newStrategyFixture(t)

	_, err := f.svc.Update(context.Background(), f.alice, " ", StrategyPatch{})
	requireAppError(t, err, apperror.ErrValidation, "Strategy ID is required")
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestDelete_Owner(t *testing.T) {
	f := newStrategyFixture(t)
	st, _ := f.svc.Create(context.Background(), f.alice, validInput())

	if err := f.svc.Delete(context.Background(), f.alice, st.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.strategies.GetByID(context.Background(), st.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("strategy still present after delete, err = %v", err)
	}
}

func TestDelete_NonOwnerForbidden(t *testing.T) {
	f := newStrategyFixture(t)
	st, _ := f.svc.Create(context.Background(), f.alice, validInput())

	err := f.svc.Delete(context.Background(), f.bob, st.ID)
	requireAppError(t, err, apperror.ErrForbidden, "Forbidden: Not owner")

	if _, err := f.strategies.GetByID(context.Background(), st.ID); err != nil {
		t.Errorf("strategy removed by non-owner: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	f := newStrategyFixture(t)

	err := f.svc.Delete(context.Background(), f.alice, "missing")
	requireAppError(t, err, apperror.ErrNotFound, "Strategy not found")
}

func TestDelete_Anonymous(t *testing.T) {
	f := newStrategyFixture(t)

	err := f.svc.Delete(context.Background(), "", "anything")
	requireAppError(t, err, apperror.ErrUnauthorized, "")
}
