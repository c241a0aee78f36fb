// Package service contains the business rules of strategy-hub.
//
// Handlers parse HTTP and call a service with the caller's user ID as an
// explicit argument ("" for anonymous). Services validate input, enforce
// ownership and talk to the stores through the repository interfaces:
//
//	Handler (HTTP) → Service (rules, callerID) → Repository (sqlite or mongo)
//
// Every error a service returns is either an *apperror.AppError, which the
// handler maps to a status code, or a wrapped store failure (500).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

// StrategyInput is the body of a create request.
type StrategyInput struct {
	Name                string         `json:"name" validate:"min=3,max=100"`
	Description         string         `json:"description" validate:"min=10,max=2000"`
	Parameters          map[string]any `json:"parameters" validate:"required,min=1"`
	RiskLevel           string         `json:"riskLevel" validate:"required,oneof=Low Medium High 'Very High'"`
	AssetClass          string         `json:"assetClass" validate:"omitempty,oneof=Stocks Crypto Forex Futures Options"`
	BacktestPerformance string         `json:"backtestPerformance"`
	IsPublic            bool           `json:"isPublic"`
	Tags                []string       `json:"tags"`
}

// StrategyPatch is a partial update. Nil fields are left unchanged.
type StrategyPatch struct {
	Name                *string        `json:"name" validate:"omitnil,min=3,max=100"`
	Description         *string        `json:"description" validate:"omitnil,min=10,max=2000"`
	Parameters          map[string]any `json:"parameters" validate:"omitnil,min=1"`
	RiskLevel           *string        `json:"riskLevel" validate:"omitnil,oneof=Low Medium High 'Very High'"`
	AssetClass          *string        `json:"assetClass" validate:"omitnil,oneof=Stocks Crypto Forex Futures Options"`
	BacktestPerformance *string        `json:"backtestPerformance"`
	IsPublic            *bool          `json:"isPublic"`
	Tags                []string       `json:"tags"`
}

// ListFilter mirrors the ?public= and ?favorites= query flags.
type ListFilter struct {
	PublicOnly    bool
	FavoritesOnly bool
}

// StrategyService owns the strategy lifecycle: list, read, create, update,
// delete and export.
type StrategyService struct {
	strategies repository.StrategyRepository
	users      repository.UserRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewStrategyService(strategies repository.StrategyRepository, users repository.UserRepository, logger *slog.Logger) *StrategyService {
	return &StrategyService{
		strategies: strategies,
		users:      users,
		logger:     logger,
		now:        time.Now,
	}
}

// List returns strategies newest first.
//
//   - FavoritesOnly with a caller: the caller's favorites
//   - a caller without PublicOnly: the caller's own strategies plus public ones
//   - otherwise: public strategies only
func (s *StrategyService) List(ctx context.Context, callerID string, filter ListFilter) ([]model.Strategy, error) {
	var f repository.StrategyFilter

	switch {
	case filter.FavoritesOnly && callerID != "":
		ids, err := s.users.ListFavoriteIDs(ctx, callerID)
		if err != nil {
			return nil, fmt.Errorf("listing favorites of %s: %w", callerID, err)
		}
		if ids == nil {
			ids = []string{}
		}
		f.IDs = ids
	case callerID != "" && !filter.PublicOnly:
		f.OwnerOrPublic = callerID
	}

	list, err := s.strategies.List(ctx, f)
	if err != nil {
		s.logger.Error("failed to list strategies", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing strategies: %w", err)
	}
	if list == nil {
		list = []model.Strategy{}
	}
	return list, nil
}

// Get returns one strategy. Private strategies are visible to their owner
// only; templates are visible to everyone.
func (s *StrategyService) Get(ctx context.Context, callerID, id string) (*model.Strategy, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.IsPublic && !st.IsTemplate && !st.OwnedBy(callerID) {
		return nil, apperror.Forbidden("Forbidden")
	}
	return st, nil
}

// Create validates in and stores a new private-by-default strategy owned by
// the caller. Every invalid field is reported, not just the first.
func (s *StrategyService) Create(ctx context.Context, callerID string, in StrategyInput) (*model.Strategy, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Tags = trimTags(in.Tags)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.AssetClass == "" {
		in.AssetClass = model.DefaultAssetClass
	}

	st := &model.Strategy{
		Name:                in.Name,
		Description:         in.Description,
		Parameters:          in.Parameters,
		RiskLevel:           in.RiskLevel,
		AssetClass:          in.AssetClass,
		BacktestPerformance: in.BacktestPerformance,
		CreatedBy:           model.UserRef{ID: callerID},
		IsPublic:            in.IsPublic,
		Tags:                in.Tags,
	}
	created, err := s.insert(ctx, st)
	if err != nil {
		return nil, err
	}

	s.logger.Info("strategy created",
		slog.String("id", created.ID),
		slog.String("owner", callerID),
	)
	return created, nil
}

// Update merges patch onto the caller's strategy. A missing strategy is
// reported before a foreign one.
func (s *StrategyService) Update(ctx context.Context, callerID, id string, patch StrategyPatch) (*model.Strategy, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperror.ValidationFailed("_id", "Strategy ID is required")
	}

	if patch.Name != nil {
		v := strings.TrimSpace(*patch.Name)
		patch.Name = &v
	}
	if patch.Description != nil {
		v := strings.TrimSpace(*patch.Description)
		patch.Description = &v
	}
	if err := validateStruct(patch); err != nil {
		return nil, err
	}

	st, err := s.loadOwned(ctx, callerID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		st.Name = *patch.Name
	}
	if patch.Description != nil {
		st.Description = *patch.Description
	}
	if patch.Parameters != nil {
		st.Parameters = patch.Parameters
	}
	if patch.RiskLevel != nil {
		st.RiskLevel = *patch.RiskLevel
	}
	if patch.AssetClass != nil {
		st.AssetClass = *patch.AssetClass
	}
	if patch.BacktestPerformance != nil {
		st.BacktestPerformance = *patch.BacktestPerformance
	}
	if patch.IsPublic != nil {
		st.IsPublic = *patch.IsPublic
	}
	if patch.Tags != nil {
		st.Tags = trimTags(patch.Tags)
	}

	if err := s.strategies.Update(ctx, st); err != nil {
		s.logger.Error("failed to update strategy",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating strategy %s: %w", id, err)
	}

	s.logger.Info("strategy updated", slog.String("id", id))
	return st, nil
}

// Delete permanently removes the caller's strategy, including its comments
// and ratings.
func (s *StrategyService) Delete(ctx context.Context, callerID, id string) error {
	if callerID == "" {
		return apperror.Unauthorized()
	}
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("id", "Strategy ID is required")
	}

	if _, err := s.loadOwned(ctx, callerID, id); err != nil {
		return err
	}
	if err := s.strategies.Delete(ctx, id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFoundMessage("Strategy not found")
		}
		return fmt.Errorf("deleting strategy %s: %w", id, err)
	}

	s.logger.Info("strategy deleted", slog.String("id", id), slog.String("owner", callerID))
	return nil
}

// load fetches a strategy and turns a store miss into the user-facing 404.
func (s *StrategyService) load(ctx context.Context, id string) (*model.Strategy, error) {
	return loadStrategy(ctx, s.strategies, id, "Strategy not found")
}

func (s *StrategyService) loadOwned(ctx context.Context, callerID, id string) (*model.Strategy, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.OwnedBy(callerID) {
		return nil, apperror.Forbidden("Forbidden: Not owner")
	}
	return st, nil
}

// insert stores st and reads it back so the response carries the creator's
// name and email.
func (s *StrategyService) insert(ctx context.Context, st *model.Strategy) (*model.Strategy, error) {
	return insertStrategy(ctx, s.strategies, s.logger, st)
}

func loadStrategy(ctx context.Context, repo repository.StrategyRepository, id, notFound string) (*model.Strategy, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.ValidationFailed("strategyId", "Strategy ID is required")
	}
	st, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage(notFound)
		}
		return nil, fmt.Errorf("getting strategy %s: %w", id, err)
	}
	return st, nil
}

func insertStrategy(ctx context.Context, repo repository.StrategyRepository, logger *slog.Logger, st *model.Strategy) (*model.Strategy, error) {
	if st.Tags == nil {
		st.Tags = []string{}
	}
	if err := repo.Create(ctx, st); err != nil {
		logger.Error("failed to create strategy",
			slog.String("name", st.Name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating strategy: %w", err)
	}

	stored, err := repo.GetByID(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("reading back strategy %s: %w", st.ID, err)
	}
	return stored, nil
}
