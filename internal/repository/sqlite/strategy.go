package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

var _ repository.StrategyRepository = (*StrategyDB)(nil)

// strategySelect joins the creator so every read returns a populated CreatedBy.
const strategySelect = `SELECT s.id, s.name, s.description, s.parameters, s.risk_level, s.asset_class,
	s.backtest_performance, s.created_by, COALESCE(u.name, ''), COALESCE(u.email, ''),
	s.is_public, s.is_template, s.tags, COALESCE(s.copied_from, ''), s.copy_count,
	s.average_rating, s.created_at, s.updated_at
	FROM strategies s
	LEFT JOIN users u ON u.id = s.created_by`

// Create inserts a strategy. ID and timestamps are assigned here; comments
// and ratings on the input are ignored (a new strategy has neither).
func (db *StrategyDB) Create(ctx context.Context, s *model.Strategy) error {
	now := time.Now().UTC()
	s.ID = xid.New().String()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Comments = []model.Comment{}
	s.Ratings = []model.Rating{}
	s.AverageRating = 0

	params, tags, err := encodeJSONColumns(s)
	if err != nil {
		return fmt.Errorf("sqlite: creating strategy: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO strategies (id, name, description, parameters, risk_level, asset_class,
			backtest_performance, created_by, is_public, is_template, tags, copied_from,
			copy_count, average_rating, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.Name,
		s.Description,
		params,
		s.RiskLevel,
		s.AssetClass,
		s.BacktestPerformance,
		s.CreatedBy.ID,
		boolToInt(s.IsPublic),
		boolToInt(s.IsTemplate),
		tags,
		nullString(s.CopiedFrom),
		s.CopyCount,
		s.AverageRating,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating strategy: %w", err)
	}
	return nil
}

// GetByID returns the full aggregate: creator, comments (with authors) and ratings.
func (db *StrategyDB) GetByID(ctx context.Context, id string) (*model.Strategy, error) {
	s, err := scanStrategy(db.conn.QueryRowContext(ctx, strategySelect+` WHERE s.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("strategy", id)
		}
		return nil, fmt.Errorf("sqlite: getting strategy %s: %w", id, err)
	}

	list := []model.Strategy{*s}
	if err := db.loadChildren(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// List returns strategies newest first, per repository.StrategyFilter.
func (db *StrategyDB) List(ctx context.Context, filter repository.StrategyFilter) ([]model.Strategy, error) {
	var (
		where string
		args  []any
	)
	switch {
	case filter.TemplatesOnly:
		where = `WHERE s.is_template = 1`
	case filter.IDs != nil:
		if len(filter.IDs) == 0 {
			return []model.Strategy{}, nil
		}
		where = `WHERE s.id IN (` + placeholders(len(filter.IDs)) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	case filter.OwnerOrPublic != "":
		where = `WHERE s.created_by = ? OR s.is_public = 1`
		args = append(args, filter.OwnerOrPublic)
	default:
		where = `WHERE s.is_public = 1`
	}

	rows, err := db.conn.QueryContext(ctx,
		strategySelect+` `+where+` ORDER BY s.created_at DESC, s.rowid DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing strategies: %w", err)
	}
	defer rows.Close()

	strategies := make([]model.Strategy, 0)
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning strategy: %w", err)
		}
		strategies = append(strategies, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating strategies: %w", err)
	}
	// Release the connection before loadChildren needs it (":memory:" has one).
	rows.Close()

	if err := db.loadChildren(ctx, strategies); err != nil {
		return nil, err
	}
	return strategies, nil
}

// Update writes the owner-editable columns.
func (db *StrategyDB) Update(ctx context.Context, s *model.Strategy) error {
	s.UpdatedAt = time.Now().UTC()

	params, tags, err := encodeJSONColumns(s)
	if err != nil {
		return fmt.Errorf("sqlite: updating strategy %s: %w", s.ID, err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE strategies SET name = ?, description = ?, parameters = ?, risk_level = ?,
			asset_class = ?, backtest_performance = ?, is_public = ?, is_template = ?,
			tags = ?, updated_at = ?
		 WHERE id = ?`,
		s.Name,
		s.Description,
		params,
		s.RiskLevel,
		s.AssetClass,
		s.BacktestPerformance,
		boolToInt(s.IsPublic),
		boolToInt(s.IsTemplate),
		tags,
		s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating strategy %s: %w", s.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("strategy", s.ID)
	}
	return nil
}

// Delete removes the strategy; comments, ratings and favorites cascade.
func (db *StrategyDB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting strategy %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("strategy", id)
	}
	return nil
}

func (db *StrategyDB) FindCopy(ctx context.Context, ownerID, sourceID string) (*model.Strategy, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM strategies WHERE created_by = ? AND copied_from = ?
		 ORDER BY created_at LIMIT 1`,
		ownerID, sourceID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("copy", sourceID)
		}
		return nil, fmt.Errorf("sqlite: finding copy of %s: %w", sourceID, err)
	}
	return db.GetByID(ctx, id)
}

func (db *StrategyDB) IncrementCopyCount(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE strategies SET copy_count = copy_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: incrementing copy count of %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("strategy", id)
	}
	return nil
}

// SaveRatings replaces the rating rows and the stored average together.
func (db *StrategyDB) SaveRatings(ctx context.Context, id string, ratings []model.Rating, average float64) error {
	return withTx(ctx, db.conn, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE strategies SET average_rating = ? WHERE id = ?`, average, id)
		if err != nil {
			return fmt.Errorf("sqlite: saving average rating for %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return apperror.NotFound("strategy", id)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM strategy_ratings WHERE strategy_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: clearing ratings for %s: %w", id, err)
		}
		for _, r := range ratings {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO strategy_ratings (strategy_id, user_id, rating, created_at) VALUES (?, ?, ?, ?)`,
				id, r.UserID, r.Rating, r.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("sqlite: inserting rating on %s: %w", id, err)
			}
		}
		return nil
	})
}

// AddComment appends a comment. c.ID must already be set.
func (db *StrategyDB) AddComment(ctx context.Context, strategyID string, c *model.Comment) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO strategy_comments (id, strategy_id, user_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, strategyID, c.User.ID, c.Text, c.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return apperror.NotFound("strategy", strategyID)
		}
		return fmt.Errorf("sqlite: adding comment to %s: %w", strategyID, err)
	}
	return nil
}

func (db *StrategyDB) DeleteComment(ctx context.Context, strategyID, commentID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM strategy_comments WHERE id = ? AND strategy_id = ?`, commentID, strategyID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting comment %s: %w", commentID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("comment", commentID)
	}
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

// loadChildren fills Comments and Ratings for every strategy in place,
// using one query per child table.
func (db *StrategyDB) loadChildren(ctx context.Context, strategies []model.Strategy) error {
	if len(strategies) == 0 {
		return nil
	}

	index := make(map[string]int, len(strategies))
	args := make([]any, 0, len(strategies))
	for i := range strategies {
		strategies[i].Comments = []model.Comment{}
		strategies[i].Ratings = []model.Rating{}
		index[strategies[i].ID] = i
		args = append(args, strategies[i].ID)
	}
	in := placeholders(len(args))

	commentRows, err := db.conn.QueryContext(ctx,
		`SELECT c.strategy_id, c.id, c.user_id, COALESCE(u.name, ''), COALESCE(u.email, ''), c.text, c.created_at
		 FROM strategy_comments c
		 LEFT JOIN users u ON u.id = c.user_id
		 WHERE c.strategy_id IN (`+in+`)
		 ORDER BY c.created_at, c.rowid`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: loading comments: %w", err)
	}
	for commentRows.Next() {
		var (
			strategyID string
			c          model.Comment
		)
		if err := commentRows.Scan(&strategyID, &c.ID, &c.User.ID, &c.User.Name, &c.User.Email, &c.Text, &c.CreatedAt); err != nil {
			commentRows.Close()
			return fmt.Errorf("sqlite: scanning comment: %w", err)
		}
		i := index[strategyID]
		strategies[i].Comments = append(strategies[i].Comments, c)
	}
	if err := commentRows.Err(); err != nil {
		commentRows.Close()
		return fmt.Errorf("sqlite: iterating comments: %w", err)
	}
	commentRows.Close()

	ratingRows, err := db.conn.QueryContext(ctx,
		`SELECT strategy_id, user_id, rating, created_at
		 FROM strategy_ratings
		 WHERE strategy_id IN (`+in+`)
		 ORDER BY rowid`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: loading ratings: %w", err)
	}
	defer ratingRows.Close()
	for ratingRows.Next() {
		var (
			strategyID string
			r          model.Rating
		)
		if err := ratingRows.Scan(&strategyID, &r.UserID, &r.Rating, &r.CreatedAt); err != nil {
			return fmt.Errorf("sqlite: scanning rating: %w", err)
		}
		i := index[strategyID]
		strategies[i].Ratings = append(strategies[i].Ratings, r)
	}
	if err := ratingRows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating ratings: %w", err)
	}
	return nil
}

func scanStrategy(row rowScanner) (*model.Strategy, error) {
	var (
		s            model.Strategy
		params, tags string
	)
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&params,
		&s.RiskLevel,
		&s.AssetClass,
		&s.BacktestPerformance,
		&s.CreatedBy.ID,
		&s.CreatedBy.Name,
		&s.CreatedBy.Email,
		&s.IsPublic,
		&s.IsTemplate,
		&tags,
		&s.CopiedFrom,
		&s.CopyCount,
		&s.AverageRating,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &s.Parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters of %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", s.ID, err)
	}
	if s.Parameters == nil {
		s.Parameters = map[string]any{}
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return &s, nil
}

func encodeJSONColumns(s *model.Strategy) (params, tags string, err error) {
	p := s.Parameters
	if p == nil {
		p = map[string]any{}
	}
	t := s.Tags
	if t == nil {
		t = []string{}
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encoding parameters: %w", err)
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(pb), string(tb), nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
