package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

const userColumns = `id, email, password_hash, name, role, email_verified,
	verification_token, verification_expires, reset_token, reset_expires,
	github_id, avatar_url, created_at, updated_at`

// Create inserts a new user. The email is lowercased before storage.
// Returns apperror.ErrConflict if the email is already registered.
func (db *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		boolToInt(user.EmailVerified),
		nullString(user.VerificationToken),
		nullTime(user.VerificationExpires),
		nullString(user.ResetToken),
		nullTime(user.ResetExpires),
		nullGitHubID(user.GitHubID),
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail looks a user up case-insensitively.
func (db *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *UserDB) GetByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return db.getByToken(ctx, "verification_token", "verification_expires", token, now)
}

func (db *UserDB) GetByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return db.getByToken(ctx, "reset_token", "reset_expires", token, now)
}

// getByToken matches a live token. Expiry is compared in Go rather than SQL
// because the column holds the driver's text encoding of the timestamp.
func (db *UserDB) getByToken(ctx context.Context, tokenCol, expiresCol, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "token")
	}
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+tokenCol+` = ?`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", "token")
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", tokenCol, err)
	}

	expires := u.VerificationExpires
	if expiresCol == "reset_expires" {
		expires = u.ResetExpires
	}
	if expires == nil || !expires.After(now) {
		return nil, apperror.NotFound("user", "token")
	}
	return u, nil
}

// Update writes every mutable column of the user.
func (db *UserDB) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
			email = ?, password_hash = ?, name = ?, role = ?, email_verified = ?,
			verification_token = ?, verification_expires = ?,
			reset_token = ?, reset_expires = ?,
			github_id = ?, avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Name,
		user.Role,
		boolToInt(user.EmailVerified),
		nullString(user.VerificationToken),
		nullTime(user.VerificationExpires),
		nullString(user.ResetToken),
		nullTime(user.ResetExpires),
		nullGitHubID(user.GitHubID),
		user.AvatarURL,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// UpsertGitHub links a GitHub login to an account.
//
// Lookup order: github_id, then email (an existing password account gains
// the GitHub link), otherwise a new verified account is inserted. On return
// user holds the stored record.
func (db *UserDB) UpsertGitHub(ctx context.Context, user *model.User) error {
	existing, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, user.GitHubID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", user.GitHubID, err)
	}

	if existing == nil && user.Email != "" {
		existing, err = db.GetByEmail(ctx, user.Email)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
	}

	if existing == nil {
		user.EmailVerified = true
		if user.Email == "" {
			// GitHub hides some emails; keep the UNIQUE column satisfied.
			user.Email = fmt.Sprintf("%d@users.noreply.github.com", user.GitHubID)
		}
		return db.Create(ctx, user)
	}

	existing.GitHubID = user.GitHubID
	existing.AvatarURL = user.AvatarURL
	if existing.Name == "" {
		existing.Name = user.Name
	}
	if err := db.Update(ctx, existing); err != nil {
		return err
	}
	*user = *existing
	return nil
}

// =========================================================================
// FAVORITES
// =========================================================================

func (db *UserDB) AddFavorite(ctx context.Context, userID, strategyID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_favorites (user_id, strategy_id, created_at) VALUES (?, ?, ?)`,
		userID, strategyID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding favorite %s for %s: %w", strategyID, userID, err)
	}
	return nil
}

func (db *UserDB) RemoveFavorite(ctx context.Context, userID, strategyID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_favorites WHERE user_id = ? AND strategy_id = ?`,
		userID, strategyID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing favorite %s for %s: %w", strategyID, userID, err)
	}
	return nil
}

func (db *UserDB) IsFavorite(ctx context.Context, userID, strategyID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_favorites WHERE user_id = ? AND strategy_id = ?`,
		userID, strategyID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking favorite: %w", err)
	}
	return n > 0, nil
}

func (db *UserDB) ListFavoriteIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT strategy_id FROM user_favorites WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing favorites for %s: %w", userID, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning favorite: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =========================================================================
// HELPERS
// =========================================================================

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                   model.User
		verifyToken, reset  sql.NullString
		verifyExp, resetExp sql.NullTime
		githubID            sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.EmailVerified,
		&verifyToken,
		&verifyExp,
		&reset,
		&resetExp,
		&githubID,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.VerificationToken = verifyToken.String
	if verifyExp.Valid {
		t := verifyExp.Time
		u.VerificationExpires = &t
	}
	u.ResetToken = reset.String
	if resetExp.Valid {
		t := resetExp.Time
		u.ResetExpires = &t
	}
	u.GitHubID = githubID.Int64
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullGitHubID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
