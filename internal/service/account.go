package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/auth"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

type RegisterInput struct {
	Name     string `json:"name" validate:"min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
}

type ProfileInput struct {
	Name *string `json:"name" validate:"omitnil,min=1,max=100"`
}

// RegisterResult is a new account plus the link that verifies its email.
// There is no mail transport; the link is handed back to the client.
type RegisterResult struct {
	User            *model.User
	VerificationURL string
}

// AuthResult bundles the user record and the issued JWT so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// AccountService handles registration, sign-in, email verification,
// password reset and profile edits.
//
// DEPENDENCIES (injected via NewAccountService):
//   - users      repository.UserRepository → read/write user records
//   - tokens     *auth.TokenService        → session JWTs
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - baseURL    string                    → prefix of verification and reset links
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	baseURL   string
	logger    *slog.Logger
	now       func() time.Time
}

func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	baseURL string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
		now:       time.Now,
	}
}

func invalidCredentials() *apperror.AppError {
	return &apperror.AppError{Err: apperror.ErrUnauthorized, Message: "Invalid email or password"}
}

// =========================================================================
// REGISTRATION AND SIGN-IN
// =========================================================================

// Register creates an unverified account and issues a 24 hour verification
// token. A taken email is a 400 business-rule error.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, apperror.BadRequest("User already exists")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("looking up %s: %w", in.Email, err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "Must be at most 72 bytes")
	}
	token, err := auth.NewOneTimeToken()
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", in.Email, err)
	}

	user := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}
	user.SetVerificationToken(token, s.now().Add(auth.VerificationTTL))

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.BadRequest("User already exists")
		}
		return nil, fmt.Errorf("creating user %s: %w", in.Email, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return &RegisterResult{User: user, VerificationURL: s.link("/verify-email", token)}, nil
}

// Login checks email and password. Unknown email, GitHub-only accounts and
// wrong passwords all produce the same 401 message.
func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, invalidCredentials()
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("looking up %s: %w", email, err)
	}
	if user.PasswordHash == "" {
		return nil, invalidCredentials()
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn("failed login", slog.String("userID", user.ID))
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("verifying password for %s: %w", user.ID, err)
	}

	return s.issue(user)
}

// LoginOrRegisterGitHub links or creates the account behind a GitHub login
// and issues a session token. GitHub accounts count as verified.
func (s *AccountService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/account: GitHub user must not be nil")
	}

	name := ghUser.Name
	if name == "" {
		name = ghUser.Login
	}
	user := &model.User{
		GitHubID:  ghUser.ID,
		Email:     ghUser.Email,
		Name:      name,
		AvatarURL: ghUser.AvatarURL,
	}
	if err := s.users.UpsertGitHub(ctx, user); err != nil {
		return nil, fmt.Errorf("service/account: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", ghUser.Login),
	)
	return s.issue(user)
}

func (s *AccountService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID backs /api/me.
func (s *AccountService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized()
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage("User not found")
		}
		return nil, fmt.Errorf("fetching user %s: %w", id, err)
	}
	return user, nil
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

// VerifyEmail consumes a live verification token. The token is cleared in
// the same write that sets EmailVerified, so it cannot be replayed.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperror.ValidationFailed("token", "Required")
	}

	user, err := s.users.GetByVerificationToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.BadRequest("Invalid or expired verification token")
		}
		return fmt.Errorf("looking up verification token: %w", err)
	}

	user.EmailVerified = true
	user.SetVerificationToken("", time.Time{})
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("verifying user %s: %w", user.ID, err)
	}

	s.logger.Info("email verified", slog.String("userID", user.ID))
	return nil
}

// SendVerification issues a fresh verification token for the caller and
// returns its link.
func (s *AccountService) SendVerification(ctx context.Context, callerID string) (string, error) {
	user, err := s.GetUserByID(ctx, callerID)
	if err != nil {
		return "", err
	}
	if user.EmailVerified {
		return "", apperror.BadRequest("Email already verified")
	}

	token, err := auth.NewOneTimeToken()
	if err != nil {
		return "", fmt.Errorf("issuing verification token: %w", err)
	}
	user.SetVerificationToken(token, s.now().Add(auth.VerificationTTL))
	if err := s.users.Update(ctx, user); err != nil {
		return "", fmt.Errorf("saving verification token for %s: %w", user.ID, err)
	}

	s.logger.Info("verification token issued", slog.String("userID", user.ID))
	return s.link("/verify-email", token), nil
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

// RequestPasswordReset issues a one hour reset token when the account
// exists. The caller gets the same answer either way.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return apperror.ValidationFailed("email", "Invalid email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("looking up %s: %w", email, err)
	}

	token, err := auth.NewOneTimeToken()
	if err != nil {
		return fmt.Errorf("issuing reset token: %w", err)
	}
	user.SetResetToken(token, s.now().Add(auth.ResetTTL))
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("saving reset token for %s: %w", user.ID, err)
	}

	// No mail transport: the link only goes to the debug log.
	s.logger.Info("password reset requested", slog.String("userID", user.ID))
	s.logger.Debug("password reset link", slog.String("userID", user.ID), slog.String("url", s.link("/reset-password", token)))
	return nil
}

// ResetPassword consumes a live reset token and sets a new password.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) error {
	if strings.TrimSpace(token) == "" {
		return apperror.ValidationFailed("token", "Required")
	}
	if err := validate.Var(password, "min=6"); err != nil {
		return apperror.ValidationFailed("password", "Must be at least 6 characters")
	}

	user, err := s.users.GetByResetToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.BadRequest("Invalid or expired reset token")
		}
		return fmt.Errorf("looking up reset token: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return apperror.ValidationFailed("password", "Must be at most 72 bytes")
	}
	user.PasswordHash = hash
	user.SetResetToken("", time.Time{})
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("resetting password for %s: %w", user.ID, err)
	}

	s.logger.Info("password reset", slog.String("userID", user.ID))
	return nil
}

// =========================================================================
// PROFILE
// =========================================================================

// UpdateProfile changes the caller's display name. A nil name is a no-op
// that still returns the current profile.
func (s *AccountService) UpdateProfile(ctx context.Context, callerID string, in ProfileInput) (*model.User, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized()
	}
	if in.Name != nil {
		n := strings.TrimSpace(*in.Name)
		in.Name = &n
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if in.Name == nil {
		return user, nil
	}

	user.Name = *in.Name
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("updating profile of %s: %w", callerID, err)
	}

	s.logger.Info("profile updated", slog.String("userID", callerID))
	return user, nil
}

func (s *AccountService) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}
