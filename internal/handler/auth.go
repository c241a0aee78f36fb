package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/auth"
	"github.com/sakif/strategy-hub/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler manages accounts and sessions.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin / HandleLogout / HandleMe → credentials and the session cookie
//   - HandleVerifyEmail / HandleVerifyEmailLink / HandleSendVerification → email verification
//   - HandleResetPassword → both halves of the password reset
//   - HandleUpdateProfile → display name
//   - HandleGitHubLogin / HandleGitHubCallback → optional GitHub login
//
// DEPENDENCY CHAIN:
//   - accounts *service.AccountService → every account rule and token
//   - github   *auth.GitHubProvider    → OAuth code exchange; nil when not configured
type AuthHandler struct {
	accounts      *service.AccountService
	github        *auth.GitHubProvider
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookies marks the session
// cookie Secure and should be true when the public URL is https.
func NewAuthHandler(
	accounts *service.AccountService,
	github *auth.GitHubProvider,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:      accounts,
		github:        github,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type registeredUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type registerResponse struct {
	Success         bool           `json:"success"`
	User            registeredUser `json:"user"`
	VerificationURL string         `json:"verificationUrl"`
}

type verificationResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	VerificationURL string `json:"verificationUrl"`
}

type profileResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// =========================================================================
// REGISTRATION AND SESSION
// =========================================================================

// HandleRegister creates an unverified account. There is no mail transport,
// so the verification link is returned in the response.
//
// HTTP: POST /api/register   {"name": "...", "email": "...", "password": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Success:         true,
		User:            registeredUser{Name: res.User.Name, Email: res.User.Email},
		VerificationURL: res.VerificationURL,
	})
}

// HandleLogin checks credentials and sets the session cookie.
//
// HTTP: POST /api/auth/login   {"email": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.secureCookies)
	writeSuccess(w, http.StatusOK, res.User, "")
}

// HandleLogout clears the session cookie. The JWT stays valid until it
// expires, but the browser no longer sends it.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	writeSuccess(w, http.StatusOK, nil, "Logged out")
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUserByID(r.Context(), callerID(r))
	if err != nil {
		h.logger.Warn("HandleMe: user lookup failed", slog.String("userID", callerID(r)))
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, user, "")
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

// HTTP: POST /api/auth/verify-email   {"token": "..."}
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "Email verified successfully")
}

// HandleVerifyEmailLink is the target of the emailed link. It always
// redirects to a frontend page.
//
// HTTP: GET /api/auth/verify-email?token=...
func (h *AuthHandler) HandleVerifyEmailLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(w, r, "/verify-email?error=no_token", http.StatusTemporaryRedirect)
		return
	}

	err := h.accounts.VerifyEmail(r.Context(), token)
	switch {
	case err == nil:
		http.Redirect(w, r, "/login?verified=true", http.StatusTemporaryRedirect)
	case errors.Is(err, apperror.ErrBadRequest), errors.Is(err, apperror.ErrValidation):
		http.Redirect(w, r, "/verify-email?error=invalid_token", http.StatusTemporaryRedirect)
	default:
		h.logger.Error("email verification failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/verify-email?error=verification_failed", http.StatusTemporaryRedirect)
	}
}

// HTTP: POST /api/auth/send-verification (RequireAuth)
func (h *AuthHandler) HandleSendVerification(w http.ResponseWriter, r *http.Request) {
	link, err := h.accounts.SendVerification(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse{
		Success:         true,
		Message:         "Verification email sent",
		VerificationURL: link,
	})
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

// HandleResetPassword serves both halves of the reset:
//   - {"email"}             → issue a token; the answer never says whether the account exists
//   - {"token", "password"} → set the new password
//
// HTTP: POST /api/auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	switch {
	case req.Email != "" && req.Token == "":
		if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, nil, "If the email exists, a reset link has been sent")

	case req.Token != "" && req.Password != "":
		if err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, nil, "Password reset successfully")

	default:
		writeError(w, apperror.BadRequest("Invalid request"))
	}
}

// =========================================================================
// PROFILE
// =========================================================================

// HTTP: PUT /api/profile   {"name": "..."} (RequireAuth)
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), callerID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, profileResponse{Name: user.Name, Email: user.Email, Role: user.Role}, "")
}

// =========================================================================
// GITHUB LOGIN
// =========================================================================

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when the two match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile
//  3. Link or create the account
//  4. Set the session cookie and redirect home
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/login?error=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	res, err := h.accounts.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: account link failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.secureCookies)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
