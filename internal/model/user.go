// Package model defines the data structures used throughout the application.
package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account.
//
// Email is the login identifier and is always stored lowercased. The two
// token pairs (verification, reset) are written and cleared together; an
// empty token means "none outstanding".
//
// GitHubID is zero for accounts that never signed in through GitHub.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Name                string     `json:"name"`
	Role                string     `json:"role"`
	EmailVerified       bool       `json:"emailVerified"`
	VerificationToken   string     `json:"-"`
	VerificationExpires *time.Time `json:"-"`
	ResetToken          string     `json:"-"`
	ResetExpires        *time.Time `json:"-"`
	GitHubID            int64      `json:"githubId,omitempty"`
	AvatarURL           string     `json:"avatarUrl,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Ref returns the public projection used when a user is embedded in a strategy.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// SetVerificationToken sets or clears (token == "") the verification pair.
func (u *User) SetVerificationToken(token string, expires time.Time) {
	if token == "" {
		u.VerificationToken = ""
		u.VerificationExpires = nil
		return
	}
	u.VerificationToken = token
	u.VerificationExpires = &expires
}

// SetResetToken sets or clears (token == "") the password-reset pair.
func (u *User) SetResetToken(token string, expires time.Time) {
	if token == "" {
		u.ResetToken = ""
		u.ResetExpires = nil
		return
	}
	u.ResetToken = token
	u.ResetExpires = &expires
}
