package session

import (
	"errors"
	"time"
)

// User is the minimal profile carried by a session. A nil or empty FullName
// means the user still has to finish onboarding.
type User struct {
	ID       string  `json:"id"`
	Phone    string  `json:"phone"`
	FullName *string `json:"full_name"`
}

// NeedsOnboarding reports whether the profile lacks a full name.
func (u User) NeedsOnboarding() bool {
	return u.FullName == nil || *u.FullName == ""
}

// Session is one authenticated login.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expired reports whether ExpiresAt has passed. Nothing refreshes or signs
// out automatically on expiry.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// Validate applies the well-formedness rules shared by Login and Initialize.
func (s Session) Validate() error {
	switch {
	case s.AccessToken == "":
		return errors.New("access token is empty")
	case s.RefreshToken == "":
		return errors.New("refresh token is empty")
	case s.User.ID == "":
		return errors.New("user id is empty")
	}
	return nil
}

func (s Session) clone() *Session {
	c := s
	if s.User.FullName != nil {
		name := *s.User.FullName
		c.User.FullName = &name
	}
	return &c
}

// UserPatch updates selected profile fields. Nil fields are left alone.
type UserPatch struct {
	Phone    *string
	FullName *string
}

func (p UserPatch) apply(u User) User {
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.FullName != nil {
		name := *p.FullName
		u.FullName = &name
	}
	return u
}

// State is what listeners observe.
type State struct {
	Session *Session
	Ready   bool
}

// SignedIn reports whether a session is present.
func (s State) SignedIn() bool { return s.Session != nil }
