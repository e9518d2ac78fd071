// Package api wraps the backend endpoints the app consumes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"civicreport/internal/gateway"
	"civicreport/internal/session"
)

const (
	sendOTPPath    = "/api/auth/send-otp"
	verifyOTPPath  = "/api/auth/verify-otp"
	onboardingPath = "/api/auth/onboarding"
)

// ErrNoSessionInResponse means verify-otp answered 2xx without a session.
var ErrNoSessionInResponse = errors.New("api: no session in response")

// Client calls the backend through a gateway.
type Client struct {
	gw *gateway.Client
}

// New returns a client that sends through gw.
func New(gw *gateway.Client) *Client {
	return &Client{gw: gw}
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

// SendOTP asks the backend to text a one-time code to phone.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	res := c.gw.Request(ctx, sendOTPPath, gateway.Options{
		Method: http.MethodPost,
		Body:   sendOTPRequest{Phone: phone},
	})
	return res.Err()
}

// VerifyRequest is the verify-otp body. New marks a sign-up.
type VerifyRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"token"`
	FullName string `json:"full_name,omitempty"`
	New      bool   `json:"new"`
}

type verifyResponse struct {
	Session *session.Session `json:"session"`
	Data    *struct {
		Session *session.Session `json:"session"`
	} `json:"data"`
}

// VerifyOTP exchanges a code for a session. The session may sit at the top
// level or under "data".
func (c *Client) VerifyOTP(ctx context.Context, req VerifyRequest) (session.Session, error) {
	res := c.gw.Request(ctx, verifyOTPPath, gateway.Options{
		Method: http.MethodPost,
		Body:   req,
	})
	var out verifyResponse
	if err := res.Decode(&out); err != nil {
		var ge *gateway.Error
		if errors.As(err, &ge) {
			return session.Session{}, err
		}
		return session.Session{}, fmt.Errorf("decode verify response: %w", err)
	}
	switch {
	case out.Session != nil:
		return *out.Session, nil
	case out.Data != nil && out.Data.Session != nil:
		return *out.Data.Session, nil
	}
	return session.Session{}, ErrNoSessionInResponse
}

// Profile is the onboarding form.
type Profile struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Language string `json:"language,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
}

// OnboardingResult echoes the saved profile.
type OnboardingResult struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Language string `json:"language"`
	City     string `json:"city"`
	State    string `json:"state"`
}

// CompleteOnboarding saves the profile for the user behind token.
func (c *Client) CompleteOnboarding(ctx context.Context, token string, p Profile) (OnboardingResult, error) {
	res := c.gw.Request(ctx, onboardingPath, gateway.Options{
		Method: http.MethodPost,
		Body:   p,
		Token:  token,
	})
	var out OnboardingResult
	if err := res.Decode(&out); err != nil {
		var ge *gateway.Error
		if errors.As(err, &ge) {
			return OnboardingResult{}, err
		}
		return OnboardingResult{}, fmt.Errorf("decode onboarding response: %w", err)
	}
	return out, nil
}
