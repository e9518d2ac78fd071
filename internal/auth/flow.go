// Package auth drives the sign-in, sign-up and onboarding screens on top of
// the backend client and the session store.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"civicreport/internal/api"
	"civicreport/internal/logging"
	"civicreport/internal/session"
)

var (
	// ErrPhoneRequired is returned when no phone number was entered.
	ErrPhoneRequired = errors.New("phone number is required")
	// ErrIncompleteOTP is returned unless the code is exactly six digits.
	ErrIncompleteOTP = errors.New("incomplete OTP")
	// ErrNameRequired is returned when sign-up or onboarding has no full name.
	ErrNameRequired = errors.New("full name is required")
)

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// Backend is the subset of the api client the flow uses.
type Backend interface {
	SendOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, req api.VerifyRequest) (session.Session, error)
	CompleteOnboarding(ctx context.Context, token string, p api.Profile) (api.OnboardingResult, error)
}

// Flow wires screens to the backend and the session store.
type Flow struct {
	backend Backend
	store   *session.Store
	logger  *slog.Logger
}

// NewFlow drives sign-in and onboarding against backend, recording the result in store.
func NewFlow(backend Backend, store *session.Store, logger *slog.Logger) *Flow {
	return &Flow{backend: backend, store: store, logger: logging.Component(logger, "auth")}
}

// RequestOTP sends a code to phone.
func (f *Flow) RequestOTP(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrPhoneRequired
	}
	if err := f.backend.SendOTP(ctx, phone); err != nil {
		f.logger.WarnContext(ctx, "send otp failed", "phone", logging.MaskPhone(phone), "error", err.Error())
		return err
	}
	f.logger.InfoContext(ctx, "otp requested", "phone", logging.MaskPhone(phone))
	return nil
}

// SignIn verifies code for an existing account and logs in.
func (f *Flow) SignIn(ctx context.Context, phone, code string) (session.Session, error) {
	return f.verify(ctx, api.VerifyRequest{Phone: strings.TrimSpace(phone), Code: code})
}

// SignUp verifies code for a new account named fullName and logs in.
func (f *Flow) SignUp(ctx context.Context, phone, code, fullName string) (session.Session, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return session.Session{}, ErrNameRequired
	}
	return f.verify(ctx, api.VerifyRequest{Phone: strings.TrimSpace(phone), Code: code, FullName: fullName, New: true})
}

// verify returns the session even when Login reports ErrPersistenceFailed;
// the user is signed in for this run either way.
func (f *Flow) verify(ctx context.Context, req api.VerifyRequest) (session.Session, error) {
	if req.Phone == "" {
		return session.Session{}, ErrPhoneRequired
	}
	if !otpPattern.MatchString(req.Code) {
		return session.Session{}, ErrIncompleteOTP
	}
	sess, err := f.backend.VerifyOTP(ctx, req)
	if err != nil {
		f.logger.WarnContext(ctx, "verify otp failed", "phone", logging.MaskPhone(req.Phone), "new", req.New, "error", err.Error())
		return session.Session{}, err
	}
	if err := f.store.Login(ctx, sess); err != nil {
		if errors.Is(err, session.ErrPersistenceFailed) {
			return sess, err
		}
		return session.Session{}, err
	}
	return sess, nil
}

// CompleteOnboarding saves the profile and copies the confirmed full name
// into the session. Phone defaults to the session's phone.
func (f *Flow) CompleteOnboarding(ctx context.Context, p api.Profile) (session.Session, error) {
	if err := f.store.WaitReady(ctx); err != nil {
		return session.Session{}, err
	}
	cur := f.store.Session()
	if cur == nil {
		return session.Session{}, session.ErrNoActiveSession
	}
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return session.Session{}, ErrNameRequired
	}
	if p.Phone == "" {
		p.Phone = cur.User.Phone
	}

	res, err := f.backend.CompleteOnboarding(ctx, cur.AccessToken, p)
	if err != nil {
		f.logger.WarnContext(ctx, "onboarding failed", "user_id", cur.User.ID, "error", err.Error())
		return session.Session{}, err
	}
	name := res.FullName
	if name == "" {
		name = p.FullName
	}
	return f.store.UpdateUser(ctx, session.UserPatch{FullName: &name})
}

// Logout signs out locally and remotely.
func (f *Flow) Logout(ctx context.Context) error {
	return f.store.Logout(ctx)
}
