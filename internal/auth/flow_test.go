package auth

import (
	"context"
	"errors"
	"testing"

	"civicreport/internal/api"
	"civicreport/internal/securestore"
	"civicreport/internal/session"
)

type fakeBackend struct {
	sent        []string
	verified    []api.VerifyRequest
	onboarded   []api.Profile
	tokens      []string
	verifyErr   error
	onboardName string
	sess        session.Session
}

func (f *fakeBackend) SendOTP(_ context.Context, phone string) error {
	f.sent = append(f.sent, phone)
	return nil
}

func (f *fakeBackend) VerifyOTP(_ context.Context, req api.VerifyRequest) (session.Session, error) {
	f.verified = append(f.verified, req)
	if f.verifyErr != nil {
		return session.Session{}, f.verifyErr
	}
	return f.sess, nil
}

func (f *fakeBackend) CompleteOnboarding(_ context.Context, token string, p api.Profile) (api.OnboardingResult, error) {
	f.tokens = append(f.tokens, token)
	f.onboarded = append(f.onboarded, p)
	return api.OnboardingResult{ID: "u-1", FullName: f.onboardName}, nil
}

func newFlow(t *testing.T, st securestore.Store) (*Flow, *fakeBackend, *session.Store) {
	t.Helper()
	be := &fakeBackend{sess: session.Session{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    100,
		User:         session.User{ID: "u-1", Phone: "+919876543210"},
	}}
	store := session.New(st)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewFlow(be, store, nil), be, store
}

func TestRequestOTP(t *testing.T) {
	f, be, _ := newFlow(t, securestore.NewMemoryStore())
	if err := f.RequestOTP(context.Background(), "  "); !errors.Is(err, ErrPhoneRequired) {
		t.Fatalf("blank phone error = %v", err)
	}
	if err := f.RequestOTP(context.Background(), " 9876543210 "); err != nil {
		t.Fatal(err)
	}
	if len(be.sent) != 1 || be.sent[0] != "9876543210" {
		t.Fatalf("sent = %v", be.sent)
	}
}

func TestSignInRequiresSixDigits(t *testing.T) {
	f, be, store := newFlow(t, securestore.NewMemoryStore())
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if _, err := f.SignIn(context.Background(), "9876543210", code); !errors.Is(err, ErrIncompleteOTP) {
			t.Fatalf("code %q error = %v", code, err)
		}
	}
	if len(be.verified) != 0 || store.Session() != nil {
		t.Fatal("incomplete code reached the backend")
	}
}

func TestSignInLogsIn(t *testing.T) {
	f, be, store := newFlow(t, securestore.NewMemoryStore())
	sess, err := f.SignIn(context.Background(), "9876543210", "123456")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if be.verified[0].New || be.verified[0].Code != "123456" {
		t.Fatalf("verify request = %+v", be.verified[0])
	}
	if got := store.Session(); got == nil || got.AccessToken != sess.AccessToken {
		t.Fatalf("store session = %+v", got)
	}
	if Route(store.Snapshot()) != Onboarding {
		t.Fatalf("route = %s", Route(store.Snapshot()))
	}
}

func TestSignUp(t *testing.T) {
	f, be, _ := newFlow(t, securestore.NewMemoryStore())
	if _, err := f.SignUp(context.Background(), "9876543210", "123456", " "); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("blank name error = %v", err)
	}
	if _, err := f.SignUp(context.Background(), "9876543210", "123456", "Asha"); err != nil {
		t.Fatal(err)
	}
	if req := be.verified[0]; !req.New || req.FullName != "Asha" {
		t.Fatalf("verify request = %+v", req)
	}
}

func TestSignInBackendRejects(t *testing.T) {
	f, be, store := newFlow(t, securestore.NewMemoryStore())
	be.verifyErr = errors.New("invalid code")
	if _, err := f.SignIn(context.Background(), "9876543210", "000000"); err == nil {
		t.Fatal("expected error")
	}
	if store.Session() != nil {
		t.Fatal("rejected code signed in")
	}
}

type brokenStore struct{ *securestore.MemoryStore }

func (brokenStore) Set(context.Context, string, string) error { return securestore.ErrUnavailable }

func TestSignInPersistenceFailureStillSignedIn(t *testing.T) {
	f, _, store := newFlow(t, brokenStore{securestore.NewMemoryStore()})
	sess, err := f.SignIn(context.Background(), "9876543210", "123456")
	if !errors.Is(err, session.ErrPersistenceFailed) {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.AccessToken != "a" || store.Session() == nil {
		t.Fatal("user should be signed in for this run")
	}
}

func TestCompleteOnboarding(t *testing.T) {
	f, be, store := newFlow(t, securestore.NewMemoryStore())
	if _, err := f.CompleteOnboarding(context.Background(), api.Profile{FullName: "Asha"}); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("no session error = %v", err)
	}
	if _, err := f.SignIn(context.Background(), "9876543210", "123456"); err != nil {
		t.Fatal(err)
	}
	be.onboardName = "Asha Rao"
	got, err := f.CompleteOnboarding(context.Background(), api.Profile{FullName: "Asha", City: "Pune"})
	if err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	if be.tokens[0] != "a" || be.onboarded[0].Phone != "+919876543210" {
		t.Fatalf("token=%v profile=%+v", be.tokens, be.onboarded[0])
	}
	if got.User.FullName == nil || *got.User.FullName != "Asha Rao" {
		t.Fatalf("user = %+v", got.User)
	}
	if Route(store.Snapshot()) != Dashboard {
		t.Fatalf("route = %s", Route(store.Snapshot()))
	}

	if err := f.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if Route(store.Snapshot()) != SignIn {
		t.Fatalf("route after logout = %s", Route(store.Snapshot()))
	}
}

func TestRoute(t *testing.T) {
	name := "Asha"
	empty := ""
	cases := []struct {
		st   session.State
		want Destination
	}{
		{session.State{}, Loading},
		{session.State{Session: &session.Session{}}, Loading},
		{session.State{Ready: true}, SignIn},
		{session.State{Ready: true, Session: &session.Session{}}, Onboarding},
		{session.State{Ready: true, Session: &session.Session{User: session.User{FullName: &empty}}}, Onboarding},
		{session.State{Ready: true, Session: &session.Session{User: session.User{FullName: &name}}}, Dashboard},
	}
	for i, tc := range cases {
		if got := Route(tc.st); got != tc.want {
			t.Fatalf("case %d: Route() = %s, want %s", i, got, tc.want)
		}
	}
}
