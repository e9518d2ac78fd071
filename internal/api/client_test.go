package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"civicreport/internal/gateway"
)

func serve(t *testing.T, status int, resp string, got *map[string]any, auth *string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, got)
		}
		if auth != nil {
			*auth = r.Header.Get("Authorization")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return New(gateway.New(srv.URL))
}

func TestSendOTPNormalizesPhone(t *testing.T) {
	var body map[string]any
	c := serve(t, http.StatusOK, `{"message":"sent"}`, &body, nil)
	if err := c.SendOTP(context.Background(), "9876543210"); err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}
	if body["phone"] != "+919876543210" {
		t.Fatalf("phone = %v", body["phone"])
	}
}

func TestSendOTPError(t *testing.T) {
	c := serve(t, http.StatusTooManyRequests, `{"detail":"slow down"}`, nil, nil)
	err := c.SendOTP(context.Background(), "9876543210")
	var ge *gateway.Error
	if !errors.As(err, &ge) || ge.Status != http.StatusTooManyRequests || ge.Message != "slow down" {
		t.Fatalf("SendOTP() error = %#v", err)
	}
}

func TestVerifyOTPShapes(t *testing.T) {
	const sess = `{"access_token":"a","refresh_token":"r","expires_at":42,"user":{"id":"u","phone":"+91","full_name":null}}`
	for name, resp := range map[string]string{
		"top level": `{"session":` + sess + `}`,
		"nested":    `{"data":{"session":` + sess + `}}`,
	} {
		t.Run(name, func(t *testing.T) {
			var body map[string]any
			c := serve(t, http.StatusOK, resp, &body, nil)
			got, err := c.VerifyOTP(context.Background(), VerifyRequest{Phone: "9876543210", Code: "123456", FullName: "Asha", New: true})
			if err != nil {
				t.Fatalf("VerifyOTP() error = %v", err)
			}
			if got.AccessToken != "a" || got.ExpiresAt != 42 || got.User.ID != "u" || got.User.FullName != nil {
				t.Fatalf("session = %+v", got)
			}
			if body["token"] != "123456" || body["new"] != true || body["full_name"] != "Asha" || body["phone"] != "+919876543210" {
				t.Fatalf("request body = %v", body)
			}
		})
	}
}

func TestVerifyOTPNoSession(t *testing.T) {
	c := serve(t, http.StatusOK, `{"message":"ok"}`, nil, nil)
	if _, err := c.VerifyOTP(context.Background(), VerifyRequest{Phone: "1", Code: "123456"}); !errors.Is(err, ErrNoSessionInResponse) {
		t.Fatalf("VerifyOTP() error = %v", err)
	}
	c = serve(t, http.StatusOK, `garbage`, nil, nil)
	if _, err := c.VerifyOTP(context.Background(), VerifyRequest{Phone: "1", Code: "123456"}); !errors.Is(err, ErrNoSessionInResponse) {
		t.Fatalf("malformed body error = %v", err)
	}
}

func TestVerifyOTPRejected(t *testing.T) {
	c := serve(t, http.StatusBadRequest, `{"detail":"invalid code"}`, nil, nil)
	_, err := c.VerifyOTP(context.Background(), VerifyRequest{Phone: "1", Code: "000000"})
	if gateway.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("VerifyOTP() error = %v", err)
	}
}

func TestCompleteOnboarding(t *testing.T) {
	var body map[string]any
	var auth string
	c := serve(t, http.StatusOK, `{"id":"u","full_name":"Asha Rao","city":"Pune"}`, &body, &auth)
	got, err := c.CompleteOnboarding(context.Background(), "tok", Profile{FullName: "Asha Rao", City: "Pune", State: "MH", Language: "mr"})
	if err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	if got.FullName != "Asha Rao" || got.City != "Pune" {
		t.Fatalf("result = %+v", got)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", auth)
	}
	if body["state"] != "MH" || body["language"] != "mr" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["phone"]; ok {
		t.Fatalf("empty phone should be omitted: %v", body)
	}
}
