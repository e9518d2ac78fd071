package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

type captured struct {
	method  string
	path    string
	query   string
	headers http.Header
	body    []byte
}

func newServer(t *testing.T, status int, respBody string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.headers = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRequestSuccessDefaults(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"ok":true}`)
	c := New(srv.URL+"/", WithUserAgent("civic-test"))

	res := c.Request(context.Background(), "/api/issues", Options{
		Params: map[string]string{"status": "open", "city": "pune"},
	})
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if !reflect.DeepEqual(res.Data, map[string]any{"ok": true}) {
		t.Fatalf("Data = %#v", res.Data)
	}
	if got.method != http.MethodGet || got.path != "/api/issues" {
		t.Fatalf("sent %s %s", got.method, got.path)
	}
	if got.query != "city=pune&status=open" {
		t.Fatalf("query = %q", got.query)
	}
	if ct := got.headers.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if got.headers.Get("Authorization") != "" {
		t.Fatalf("unexpected Authorization header")
	}
	if got.headers.Get(RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}
	if got.headers.Get("User-Agent") != "civic-test" {
		t.Fatalf("User-Agent = %q", got.headers.Get("User-Agent"))
	}
	if len(got.body) != 0 {
		t.Fatalf("GET sent a body: %q", got.body)
	}
}

func TestRequestTokenAndHeaderMerge(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{}`)
	c := New(srv.URL, WithDefaultHeader("apikey", "anon"))

	c.Request(context.Background(), "/x", Options{
		Method:  "post",
		Token:   "tok-1",
		Headers: map[string]string{"Content-Type": "text/plain", "Authorization": "Basic zzz", "X-Extra": "1"},
		Body:    map[string]any{"a": 1},
	})
	if got.method != http.MethodPost {
		t.Fatalf("method = %s", got.method)
	}
	if got.headers.Get("Content-Type") != "text/plain" {
		t.Fatalf("caller header should override default Content-Type, got %q", got.headers.Get("Content-Type"))
	}
	if got.headers.Get("Authorization") != "Bearer tok-1" {
		t.Fatalf("token should win over caller Authorization, got %q", got.headers.Get("Authorization"))
	}
	if got.headers.Get("apikey") != "anon" || got.headers.Get("X-Extra") != "1" {
		t.Fatalf("headers not merged: %v", got.headers)
	}
}

func TestRequestNormalizesPhone(t *testing.T) {
	cases := []struct {
		name string
		body any
		want string
	}{
		{"bare digits", map[string]any{"phone": "9876543210", "token": "123456"}, "+919876543210"},
		{"already prefixed", map[string]any{"phone": "+919876543210"}, "+919876543210"},
		{"struct body", struct {
			Phone string `json:"phone"`
		}{"9876543210"}, "+919876543210"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, got := newServer(t, http.StatusOK, `{}`)
			New(srv.URL).Request(context.Background(), "/api/auth/send-otp", Options{Method: http.MethodPost, Body: tc.body})

			var sent map[string]any
			if err := json.Unmarshal(got.body, &sent); err != nil {
				t.Fatalf("body is not json: %v", err)
			}
			if sent["phone"] != tc.want {
				t.Fatalf("phone = %v, want %s", sent["phone"], tc.want)
			}
		})
	}
}

func TestRequestDoesNotMutateCallerBody(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	body := map[string]any{"phone": "9876543210"}
	New(srv.URL).Request(context.Background(), "/x", Options{Method: http.MethodPost, Body: body})
	if body["phone"] != "9876543210" {
		t.Fatalf("caller body mutated: %v", body)
	}
}

func TestRequestLeavesNonObjectBodies(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{}`)
	New(srv.URL).Request(context.Background(), "/x", Options{Method: http.MethodPut, Body: []string{"phone"}})
	if string(got.body) != `["phone"]` {
		t.Fatalf("body = %s", got.body)
	}
	srv2, got2 := newServer(t, http.StatusOK, `{}`)
	New(srv2.URL).Request(context.Background(), "/x", Options{Method: http.MethodPut, Body: map[string]any{"phone": 42}})
	if string(got2.body) != `{"phone":42}` {
		t.Fatalf("non-string phone should pass through, body = %s", got2.body)
	}
}

func TestRequestHTTPErrorMessages(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusNotFound, `{"detail":"not found"}`, "not found"},
		{http.StatusBadRequest, `{"error":"bad phone"}`, "bad phone"},
		{http.StatusBadRequest, `{"detail":"","error":"fallback"}`, "fallback"},
		{http.StatusInternalServerError, `<html>oops</html>`, "Internal Server Error"},
		{599, ``, "Unknown error"},
	}
	for _, tc := range cases {
		srv, _ := newServer(t, tc.status, tc.body)
		res := New(srv.URL).Request(context.Background(), "/x", Options{})
		if res.Data != nil {
			t.Fatalf("status %d: Data should be nil, got %#v", tc.status, res.Data)
		}
		want := &Error{Kind: HTTPError, Status: tc.status, Message: tc.want}
		if !reflect.DeepEqual(res.Error, want) {
			t.Fatalf("status %d: Error = %#v, want %#v", tc.status, res.Error, want)
		}
		if StatusOf(res.Err()) != tc.status || !IsKind(res.Err(), HTTPError) {
			t.Fatalf("status helpers disagree for %d", tc.status)
		}
	}
}

func TestRequestMalformedSuccessBody(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `not json at all`)
	res := New(srv.URL).Request(context.Background(), "/x", Options{})
	if res.Error != nil {
		t.Fatalf("unexpected error %v", res.Error)
	}
	if !reflect.DeepEqual(res.Data, map[string]any{}) {
		t.Fatalf("Data = %#v, want empty object", res.Data)
	}
	var into struct{ OK bool }
	if err := res.Decode(&into); err != nil {
		t.Fatalf("Decode() of empty object failed: %v", err)
	}
}

func TestRequestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	res := New(base).Request(context.Background(), "/x", Options{})
	if res.Data != nil || res.Error == nil {
		t.Fatalf("expected failure result, got %#v", res)
	}
	if res.Error.Kind != NetworkFailure || res.Error.Status != 0 || res.Error.Message == "" {
		t.Fatalf("Error = %#v", res.Error)
	}
}

func TestRequestInvalidInput(t *testing.T) {
	c := New("http://127.0.0.1:1")
	for _, tc := range []struct {
		path   string
		method string
	}{
		{"no-slash", http.MethodGet},
		{"/ok", "TRACE"},
	} {
		res := c.Request(context.Background(), tc.path, Options{Method: tc.method})
		if res.Error == nil || res.Error.Kind != InvalidRequest || res.Error.Status != 0 {
			t.Fatalf("%s %s: Error = %#v", tc.method, tc.path, res.Error)
		}
	}
	res := c.Request(context.Background(), "/ok", Options{Method: http.MethodPost, Body: make(chan int)})
	if res.Error == nil || res.Error.Kind != InvalidRequest || !strings.Contains(res.Error.Message, "encode body") {
		t.Fatalf("unencodable body: %#v", res.Error)
	}
}

func TestResultErrIsNilOnSuccess(t *testing.T) {
	if err := (Result{}).Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}

func TestInvalidPhoneWarningCarriesRequestID(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{}`)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	c := New(srv.URL, WithLogger(logger))

	c.Request(context.Background(), "/api/auth/send-otp", Options{Method: http.MethodPost, Body: map[string]string{"phone": "12"}})

	var warning map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line is not json: %s", line)
		}
		if strings.HasPrefix(entry["msg"].(string), "phone does not look") {
			warning = entry
		}
	}
	if warning == nil {
		t.Fatalf("no phone warning logged: %s", buf.String())
	}
	if id := got.headers.Get(RequestIDHeader); id == "" || warning["request_id"] != id {
		t.Fatalf("warning request_id = %v, header = %q", warning["request_id"], id)
	}
	if warning["path"] != "/api/auth/send-otp" || warning["component"] != "gateway" {
		t.Fatalf("warning = %v", warning)
	}
}
