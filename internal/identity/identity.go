// Package identity talks to the hosted identity provider. Only remote
// sign-out is needed by the client.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"civicreport/internal/gateway"
	"civicreport/internal/logging"
)

const (
	// APIKeyHeader carries the provider's anonymous key on every call.
	APIKeyHeader = "apikey"
	logoutPath   = "/auth/v1/logout"
)

// ErrNoToken is returned by SignOut when there is nothing to revoke.
var ErrNoToken = errors.New("identity: no access token")

// Client revokes server-side sessions.
type Client struct {
	gw     *gateway.Client
	logger *slog.Logger
}

// New builds a client for the provider at baseURL. gwOpts are passed to the
// underlying gateway, after the apikey header.
func New(baseURL, anonKey string, logger *slog.Logger, gwOpts ...gateway.Option) *Client {
	opts := make([]gateway.Option, 0, len(gwOpts)+2)
	if anonKey != "" {
		opts = append(opts, gateway.WithDefaultHeader(APIKeyHeader, anonKey))
	}
	opts = append(opts, gateway.WithLogger(logger))
	opts = append(opts, gwOpts...)
	return &Client{
		gw:     gateway.New(baseURL, opts...),
		logger: logging.Component(logger, "identity"),
	}
}

// SignOut invalidates the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return ErrNoToken
	}
	res := c.gw.Request(ctx, logoutPath, gateway.Options{
		Method: http.MethodPost,
		Token:  accessToken,
	})
	if err := res.Err(); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "remote session revoked")
	return nil
}
