package devbackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errWrongTokenType = errors.New("wrong token type")

type claims struct {
	Phone string `json:"phone"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// issuedTokens is one access/refresh pair sharing a jti.
type issuedTokens struct {
	Access    string
	Refresh   string
	ExpiresAt time.Time
	ID        string
}

// tokenIssuer signs HS256 tokens for the dev backend.
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func (t *tokenIssuer) issue(userID, phone string) (issuedTokens, error) {
	now := t.now()
	jti := uuid.NewString()
	access, err := t.sign(userID, phone, tokenTypeAccess, jti, now, now.Add(t.accessTTL))
	if err != nil {
		return issuedTokens{}, err
	}
	refresh, err := t.sign(userID, phone, tokenTypeRefresh, jti, now, now.Add(t.refreshTTL))
	if err != nil {
		return issuedTokens{}, err
	}
	return issuedTokens{Access: access, Refresh: refresh, ExpiresAt: now.Add(t.accessTTL), ID: jti}, nil
}

func (t *tokenIssuer) sign(userID, phone, typ, jti string, iat, exp time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Phone: phone,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// parseAccess validates signature, expiry and type.
func (t *tokenIssuer) parseAccess(raw string) (*claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if c.Type != tokenTypeAccess {
		return nil, errWrongTokenType
	}
	return c, nil
}
