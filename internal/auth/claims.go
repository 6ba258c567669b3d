// Package auth issues and validates the signed session tokens carried by
// browser cookies or Authorization headers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVersion is embedded in every issued token. Bump it to invalidate all
// outstanding sessions after a claims-format change.
const TokenVersion = 1

// Config holds signing and verification parameters.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims represents the payload extracted from a session token: the member
// identity plus a snapshot of their permission codes at login time.
type Claims struct {
	Subject     string
	Email       string
	Permissions map[string]struct{}
	Version     int
	ExpiresAt   time.Time
}

// ErrMissingToken is returned when no token accompanies the request.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Issue signs a session token embedding the member id, email and permission
// snapshot.
func Issue(subject, email string, permissions []string, cfg Config) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         subject,
		"email":       email,
		"permissions": permissions,
		"pver":        TokenVersion,
		"iss":         cfg.Issuer,
		"iat":         now.Unix(),
		"exp":         now.Add(cfg.TTL).Unix(),
	})

	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if subject == "" || email == "" {
		return nil, ErrInvalidToken
	}

	version, _ := claims["pver"].(float64)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	return &Claims{
		Subject:     subject,
		Email:       email,
		Permissions: normalizePermissions(claims["permissions"]),
		Version:     int(version),
		ExpiresAt:   exp.Time,
	}, nil
}

func normalizePermissions(value interface{}) map[string]struct{} {
	out := make(map[string]struct{})
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out[str] = struct{}{}
			}
		}
	case []string:
		for _, str := range v {
			if str != "" {
				out[str] = struct{}{}
			}
		}
	}
	return out
}

// HasPermission reports whether the claim set includes the provided code.
func (c *Claims) HasPermission(code string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Permissions[code]
	return ok
}

// HasAllPermissions reports whether every required code is present.
func (c *Claims) HasAllPermissions(codes ...string) bool {
	for _, code := range codes {
		if !c.HasPermission(code) {
			return false
		}
	}
	return true
}
