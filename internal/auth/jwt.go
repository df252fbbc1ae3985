package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mindlink/pkg/types"
)

// Claims carried by platform-issued access tokens. The user id is read from
// user_id, falling back to the registered subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() *types.Identity {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return &types.Identity{
		ID:    id,
		Email: c.Email,
		Role:  types.ParseRole(c.Role),
		Name:  c.Name,
	}
}

// ParseToken verifies an HS256 token and returns the identity it carries.
// Malformed, expired or wrongly signed tokens yield ErrInvalidToken.
func ParseToken(secret []byte, issuer, tokenString string) (*types.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if isTokenRejection(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	identity := claims.identity()
	if identity.ID == "" {
		return nil, fmt.Errorf("%w: token carries no user id", ErrAuthFailed)
	}
	return identity, nil
}

func isTokenRejection(err error) bool {
	for _, target := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenExpired,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenInvalidIssuer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IssueToken signs an access token for identity. Used by tests and the
// token subcommand; production tokens come from the platform's auth service.
func IssueToken(secret []byte, issuer string, identity *types.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: identity.ID,
		Email:  identity.Email,
		Role:   string(identity.Role),
		Name:   identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
