package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mindlink/pkg/types"
)

// Authenticator turns a request credential into an Identity.
type Authenticator struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuthenticator verifies HS256 tokens signed with secret. An empty issuer is not checked.
func NewAuthenticator(secret, issuer string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, logger: logger.Named("auth")}
}

// AuthenticateHandshake reads the bearer header, falling back to the token
// query parameter browsers must use for WebSocket upgrades.
func (a *Authenticator) AuthenticateHandshake(r *http.Request) (*types.Identity, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return a.authenticate(token)
}

// AuthenticateRequest accepts only the Authorization header.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (*types.Identity, error) {
	return a.authenticate(bearerToken(r.Header.Get("Authorization")))
}

func (a *Authenticator) authenticate(token string) (*types.Identity, error) {
	if token == "" {
		return nil, types.AuthError(ErrMissingToken.Error(), ErrMissingToken)
	}
	identity, err := ParseToken(a.secret, a.issuer, token)
	if err != nil {
		a.logger.Debug("token rejected", zap.Error(err))
		if errors.Is(err, ErrInvalidToken) {
			return nil, types.AuthError(ErrInvalidToken.Error(), err)
		}
		return nil, types.AuthError(ErrAuthFailed.Error(), err)
	}
	a.logger.Info("authenticated",
		zap.String("user_id", identity.ID),
		zap.String("email", identity.Email),
		zap.String("role", string(identity.Role)))
	return identity, nil
}

// Middleware rejects requests without a valid bearer header and stores the
// identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.AuthenticateRequest(r)
		if err != nil {
			WriteUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WriteUnauthorized writes the 401 envelope used for both HTTP and upgrade rejections.
func WriteUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   types.PublicMessage(err),
	})
}

type identityKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns nil when the context carries no identity.
func IdentityFrom(ctx context.Context) *types.Identity {
	identity, _ := ctx.Value(identityKey{}).(*types.Identity)
	return identity
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
