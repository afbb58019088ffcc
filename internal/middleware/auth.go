package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
)

// Permission names.
const (
	PermissionRead  = "read"
	PermissionAdmin = "admin"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExpiredCredentials = errors.New("credentials expired")
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	Name        string
	Scheme      string
	Permissions []string
}

// HasPermission is satisfied by admin or by the exact permission.
func (p Principal) HasPermission(required string) bool {
	return HasPermission(p.Permissions, required)
}

func HasPermission(perms []string, required string) bool {
	return slices.Contains(perms, PermissionAdmin) || slices.Contains(perms, required)
}

// APIKey is a configured key principal. A nil ExpiresAt never expires.
type APIKey struct {
	Key         string
	Name        string
	Permissions []string
	ExpiresAt   *time.Time
}

type AuthConfig struct {
	Enabled   bool
	APIKeys   []APIKey
	JWTSecret string
	JWTIssuer string
}

// Claims carried by bearer tokens.
type Claims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwtlib.RegisteredClaims
}

// Authenticator validates API keys first, then HS256 bearer tokens.
type Authenticator struct {
	cfg   AuthConfig
	clock application.Clock
}

func NewAuthenticator(cfg AuthConfig, clock application.Clock) *Authenticator {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Authenticator{cfg: cfg, clock: clock}
}

// Authenticate returns the caller's principal or one of the credential errors.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if !a.cfg.Enabled {
		return Principal{Name: "anonymous", Scheme: "none", Permissions: []string{PermissionRead, PermissionAdmin}}, nil
	}
	key, token := credentials(r)
	if key == "" && token == "" {
		return Principal{}, ErrMissingCredentials
	}
	var keyErr error
	if key != "" {
		p, err := a.checkAPIKey(key)
		if err == nil {
			return p, nil
		}
		keyErr = err
	}
	if token != "" {
		return a.checkToken(token)
	}
	return Principal{}, keyErr
}

func credentials(r *http.Request) (key, token string) {
	key = strings.TrimSpace(r.Header.Get("X-API-Key"))
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok {
		return key, ""
	}
	value = strings.TrimSpace(value)
	switch {
	case strings.EqualFold(scheme, "ApiKey"):
		if key == "" {
			key = value
		}
	case strings.EqualFold(scheme, "Bearer"):
		token = value
	}
	return key, token
}

func (a *Authenticator) checkAPIKey(key string) (Principal, error) {
	now := a.clock.Now()
	for _, k := range a.cfg.APIKeys {
		if k.Key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(k.Key)) != 1 {
			continue
		}
		// an expired key is treated as unknown
		if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{Name: k.Name, Scheme: "apikey", Permissions: slices.Clone(k.Permissions)}, nil
	}
	return Principal{}, ErrInvalidCredentials
}

func (a *Authenticator) checkToken(token string) (Principal, error) {
	if a.cfg.JWTSecret == "" {
		return Principal{}, ErrInvalidCredentials
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithTimeFunc(a.clock.Now),
	}
	if a.cfg.JWTIssuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.JWTIssuer))
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Principal{}, ErrExpiredCredentials
		}
		return Principal{}, ErrInvalidCredentials
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidCredentials
	}
	perms := claims.Permissions
	if len(perms) == 0 {
		perms = []string{PermissionRead}
	}
	return Principal{Name: claims.Subject, Scheme: "bearer", Permissions: perms}, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the principal
// in the request context.
func (a *Authenticator) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed", "error", err, "path", r.URL.Path, "ip", ClientIP(r))
				WriteError(w, http.StatusUnauthorized, authMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "authentication required"
	case errors.Is(err, ErrExpiredCredentials):
		return "credentials expired"
	default:
		return "invalid credentials"
	}
}

// RequirePermission answers 403 when the principal lacks perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !p.HasPermission(perm) {
				WriteError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
