package security

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// ContextKeyIdentity is the gin context key for the resolved caller Identity.
	ContextKeyIdentity = "identity"
	// ContextKeyUserID is the gin context key for the authenticated user ID string.
	ContextKeyUserID = "userID"
)

// Identity is the authenticated caller for the duration of one request.
type Identity struct {
	UserID     uuid.UUID
	Privileged bool
	Roles      map[string]bool
}

// String returns the user id, used in logs.
func (i Identity) String() string { return i.UserID.String() }

// UserLookup loads the stored account behind a token subject.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// TokenResolver resolves bearer tokens to caller identities. It is initialized once at startup.
type TokenResolver struct {
	verifier        *oidc.IDTokenVerifier
	hmacSecret      []byte
	jwtIssuer       string
	privilegedRole  string
	privilegedUsers map[string]bool
	testingMode     bool
	now             func() time.Time
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	oidcIssuer := cfg.OIDCIssuer

	if oidcIssuer != "" {
		ctx := context.Background()
		expectedIssuer := oidcIssuer
		discoveryURL := cfg.OIDCDiscoveryURL
		if discoveryURL != "" && discoveryURL != oidcIssuer {
			// NewProvider fetches from its issuer arg; accept the mismatched issuer in the
			// discovery document.
			ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
			oidcIssuer = discoveryURL
		}
		provider, err := oidc.NewProvider(ctx, oidcIssuer)
		if err != nil {
			log.Error("Failed to initialize OIDC provider", "issuer", oidcIssuer, "err", err)
		} else {
			var providerClaims struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if expectedIssuer != oidcIssuer {
				if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
					keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
					verifier = oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{SkipClientIDCheck: true})
				}
			}
			if verifier == nil {
				verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
			}
			log.Info("OIDC auth enabled", "issuer", expectedIssuer)
		}
	}

	var secret []byte
	if s := strings.TrimSpace(cfg.JWTSecret); s != "" {
		secret = []byte(s)
		log.Info("HS256 bearer auth enabled")
	}

	role := strings.TrimSpace(cfg.PrivilegedOIDCRole)
	if role == "" {
		role = "admin"
	}

	return &TokenResolver{
		verifier:        verifier,
		hmacSecret:      secret,
		jwtIssuer:       strings.TrimSpace(cfg.JWTIssuer),
		privilegedRole:  role,
		privilegedUsers: cfg.PrivilegedUserSet(),
		testingMode:     cfg.Mode == config.ModeTesting,
		now:             time.Now,
	}
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
	errUnsupported     = errors.New("unsupported bearer token")
)

// accessClaims are the claims of HS256 access tokens (SimpleJWT compatible).
type accessClaims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// Resolve resolves a raw bearer token into a caller Identity. The stored user record is
// not consulted here; see AuthMiddleware.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	token := strings.TrimSpace(bearerToken)
	if token == "" {
		return nil, errUnsupported
	}

	var subject string
	roles := map[string]bool{}
	privileged := false

	if strings.Count(token, ".") == 2 {
		var errs []error
		resolved := false
		if r.hmacSecret != nil {
			claims, err := r.parseHS256(token)
			if err == nil {
				subject = claims.UserID
				if subject == "" {
					subject = claims.Subject
				}
				resolved = true
			} else {
				errs = append(errs, err)
			}
		}
		if !resolved && r.verifier != nil {
			sub, tokenRoles, err := r.verifyOIDC(ctx, token)
			if err == nil {
				subject = sub
				roles = tokenRoles
				privileged = tokenRoles[r.privilegedRole]
				resolved = true
			} else {
				errs = append(errs, err)
			}
		}
		if !resolved {
			if len(errs) == 0 {
				return nil, errUnsupported
			}
			return nil, errors.Join(append([]error{errInvalidJWT}, errs...)...)
		}
	} else if r.testingMode {
		// Testing mode: the token is the user id itself.
		subject = token
	} else {
		return nil, errUnsupported
	}

	if subject == "" {
		return nil, errMissingIdentity
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, errors.Join(errMissingIdentity, err)
	}
	if r.privilegedUsers[strings.ToLower(userID.String())] {
		privileged = true
	}
	return &Identity{UserID: userID, Privileged: privileged, Roles: roles}, nil
}

func (r *TokenResolver) parseHS256(token string) (*accessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(r.jwtIssuer))
	}
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.hmacSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

func (r *TokenResolver) verifyOIDC(ctx context.Context, token string) (string, map[string]bool, error) {
	idToken, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return "", nil, err
	}
	var claims struct {
		Sub    string `json:"sub"`
		UserID string `json:"user_id"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", nil, err
	}
	subject := claims.UserID
	if subject == "" {
		subject = claims.Sub
	}
	var rawClaims map[string]any
	roles := map[string]bool{}
	if err := idToken.Claims(&rawClaims); err == nil {
		roles = extractTokenRoles(rawClaims)
	}
	return subject, roles, nil
}

// IssueToken signs an HS256 access token for userID. It is used by the users command to
// mint bootstrap tokens. The token carries identity only; privilege comes from the stored
// user record, the privileged users list or the OIDC role.
func (r *TokenResolver) IssueToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	if r.hmacSecret == nil {
		return "", errors.New("no JWT secret configured")
	}
	now := r.now()
	claims := accessClaims{
		UserID:    userID.String(),
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    r.jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.hmacSecret)
}

// --- Gin HTTP middleware ---

// GetIdentity returns the caller identity set by AuthMiddleware.
func GetIdentity(c *gin.Context) Identity {
	v, _ := c.Get(ContextKeyIdentity)
	id, _ := v.(Identity)
	return id
}

// IsPrivileged returns true if the request is from a privileged caller.
func IsPrivileged(c *gin.Context) bool {
	return GetIdentity(c).Privileged
}

// AuthMiddleware returns a gin middleware that resolves the caller from the Authorization
// header and confirms the account exists.
func AuthMiddleware(resolver *TokenResolver, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "missing Authorization header"})
			return
		}

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "invalid Authorization header; expected Bearer token"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": err.Error()})
			return
		}

		user, err := users.GetUser(c.Request.Context(), id.UserID)
		if err != nil {
			var notFound *registrystore.NotFoundError
			if errors.As(err, &notFound) {
				log.Info("Auth rejected: unknown user", "user", id.UserID)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "unknown user"})
				return
			}
			log.Error("User lookup failed", "user", id.UserID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		// Bearer claims never grant privilege on their own.
		id.Privileged = id.Privileged || user.IsSuperuser

		c.Set(ContextKeyIdentity, *id)
		c.Set(ContextKeyUserID, id.UserID.String())
		c.Next()
	}
}

// RequirePrivileged rejects callers without the privileged flag.
func RequirePrivileged() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsPrivileged(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
			return
		}
		c.Next()
	}
}

// --- helpers ---

func extractTokenRoles(claims map[string]any) map[string]bool {
	result := map[string]bool{}
	addList := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			result[v] = true
		}
	}

	addList(toStringSlice(claims["roles"]))
	addList(toStringSlice(claims["groups"]))

	if scope, ok := claims["scope"].(string); ok {
		addList(strings.Fields(scope))
	}

	// Keycloak-style realm_access.roles.
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		addList(toStringSlice(realm["roles"]))
	}

	return result
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		var out []string
		if data, err := json.Marshal(v); err == nil {
			_ = json.Unmarshal(data, &out)
		}
		return out
	}
}
