package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

// principalKey holds the caller's domain.Principal in the gin context.
const principalKey = "agora.principal"

// Claims are the bearer token claims the API understands.
type Claims struct {
	Capabilities []string `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens issued by the session service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier. An empty issuer accepts any issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses token and returns the principal it names.
func (v *TokenVerifier) Verify(token string) (domain.Principal, error) {
	if len(v.secret) == 0 {
		return domain.Anonymous, errors.New("token verification is not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Anonymous, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return domain.Anonymous, errors.New("invalid token: missing subject")
	}
	return domain.NewPrincipal(claims.Subject, claims.Capabilities...), nil
}

// IssueToken signs a token for subject. It backs the CLI and tests; end
// users get their tokens from the session service.
func IssueToken(secret, issuer, subject string, capabilities []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticate resolves the bearer token into a principal. Requests without
// a token continue as anonymous; services decide what anonymous may do.
func Authenticate(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Set(principalKey, domain.Anonymous)
			c.Next()
			return
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(ErrInvalidToken.Status, ErrInvalidToken)
			return
		}

		c.Set(principalKey, principal)
		c.Request = c.Request.WithContext(observability.WithSubjectID(c.Request.Context(), principal.SubjectID))
		c.Next()
	}
}

// PrincipalFrom returns the caller resolved by Authenticate.
func PrincipalFrom(c *gin.Context) domain.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(domain.Principal); ok {
			return p
		}
	}
	return domain.Anonymous
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
