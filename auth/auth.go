package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"docsync-server/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// DefaultCookieName is the cookie that carries the access token when the
// handshake has no explicit token.
const DefaultCookieName = "access_token"

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// Handshake is the credential-bearing part of a connection handshake.
type Handshake struct {
	// Token is the explicit auth field; it wins over the cookie.
	Token string
	// CookieHeader is the raw Cookie request header.
	CookieHeader string
}

type Authenticator struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

func NewAuthenticator(secret []byte, cookieName string) *Authenticator {
	if len(secret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authenticator{
		secret:     secret,
		cookieName: cookieName,
		now:        time.Now,
	}
}

func (a *Authenticator) CookieName() string {
	return a.cookieName
}

// Authenticate extracts the token from the handshake and verifies it.
// Every failure is reported as core.ErrAuthentication.
func (a *Authenticator) Authenticate(h Handshake) (*core.Identity, error) {
	token := strings.TrimSpace(h.Token)
	if token == "" {
		token = TokenFromCookieHeader(h.CookieHeader, a.cookieName)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", core.ErrAuthentication)
	}
	return a.VerifyToken(token)
}

func (a *Authenticator) VerifyToken(tokenString string) (*core.Identity, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: secret not configured", core.ErrAuthentication)
	}

	claims, err := a.parseJWT(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAuthentication, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", core.ErrAuthentication)
	}

	return &core.Identity{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		IsAdmin:   claims.IsAdmin,
	}, nil
}

func (a *Authenticator) parseJWT(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// IssueToken signs an access token for identity. Sign-in lives outside this
// service; this exists for tooling and tests.
func (a *Authenticator) IssueToken(identity core.Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("secret not configured")
	}
	now := a.now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.SubjectID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:   identity.Email,
		Name:    identity.Name,
		IsAdmin: identity.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// TokenFromCookieHeader returns the URL-decoded value of cookie name from a
// raw Cookie header, or "" when absent or undecodable.
func TokenFromCookieHeader(header, name string) string {
	if header == "" || name == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || strings.TrimSpace(key) != name {
			continue
		}
		decoded, err := url.QueryUnescape(strings.TrimSpace(value))
		if err != nil {
			return ""
		}
		return decoded
	}
	return ""
}
