package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/powermarket/internal/apperr"
)

// SessionCookie is the cookie the identity provider sets for same-site dashboards
const SessionCookie = "__session"

type sessionClaims struct {
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves a request to the user id carried in its session token
type Authenticator struct {
	publicKey         *rsa.PublicKey
	hmacSecret        []byte
	authorizedParties map[string]bool
}

// NewAuthenticator verifies RS256 tokens against publicKeyPEM and HS256 tokens
// against hmacSecret. Either may be empty but not both. If authorizedParties
// is non-empty, a token's azp claim must be one of them.
func NewAuthenticator(publicKeyPEM, hmacSecret string, authorizedParties []string) (*Authenticator, error) {
	a := &Authenticator{authorizedParties: make(map[string]bool)}

	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse jwt public key: %w", err)
		}
		a.publicKey = key
	}
	if hmacSecret != "" {
		a.hmacSecret = []byte(hmacSecret)
	}
	if a.publicKey == nil && a.hmacSecret == nil {
		return nil, fmt.Errorf("no token verification key configured")
	}

	for _, p := range authorizedParties {
		if p = strings.TrimSpace(p); p != "" {
			a.authorizedParties[p] = true
		}
	}
	return a, nil
}

func (a *Authenticator) validMethods() []string {
	var methods []string
	if a.publicKey != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if a.hmacSecret != nil {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	return methods
}

func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		return a.publicKey, nil
	case *jwt.SigningMethodHMAC:
		return a.hmacSecret, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}

// GetUserFromToken verifies tokenString and returns its subject
func (a *Authenticator) GetUserFromToken(tokenString string) (string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, a.keyFunc,
		jwt.WithValidMethods(a.validMethods()),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return "", apperr.Unauthorized("invalid or expired token")
	}

	if claims.ExpiresAt == nil {
		return "", apperr.Unauthorized("token has no expiry")
	}
	if len(a.authorizedParties) > 0 && !a.authorizedParties[claims.AuthorizedParty] {
		return "", apperr.Unauthorized("token issued for an unauthorized party")
	}
	if claims.Subject == "" {
		return "", apperr.Unauthorized("token has no subject")
	}
	return claims.Subject, nil
}

// Authenticate reads the bearer token from the Authorization header, falling
// back to the session cookie, and returns the user id.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString != "" {
		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "Bearer ") {
			tokenString = tokenString[7:]
		}
	} else if cookie, err := r.Cookie(SessionCookie); err == nil {
		tokenString = cookie.Value
	}

	if tokenString == "" {
		return "", apperr.Unauthorized("authorization header required")
	}
	return a.GetUserFromToken(tokenString)
}

// SignToken issues an HS256 session token for userID. Used by the seeder and
// in tests; production tokens come from the identity provider.
func SignToken(secret, userID, authorizedParty string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		AuthorizedParty: authorizedParty,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
