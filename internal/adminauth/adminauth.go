// Package adminauth verifies admin bearer tokens for the back-office API.
//
// Token issuance lives in the separate admin login service; this package only
// needs the shared HMAC secret to verify what that collaborator issued. Issue
// is still provided for tests and local tooling.
package adminauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid admin token")

// Claims carried by an admin bearer token.
type Claims struct {
	AdminAccountID int64  `json:"admin_account_id"`
	EmailAddress   string `json:"email_address"`
	jwt.RegisteredClaims
}

// Manager verifies (and for tests, issues) admin tokens.
type Manager struct {
	secret []byte
}

// NewManager creates a token manager around the shared HMAC secret.
func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

// Issue creates a signed admin token. Used by tests and local tooling.
func (m *Manager) Issue(adminAccountID int64, emailAddress string, ttl time.Duration) (string, error) {
	claims := &Claims{
		AdminAccountID: adminAccountID,
		EmailAddress:   emailAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token string, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AdminAccountID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
