package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// jwtIssuer identifies tokens minted by this node
	jwtIssuer = "ledgerd"
	// minAPISecretLength rejects trivially guessable operator secrets
	minAPISecretLength = 16
	// operatorRole is the only access role the node grants
	operatorRole = "operator"
)

// JWTClaims carries the session grant embedded in operator tokens.
type JWTClaims struct {
	Role string `json:"role"` // Access role granted to this session
	jwt.RegisteredClaims
}

// AuthManager issues and verifies operator sessions.
// A session starts with the shared API secret and is carried forward as a
// signed JWT, so reconnecting clients don't need to present the secret again.
type AuthManager struct {
	apiSecret      []byte
	authSessions   map[string]time.Time // Session ID -> last active time
	authSessionsMu sync.RWMutex
	sessionTTL     time.Duration
	cleanupTicker  *time.Ticker
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(apiSecret string) (*AuthManager, error) {
	if len(apiSecret) < minAPISecretLength {
		return nil, fmt.Errorf("API secret must be at least %d characters long", minAPISecretLength)
	}

	am := &AuthManager{
		apiSecret:     []byte(apiSecret),
		authSessions:  make(map[string]time.Time),
		sessionTTL:    24 * time.Hour,
		cleanupTicker: time.NewTicker(10 * time.Minute),
	}

	// Start background cleanup
	go am.cleanupExpiredSessions()
	return am, nil
}

// ValidateAPIKey checks a presented key against the configured secret.
// The comparison is constant-time so the check leaks nothing about length
// or matching prefixes.
func (am *AuthManager) ValidateAPIKey(candidate string) error {
	if subtle.ConstantTimeCompare([]byte(candidate), am.apiSecret) != 1 {
		return errors.New("invalid API key")
	}
	return nil
}

// IssueSession mints a new operator session and returns its claims together
// with the signed JWT.
func (am *AuthManager) IssueSession() (*JWTClaims, string, error) {
	claims := JWTClaims{
		Role: operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operatorRole,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(am.sessionTTL)),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    jwtIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(am.apiSecret)
	if err != nil {
		return nil, "", err
	}

	// Register authenticated session
	am.registerAuthSession(claims.ID)

	return &claims, tokenString, nil
}

// VerifyJWT validates a previously issued session token and re-registers
// the session it names.
func (am *AuthManager) VerifyJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return am.apiSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid JWT token claims")
	}

	if err := am.validateClaims(claims); err != nil {
		return nil, err
	}

	// Register authenticated session
	am.registerAuthSession(claims.ID)

	return claims, nil
}

func (am *AuthManager) validateClaims(claims *JWTClaims) error {
	issuer, err := claims.GetIssuer()
	if err != nil {
		return errors.New("failed to get issuer from JWT token claims")
	}
	expiration, err := claims.GetExpirationTime()
	if err != nil {
		return errors.New("failed to get expiration from JWT token claims")
	}

	if issuer != jwtIssuer {
		return errors.New("invalid JWT token claims")
	}
	if expiration.Before(time.Now()) {
		return errors.New("expired JWT token")
	}
	if claims.ID == "" {
		return errors.New("missing session ID in JWT token claims")
	}

	return nil
}

// registerAuthSession registers an authenticated session
func (am *AuthManager) registerAuthSession(sessionID string) {
	am.authSessionsMu.Lock()
	defer am.authSessionsMu.Unlock()
	am.authSessions[sessionID] = time.Now()
}

// ValidateSession checks if a session is valid
func (am *AuthManager) ValidateSession(sessionID string) bool {
	am.authSessionsMu.RLock()
	defer am.authSessionsMu.RUnlock()

	lastActive, exists := am.authSessions[sessionID]
	if !exists {
		return false
	}

	// Check if session has expired
	if time.Now().After(lastActive.Add(am.sessionTTL)) {
		return false
	}

	return true
}

// UpdateSession updates the last active time for a session
func (am *AuthManager) UpdateSession(sessionID string) bool {
	am.authSessionsMu.Lock()
	defer am.authSessionsMu.Unlock()

	_, exists := am.authSessions[sessionID]
	if !exists {
		return false
	}

	am.authSessions[sessionID] = time.Now()
	return true
}

// cleanupExpiredSessions periodically removes expired sessions
func (am *AuthManager) cleanupExpiredSessions() {
	for range am.cleanupTicker.C {
		now := time.Now()

		am.authSessionsMu.Lock()
		for sessionID, lastActive := range am.authSessions {
			if now.After(lastActive.Add(am.sessionTTL)) {
				delete(am.authSessions, sessionID)
			}
		}
		am.authSessionsMu.Unlock()
	}
}
