package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	authMethodAPIKey = "api_key"
	authMethodJWT    = "jwt"
)

type AuthRequestParams struct {
	APIKey string `json:"api_key" validate:"required"` // The shared operator secret
}

// AuthVerifyParams represents parameters for resuming a session
type AuthVerifyParams struct {
	JWT string `json:"jwt" validate:"required"` // Session token from a previous auth_request
}

// AuthResponse carries the active session grant back to the client
type AuthResponse struct {
	SessionID string `json:"session_id"`
	JwtToken  string `json:"jwt_token"`
	ExpiresAt string `json:"expires_at"`
	Success   bool   `json:"success"`
}

func (r *RPCRouter) HandleAuthRequest(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	// Track auth request metrics
	r.Metrics.AuthRequests.Inc()
	r.Metrics.AuthAttemptsTotal.With(prometheus.Labels{
		"auth_method": authMethodAPIKey,
	}).Inc()

	// Parse the parameters
	var authParams AuthRequestParams
	if err := parseParams(req.Params, &authParams); err != nil {
		r.Metrics.AuthAttemptsFail.With(prometheus.Labels{
			"auth_method": authMethodAPIKey,
		}).Inc()
		c.Fail(err, "failed to parse auth parameters")
		return
	}

	if err := r.AuthManager.ValidateAPIKey(authParams.APIKey); err != nil {
		r.Metrics.AuthAttemptsFail.With(prometheus.Labels{
			"auth_method": authMethodAPIKey,
		}).Inc()
		logger.Warn("rejected API key")
		c.Fail(RPCErrorf("invalid API key"), "")
		return
	}

	claims, jwtToken, err := r.AuthManager.IssueSession()
	if err != nil {
		r.Metrics.AuthAttemptsFail.With(prometheus.Labels{
			"auth_method": authMethodAPIKey,
		}).Inc()
		logger.Error("failed to issue session token", "error", err)
		c.Fail(err, "failed to issue session token")
		return
	}

	r.Metrics.AuthAttemptsSuccess.With(prometheus.Labels{
		"auth_method": authMethodAPIKey,
	}).Inc()

	c.UserID = claims.ID
	c.Storage.Set(ConnectionStorageSessionKey, claims)
	c.Succeed(req.Method, AuthResponse{
		SessionID: claims.ID,
		JwtToken:  jwtToken,
		ExpiresAt: claims.ExpiresAt.Time.Format(time.RFC3339),
		Success:   true,
	})
	logger.Info("authentication successful",
		"authMethod", authMethodAPIKey,
		"sessionID", claims.ID)
}

func (r *RPCRouter) HandleAuthVerify(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	var authParams AuthVerifyParams
	if err := parseParams(req.Params, &authParams); err != nil {
		c.Fail(err, "failed to parse auth parameters")
		return
	}

	r.Metrics.AuthAttemptsTotal.With(prometheus.Labels{
		"auth_method": authMethodJWT,
	}).Inc()

	claims, err := r.AuthManager.VerifyJWT(authParams.JWT)
	if err != nil {
		r.Metrics.AuthAttemptsFail.With(prometheus.Labels{
			"auth_method": authMethodJWT,
		}).Inc()
		logger.Warn("failed to verify JWT", "error", err)
		c.Fail(RPCErrorf("invalid JWT token"), "")
		return
	}

	r.Metrics.AuthAttemptsSuccess.With(prometheus.Labels{
		"auth_method": authMethodJWT,
	}).Inc()

	c.UserID = claims.ID
	c.Storage.Set(ConnectionStorageSessionKey, claims)
	c.Succeed(req.Method, AuthResponse{
		SessionID: claims.ID,
		JwtToken:  authParams.JWT,
		ExpiresAt: claims.ExpiresAt.Time.Format(time.RFC3339),
		Success:   true,
	})
	logger.Info("authentication successful",
		"authMethod", authMethodJWT,
		"sessionID", claims.ID)
}

func (r *RPCRouter) AuthMiddleware(c *RPCContext) {
	ctx := c.Context
	logger := LoggerFromContext(ctx)
	req := c.Message.Req

	// Get session claims from storage
	session, ok := c.Storage.Get(ConnectionStorageSessionKey)
	if !ok || session == nil || c.UserID == "" {
		c.Fail(nil, "authentication required")
		return
	}

	// Cast to JWTClaims type
	claims, ok := session.(*JWTClaims)
	if !ok {
		logger.Error("invalid session type in storage", "type", fmt.Sprintf("%T", session))
		c.Fail(nil, "invalid session type in storage")
		return
	}

	// Check if session is still valid
	if !r.AuthManager.ValidateSession(claims.ID) {
		logger.Debug("session expired", "sessionID", claims.ID)
		c.Fail(nil, "session expired, please re-authenticate")
		return
	}

	// Update session activity timestamp
	r.AuthManager.UpdateSession(claims.ID)

	if err := ValidateTimestamp(req.Timestamp, r.Config.msgExpiryTime); err != nil {
		logger.Debug("invalid message timestamp", "error", err)
		c.Fail(nil, "invalid message timestamp")
		return
	}

	c.Next()
}

func ValidateTimestamp(ts uint64, expirySeconds int) error {
	if ts < 1_000_000_000_000 || ts > 9_999_999_999_999 {
		return fmt.Errorf("invalid timestamp %d: must be 13-digit Unix ms", ts)
	}
	t := time.UnixMilli(int64(ts)).UTC()
	if time.Since(t) > time.Duration(expirySeconds)*time.Second {
		return fmt.Errorf("timestamp expired: %s older than %d s", t.Format(time.RFC3339Nano), expirySeconds)
	}
	return nil
}
