package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginSuccess logs a successful login {subject, username, clientId}.
func (a *Auditor) LogLoginSuccess(subject, username, clientID, source string) {
	a.LogEvent(Event{
		Type:     EventLoginSuccess,
		UserID:   subject,
		ClientID: clientID,
		Details: map[string]any{
			"username_hash": hashForLogging(username),
			"source":        source,
		},
	})
}

// LogLoginFailure logs a rejected login {username, reason, clientId}.
func (a *Auditor) LogLoginFailure(username, reason, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventLoginFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"username_hash": hashForLogging(username),
			"reason":        reason,
		},
	})
}

// LogLogoutSuccess logs a terminated session {subject, displayName}.
func (a *Auditor) LogLogoutSuccess(subject, displayName string) {
	a.LogEvent(Event{
		Type:   EventLogoutSuccess,
		UserID: subject,
		Details: map[string]any{
			"display_name_hash": hashForLogging(displayName),
		},
	})
}

// LogAccountLocked logs a username lockout
func (a *Auditor) LogAccountLocked(username, ipAddress string, until time.Time) {
	a.LogEvent(Event{
		Type:      EventAccountLocked,
		IPAddress: ipAddress,
		Details: map[string]any{
			"username_hash": hashForLogging(username),
			"locked_until":  until,
		},
	})
}

// LogAuthorizationDenied logs a user declining a pending authorization
func (a *Auditor) LogAuthorizationDenied(clientID, requestID string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationDenied,
		ClientID: clientID,
		Details: map[string]any{
			"request_id": requestID,
		},
	})
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
