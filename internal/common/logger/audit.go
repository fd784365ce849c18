// Package logger provides structured logging utilities for riskforge services
package logger

import (
	"time"

	"go.uber.org/zap"
)

// AuditEvent represents an audit log event. Events carry account and device
// identifiers only; email addresses are never written to the audit stream.
type AuditEvent struct {
	EventType  string                 `json:"event_type"`
	Actor      string                 `json:"actor"`       // Account or operator that triggered the event
	Action     string                 `json:"action"`      // What action was performed
	Resource   string                 `json:"resource"`    // What resource was affected
	ResourceID string                 `json:"resource_id"` // ID of the affected resource
	Status     string                 `json:"status"`      // success, failure, denied
	Reason     string                 `json:"reason,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}

	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}

	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	// Log at appropriate level based on status
	switch event.Status {
	case "failure", "error":
		a.logger.Error("Audit event", fields...)
	case "denied", "forbidden":
		a.logger.Warn("Audit event", fields...)
	default:
		a.logger.Info("Audit event", fields...)
	}
}

// LogHardDeny logs a login that was denied outright by the risk engine.
func (a *AuditLogger) LogHardDeny(accountID, ipAddress string, fusedScore float64, reasons []string) {
	a.Log(&AuditEvent{
		EventType:  "risk.login.hard_deny",
		Actor:      accountID,
		Action:     "score_login",
		Resource:   "login",
		ResourceID: accountID,
		Status:     "denied",
		Reason:     "risk score above hard deny threshold",
		IPAddress:  ipAddress,
		Metadata: map[string]interface{}{
			"fused_score": fusedScore,
			"reasons":     reasons,
		},
		Timestamp: time.Now(),
	})
}

// LogAccountLocked logs an account entering lockout after repeated failures.
func (a *AuditLogger) LogAccountLocked(accountID, ipAddress string, fails int) {
	a.Log(&AuditEvent{
		EventType:  "risk.account.locked",
		Actor:      accountID,
		Action:     "lockout",
		Resource:   "account",
		ResourceID: accountID,
		Status:     "denied",
		Reason:     "consecutive failed logins",
		IPAddress:  ipAddress,
		Metadata:   map[string]interface{}{"consecutive_fails": fails},
		Timestamp:  time.Now(),
	})
}

// LogDeviceTrusted logs an explicit device trust grant or revocation.
func (a *AuditLogger) LogDeviceTrusted(actor, deviceHash string, trusted bool) {
	action := "trust"
	if !trusted {
		action = "untrust"
	}
	a.Log(&AuditEvent{
		EventType:  "device.trust.changed",
		Actor:      actor,
		Action:     action,
		Resource:   "device",
		ResourceID: deviceHash,
		Status:     "success",
		Timestamp:  time.Now(),
	})
}

// LogDeviceBound logs issuance of a bind token for a device.
func (a *AuditLogger) LogDeviceBound(accountID, deviceHash string) {
	a.Log(&AuditEvent{
		EventType:  "device.bound",
		Actor:      accountID,
		Action:     "bind",
		Resource:   "device",
		ResourceID: deviceHash,
		Status:     "success",
		Timestamp:  time.Now(),
	})
}

// LogConfigurationChanged logs a runtime risk configuration change.
func (a *AuditLogger) LogConfigurationChanged(actor, configKey string, oldValue, newValue interface{}) {
	a.Log(&AuditEvent{
		EventType:  "config.changed",
		Actor:      actor,
		Action:     "update",
		Resource:   "configuration",
		ResourceID: configKey,
		Status:     "success",
		Metadata: map[string]interface{}{
			"old_value": oldValue,
			"new_value": newValue,
		},
		Timestamp: time.Now(),
	})
}

// LogIntelReload logs a threat intel feed reload.
func (a *AuditLogger) LogIntelReload(actor string, counts map[string]int) {
	meta := make(map[string]interface{}, len(counts))
	for k, v := range counts {
		meta[k] = v
	}
	a.Log(&AuditEvent{
		EventType:  "intel.feeds.reloaded",
		Actor:      actor,
		Action:     "reload",
		Resource:   "intel",
		ResourceID: "feeds",
		Status:     "success",
		Metadata:   meta,
		Timestamp:  time.Now(),
	})
}

// LogSecurityEvent logs a security-related event
func (a *AuditLogger) LogSecurityEvent(eventType, actor, action, details string, metadata map[string]interface{}) {
	a.Log(&AuditEvent{
		EventType:  eventType,
		Actor:      actor,
		Action:     action,
		Resource:   "security",
		ResourceID: eventType,
		Status:     "alert",
		Reason:     details,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	})
}
