package domain

import "time"

const (
	AuditSessionStarted = "session_started"
	AuditSessionEnded   = "session_ended"
	AuditSessionExpired = "session_expired"
)

// AuditEvent describes one session lifecycle transition for downstream
// consumers (billing reconciliation, dashboards).
type AuditEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId"`
	Component string         `json:"component"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
