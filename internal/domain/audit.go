package domain

import (
	"context"
	"time"
)

// AuditAction names an account or conversation event worth keeping.
type AuditAction string

const (
	AuditRegister       AuditAction = "register"
	AuditLogin          AuditAction = "login"
	AuditLoginDenied    AuditAction = "login_denied"
	AuditResetRequested AuditAction = "reset_requested"
	AuditPasswordReset  AuditAction = "password_reset"
	AuditChatDelete     AuditAction = "chat_delete"
)

// AuditOutcome is how an audited attempt ended.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent is one line of the audit trail. Detail never carries
// passwords, tokens or reset codes.
type AuditEvent struct {
	Time    time.Time         `json:"time"`
	Action  AuditAction       `json:"action"`
	Outcome AuditOutcome      `json:"outcome,omitempty"`
	Actor   string            `json:"actor,omitempty"`  // user ID
	Target  string            `json:"target,omitempty"` // e.g. a session ID
	Detail  map[string]string `json:"detail,omitempty"`
}

// AuditSink receives audit events.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}
