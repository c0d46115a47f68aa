package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	goccy "github.com/goccy/go-json"
)

type contextKey int

const sessionIDKey contextKey = 0

// SetSessionID attaches the connection's session ID so audit entries can be correlated.
func SetSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// AuditLogger writes security-relevant events as JSON lines to a rotating file.
type AuditLogger struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// AuditData is the interface for typed audit event data.
type AuditData interface {
	auditData()
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Time      string    `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	Event     string    `json:"event"`
	Data      AuditData `json:"data"`
}

// AuditUserRegister is logged when a new account registers.
type AuditUserRegister struct {
	User   string `json:"user"`
	Remote string `json:"remote"`
}

func (AuditUserRegister) auditData() {}

// AuditUserLogin is logged on successful login.
type AuditUserLogin struct {
	User   string `json:"user"`
	Kind   string `json:"kind"`
	Remote string `json:"remote"`
}

func (AuditUserLogin) auditData() {}

// AuditLoginFailed is logged on failed login attempt.
type AuditLoginFailed struct {
	User   string `json:"user"`
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}

func (AuditLoginFailed) auditData() {}

// AuditSessionEnd is logged when a session ends.
type AuditSessionEnd struct {
	User    string `json:"user"`
	Reason  string `json:"reason,omitempty"`
	Minutes int64  `json:"minutes"`
}

func (AuditSessionEnd) auditData() {}

// AuditSessionPreempted is logged when a new login displaces a live session.
type AuditSessionPreempted struct {
	User   string `json:"user"`
	Remote string `json:"remote"`
}

func (AuditSessionPreempted) auditData() {}

// AuditWizardAction mirrors a wizard log row.
type AuditWizardAction struct {
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (AuditWizardAction) auditData() {}

// AuditServerShutdown is logged when a shutdown countdown starts.
type AuditServerShutdown struct {
	Caller  string `json:"caller"`
	Seconds int    `json:"seconds"`
	Reason  string `json:"reason"`
}

func (AuditServerShutdown) auditData() {}

// NewAuditLogger creates an audit logger rotating the file at path.
func NewAuditLogger(path string) *AuditLogger {
	return newAuditLogger(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 10,
	})
}

func newAuditLogger(out io.WriteCloser) *AuditLogger {
	return &AuditLogger{out: out}
}

// Log writes a structured audit entry.
// Panics if encoding fails (indicates a bug in the typed AuditData structs).
func (a *AuditLogger) Log(ctx context.Context, event string, data AuditData) {
	sessionID, _ := SessionID(ctx)
	b, err := goccy.Marshal(AuditEntry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Event:     event,
		Data:      data,
	})
	if err != nil {
		panic(fmt.Sprintf("audit log encode failed: %v", err))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.out.Write(append(b, '\n')); err != nil {
		log.Printf("audit log write failed: %v", err)
	}
}

// Close closes the audit log file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Close()
}
