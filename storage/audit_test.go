package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// auditEntry is a test-friendly version of AuditEntry that uses json.RawMessage for Data.
type auditEntry struct {
	Time      string          `json:"time"`
	SessionID string          `json:"session_id,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// readAuditLog reads all audit log entries from the audit log file in dir.
func readAuditLog(t *testing.T, dir string) []auditEntry {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "audit.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("Failed to open audit log: %v", err)
	}
	defer f.Close()

	var entries []auditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var entry auditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to parse audit log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	return entries
}

// filterAuditByEvent returns only entries with the given event type.
func filterAuditByEvent(entries []auditEntry, event string) []auditEntry {
	var result []auditEntry
	for _, e := range entries {
		if e.Event == event {
			result = append(result, e)
		}
	}
	return result
}

func TestAuditSessionID(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditLogger(filepath.Join(dir, "audit.log"))
	ctx := SetSessionID(context.Background(), "session-1")
	a.Log(ctx, "USER_LOGIN", AuditUserLogin{User: "alice", Kind: "Web", Remote: "127.0.0.1:1"})
	a.Log(context.Background(), "LOGIN_FAILED", AuditLoginFailed{User: "bob", Reason: "Incorrect password."})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	entries := readAuditLog(t, dir)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].SessionID != "session-1" {
		t.Errorf("SessionID = %q, want session-1", entries[0].SessionID)
	}
	if entries[1].SessionID != "" {
		t.Errorf("SessionID = %q, want empty", entries[1].SessionID)
	}
	var data AuditUserLogin
	if err := json.Unmarshal(entries[0].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.User != "alice" || data.Kind != "Web" {
		t.Errorf("got %+v", data)
	}
}

func TestAuditWizardActionMirrored(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendWizardAction(context.Background(), WizardAction{Actor: "rage", Action: "froze", Target: "bob"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	entries := filterAuditByEvent(readAuditLog(t, dir), "WIZARD_ACTION")
	if len(entries) != 1 {
		t.Fatalf("Expected 1 WIZARD_ACTION entry, got %d", len(entries))
	}
	var data AuditWizardAction
	if err := json.Unmarshal(entries[0].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Actor != "rage" || data.Action != "froze" || data.Target != "bob" {
		t.Errorf("got %+v", data)
	}
}
