package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// The audit trail is a JSONL file of significant runtime actions,
// separate from the per-category logs. The /audit command reads it back.

// AuditEventType names an auditable action.
type AuditEventType string

const (
	AuditEvolutionStart    AuditEventType = "evolution_start"
	AuditEvolutionApply    AuditEventType = "evolution_apply"
	AuditEvolutionCommit   AuditEventType = "evolution_commit"
	AuditEvolutionRollback AuditEventType = "evolution_rollback"
	AuditEvolutionReject   AuditEventType = "evolution_reject"
	AuditReflexFire        AuditEventType = "reflex_fire"
	AuditLLMCall           AuditEventType = "llm_call"
	AuditGitRecovery       AuditEventType = "git_recovery"
	AuditEngineRestart     AuditEventType = "engine_restart"
	AuditModeShift         AuditEventType = "mode_shift"
	AuditCommand           AuditEventType = "command"
)

// AuditEvent is one audit-trail line.
type AuditEvent struct {
	Timestamp time.Time              `json:"ts"`
	Type      AuditEventType         `json:"type"`
	Target    string                 `json:"target,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
)

func auditPath() string {
	mu.RLock()
	defer mu.RUnlock()
	if !initialized {
		return ""
	}
	return filepath.Join(logDir, "audit.jsonl")
}

// Audit appends one event to the audit trail. Failures are swallowed;
// auditing never takes a stage down.
func Audit(typ AuditEventType, target, outcome string, detail map[string]interface{}) {
	path := auditPath()
	if path == "" {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		auditFile = f
	}

	line, err := json.Marshal(AuditEvent{
		Timestamp: time.Now(),
		Type:      typ,
		Target:    target,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		return
	}
	fmt.Fprintf(auditFile, "%s\n", line)
}

// RecentAudit returns up to n most recent audit events, newest last.
func RecentAudit(n int) ([]AuditEvent, error) {
	path := auditPath()
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// CloseAudit closes the audit file handle. Shutdown calls it; the next
// Audit reopens lazily.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}
