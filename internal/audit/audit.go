// Package audit records safety-relevant decisions: guardrail tripwires,
// masked-PII turns, and registry accept/reject outcomes. Entries go to
// logs/audit.jsonl and, when configured, the guardrail_events table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/atohub/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Decision  string `json:"decision"` // "allow", "block", "mask", "reject"
	Kind      string `json:"kind"`     // guardrail category or registry operation
	Reason    string `json:"reason"`
	Workflow  string `json:"workflow,omitempty"`
	Subject   string `json:"subject,omitempty"` // guardrail name or slash route
}

var (
	mu         sync.Mutex
	file       *os.File
	db         *sql.DB
	blockCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for guardrail_events table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// BlockCount returns the total number of block decisions since startup.
func BlockCount() int64 {
	return blockCount.Load()
}

func Record(decision, kind, reason, workflow, subject string) {
	if decision == "block" {
		blockCount.Add(1)
	}

	// Never persist raw secrets or flagged text.
	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Decision:  decision,
			Kind:      kind,
			Reason:    reason,
			Workflow:  workflow,
			Subject:   subject,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO guardrail_events (decision, kind, reason, workflow, subject)
			VALUES (?, ?, ?, ?, ?);
		`, decision, kind, reason, workflow, subject)
	}
}
