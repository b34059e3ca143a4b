// Audit logging for the discovery pipeline. Audit events are JSON lines
// capturing worker iterations, vendor calls, verdicts, and spend so a run
// can be reconstructed after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Session lifecycle -> one research run
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"

	// Iteration lifecycle
	AuditIterationStart AuditEventType = "iteration_start"
	AuditIterationEnd   AuditEventType = "iteration_end"

	// Worker lifecycle
	AuditWorkerSpawn    AuditEventType = "worker_spawn"
	AuditWorkerKill     AuditEventType = "worker_kill"
	AuditWorkerComplete AuditEventType = "worker_complete"
	AuditWorkerError    AuditEventType = "worker_error"

	// Vendor calls
	AuditSearchCall  AuditEventType = "search_call"
	AuditFetchPage   AuditEventType = "fetch_page"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Outcomes
	AuditEntityNew AuditEventType = "entity_new"
	AuditVerdict   AuditEventType = "verdict"
	AuditCost      AuditEventType = "cost"
)

// AuditEvent is one structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	SessionID  string                 `json:"session,omitempty"`
	WorkerID   string                 `json:"worker,omitempty"`
	Target     string                 `json:"target,omitempty"` // URL, query, model, entity name
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	CostUSD    float64                `json:"cost_usd,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger writes scoped audit events.
type AuditLogger struct {
	sessionID string
	workerID  string
}

// InitAudit opens the audit log file. No-op when logging is disabled.
func InitAudit() error {
	if !IsEnabled() || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	fmt.Fprintf(auditFile, "# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditWithSession creates an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// WithWorker returns a copy additionally scoped to a worker.
func (a *AuditLogger) WithWorker(workerID string) *AuditLogger {
	return &AuditLogger{sessionID: a.sessionID, workerID: workerID}
}

// Log writes an audit event, filling in scope defaults.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}
	if event.WorkerID == "" {
		event.WorkerID = a.workerID
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// SessionStart logs the start of a research run.
func (a *AuditLogger) SessionStart(topic string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		Target:    topic,
		Success:   true,
		Message:   fmt.Sprintf("Research started: %s", topic),
	})
}

// SessionEnd logs the end of a research run.
func (a *AuditLogger) SessionEnd(status string, iterations, entities int, costUSD float64) {
	a.Log(AuditEvent{
		EventType: AuditSessionEnd,
		Success:   status == "completed",
		CostUSD:   costUSD,
		Fields:    map[string]interface{}{"iterations": iterations, "entities": entities, "status": status},
		Message:   fmt.Sprintf("Research %s: %d entities in %d iterations ($%.4f)", status, entities, iterations, costUSD),
	})
}

// IterationEnd logs an iteration summary.
func (a *AuditLogger) IterationEnd(iteration, pages, newEntities int, globalNovelty float64) {
	a.Log(AuditEvent{
		EventType: AuditIterationEnd,
		Success:   true,
		Fields: map[string]interface{}{
			"iteration":    iteration,
			"pages":        pages,
			"new_entities": newEntities,
			"novelty":      globalNovelty,
		},
		Message: fmt.Sprintf("Iteration %d: %d pages, %d new entities, novelty=%.3f", iteration, pages, newEntities, globalNovelty),
	})
}

// WorkerSpawn logs a worker entering the fleet.
func (a *AuditLogger) WorkerSpawn(workerID, strategy string) {
	a.Log(AuditEvent{
		EventType: AuditWorkerSpawn,
		WorkerID:  workerID,
		Target:    strategy,
		Success:   true,
		Message:   fmt.Sprintf("Worker spawned: %s (%s)", workerID, strategy),
	})
}

// WorkerKill logs a worker leaving the fleet.
func (a *AuditLogger) WorkerKill(workerID, reason string) {
	a.Log(AuditEvent{
		EventType: AuditWorkerKill,
		WorkerID:  workerID,
		Success:   true,
		Message:   fmt.Sprintf("Worker killed: %s (%s)", workerID, reason),
	})
}

// WorkerComplete logs one finished worker iteration.
func (a *AuditLogger) WorkerComplete(workerID string, pages, newEntities int, novelty float64, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditWorkerComplete,
		WorkerID:   workerID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"pages": pages, "new_entities": newEntities, "novelty": novelty},
		Message:    fmt.Sprintf("Worker %s: %d pages, %d new (novelty=%.3f)", workerID, pages, newEntities, novelty),
	})
}

// SearchCall logs one search engine invocation.
func (a *AuditLogger) SearchCall(engine string, queries, results int, costUSD float64, err error) {
	e := AuditEvent{
		EventType: AuditSearchCall,
		Target:    engine,
		Success:   err == nil,
		CostUSD:   costUSD,
		Fields:    map[string]interface{}{"queries": queries, "results": results},
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}

// LLMCall logs one model invocation.
func (a *AuditLogger) LLMCall(model string, inputTokens, outputTokens int, durationMs int64, costUSD float64, err error) {
	e := AuditEvent{
		EventType:  AuditLLMResponse,
		Target:     model,
		Success:    err == nil,
		DurationMs: durationMs,
		CostUSD:    costUSD,
		Fields:     map[string]interface{}{"in_tokens": inputTokens, "out_tokens": outputTokens},
	}
	if err != nil {
		e.EventType = AuditLLMError
		e.Error = err.Error()
	}
	a.Log(e)
}

// Verdict logs a verification outcome.
func (a *AuditLogger) Verdict(canonicalName, status string, confidence float64) {
	a.Log(AuditEvent{
		EventType: AuditVerdict,
		Target:    canonicalName,
		Success:   status != "REJECTED",
		Fields:    map[string]interface{}{"status": status, "confidence": confidence},
		Message:   fmt.Sprintf("Verdict %s: %s (%.0f)", canonicalName, status, confidence),
	})
}
