// Package audit writes a fire-and-forget record of completed, timed-out,
// and admin-triggered tasks to MongoDB for later inspection. It never
// blocks or fails task completion: every write runs on its own goroutine
// and errors are logged, not surfaced — delivering the task's own
// response to its API client is the only hard requirement; the audit
// trail is best-effort observability layered on top of that.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	dbmongo "github.com/honux/lolbuff/internal/db/mongodb"
)

// Outcome is how a Task's lifecycle ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeAdmin     Outcome = "admin"
)

// Entry is one audited task lifecycle event.
type Entry struct {
	TaskID      uint32    `bson:"taskId"`
	Destination string    `bson:"destination"`
	Operation   string    `bson:"operation"`
	Outcome     Outcome   `bson:"outcome"`
	WorkerIndex int       `bson:"workerIndex,omitempty"`
	RecordedAt  time.Time `bson:"recordedAt"`
}

// Log writes Entry documents to a configured collection through a
// circuit-breaker-guarded Mongo client.
type Log struct {
	client     *dbmongo.CircuitBreakerClient
	database   string
	collection string
	log        *zap.SugaredLogger
}

// NewLog wraps an already-connected circuit breaker client.
func NewLog(client *dbmongo.CircuitBreakerClient, database, collection string, log *zap.SugaredLogger) *Log {
	return &Log{client: client, database: database, collection: collection, log: log}
}

// Record inserts entry asynchronously. Safe to call with a nil Log
// (audit disabled) or when the configured collection isn't reachable.
func (l *Log) Record(entry Entry) {
	if l == nil || l.client == nil {
		return
	}
	entry.RecordedAt = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.InsertAuditEntry(ctx, l.database, l.collection, entry); err != nil {
			if l.log != nil {
				l.log.Debugw("audit write failed, continuing without it", "taskId", entry.TaskID, "error", err)
			}
		}
	}()
}
