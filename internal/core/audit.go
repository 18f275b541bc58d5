package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of a database handle the audit log needs.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionSessionCreate     AuditAction = "session_create"
	ActionSessionDelete     AuditAction = "session_delete"
	ActionSessionExpire     AuditAction = "session_expire"
	ActionCellEdit          AuditAction = "cell_edit"
	ActionInstructionCommit AuditAction = "instruction_commit"
	ActionInstructionFailed AuditAction = "instruction_failed"
	ActionExport            AuditAction = "export"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionInstructionCommit, ActionSessionDelete:
		return SeverityHigh
	case ActionCellEdit, ActionInstructionFailed:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AuditParams describes one audited event. Zero fields are stored as NULL.
type AuditParams struct {
	Action        AuditAction
	SessionID     string
	InstructionID string
	FileName      string
	ColumnName    string
	RowIndex      *int
	OldValue      string
	NewValue      string
	Instruction   string
	Code          string
	ErrorCode     string
	RowsAffected  int
	Revision      int64
	IPAddress     string
	UserAgent     string
}

// AuditLog records audit events.
type AuditLog interface {
	Record(ctx context.Context, p AuditParams) error
}

// NopAuditLog discards every event. Used when no database is configured.
type NopAuditLog struct{}

// Record implements AuditLog.
func (NopAuditLog) Record(context.Context, AuditParams) error { return nil }

// PGAuditLog writes audit events to PostgreSQL.
type PGAuditLog struct {
	db DBTX
}

// NewPGAuditLog returns an audit log backed by db.
func NewPGAuditLog(db DBTX) *PGAuditLog {
	return &PGAuditLog{db: db}
}

const createAuditTable = `
CREATE TABLE IF NOT EXISTS sheet_audit_log (
    id              UUID PRIMARY KEY,
    action          TEXT NOT NULL,
    severity        TEXT NOT NULL,
    session_id      UUID,
    instruction_id  UUID,
    file_name       TEXT,
    column_name     TEXT,
    row_index       INTEGER,
    old_value       TEXT,
    new_value       TEXT,
    instruction     TEXT,
    code            TEXT,
    error_code      TEXT,
    rows_affected   INTEGER,
    revision        BIGINT,
    ip_address      TEXT,
    user_agent      TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sheet_audit_log_session_idx ON sheet_audit_log (session_id, created_at);
`

// EnsureSchema creates the audit table if it does not exist.
func (a *PGAuditLog) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

const insertAuditEntry = `
INSERT INTO sheet_audit_log (
    id, action, severity, session_id, instruction_id, file_name, column_name,
    row_index, old_value, new_value, instruction, code, error_code,
    rows_affected, revision, ip_address, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

// Record implements AuditLog.
func (a *PGAuditLog) Record(ctx context.Context, p AuditParams) error {
	rowIndex := pgtype.Int4{}
	if p.RowIndex != nil {
		rowIndex = pgtype.Int4{Int32: int32(*p.RowIndex), Valid: true}
	}

	_, err := a.db.Exec(ctx, insertAuditEntry,
		pgtype.UUID{Bytes: uuid.New(), Valid: true},
		string(p.Action),
		string(determineSeverity(p.Action)),
		toPgUUID(p.SessionID),
		toPgUUID(p.InstructionID),
		toPgText(p.FileName),
		toPgText(p.ColumnName),
		rowIndex,
		toPgText(p.OldValue),
		toPgText(p.NewValue),
		toPgText(p.Instruction),
		toPgText(p.Code),
		toPgText(p.ErrorCode),
		toPgInt4(p.RowsAffected),
		pgtype.Int8{Int64: p.Revision, Valid: p.Revision > 0},
		toPgText(p.IPAddress),
		toPgText(p.UserAgent),
		pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgInt4(i int) pgtype.Int4 {
	if i == 0 {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

func toPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// auditQueue hands events to the AuditLog on a background goroutine so
// edits and commits never wait on the database. Events are dropped, with a
// warning, when the queue is full or already closed.
type auditQueue struct {
	log     AuditLog
	timeout time.Duration
	ch      chan AuditParams
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex // guards closed and sends on ch
	closed bool
}

func newAuditQueue(log AuditLog, size int) *auditQueue {
	if size <= 0 {
		size = 256
	}
	q := &auditQueue{
		log:     log,
		timeout: 5 * time.Second,
		ch:      make(chan AuditParams, size),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *auditQueue) run() {
	defer q.wg.Done()
	for p := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.log.Record(ctx, p); err != nil {
			slog.Error("audit write failed",
				"action", p.Action,
				"session_id", p.SessionID,
				"error", err,
			)
		}
		cancel()
	}
}

func (q *auditQueue) submit(ctx context.Context, p AuditParams) {
	if actor, ok := ActorFromContext(ctx); ok {
		p.IPAddress = actor.IPAddress
		p.UserAgent = actor.UserAgent
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		slog.Warn("audit queue closed, dropping entry",
			"action", p.Action,
			"session_id", p.SessionID,
		)
		return
	}
	select {
	case q.ch <- p:
	default:
		slog.Warn("audit queue full, dropping entry",
			"action", p.Action,
			"session_id", p.SessionID,
		)
	}
}

// close drains pending events and stops the worker.
func (q *auditQueue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
		q.wg.Wait()
	})
}
