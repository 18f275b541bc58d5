package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPGAuditLog_Record(t *testing.T) {
	db := &fakeDB{}
	log := NewPGAuditLog(db)
	row := 4

	err := log.Record(context.Background(), AuditParams{
		Action:     ActionCellEdit,
		SessionID:  "6f1c1f4e-8a7b-4a8e-9d55-0b1f8e2c3d4a",
		ColumnName: "qty",
		RowIndex:   &row,
		OldValue:   "3",
		NewValue:   "4",
		Revision:   2,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(db.calls) != 1 {
		t.Fatalf("Exec called %d times, want 1", len(db.calls))
	}

	call := db.calls[0]
	if !strings.Contains(call.sql, "INSERT INTO sheet_audit_log") {
		t.Errorf("unexpected SQL: %s", call.sql)
	}
	if len(call.args) != 18 {
		t.Fatalf("got %d args, want 18", len(call.args))
	}
	if call.args[1] != "cell_edit" || call.args[2] != "medium" {
		t.Errorf("action/severity = %v/%v", call.args[1], call.args[2])
	}
	if sid := call.args[3].(pgtype.UUID); !sid.Valid {
		t.Error("session id stored as NULL")
	}
	if iid := call.args[4].(pgtype.UUID); iid.Valid {
		t.Error("empty instruction id should be NULL")
	}
	if ri := call.args[7].(pgtype.Int4); !ri.Valid || ri.Int32 != 4 {
		t.Errorf("row index = %+v, want 4", ri)
	}
	if fn := call.args[5].(pgtype.Text); fn.Valid {
		t.Error("empty file name should be NULL")
	}
}

func TestPGAuditLog_RecordError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	err := NewPGAuditLog(db).Record(context.Background(), AuditParams{Action: ActionExport})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error = %v, want wrapped connection reset", err)
	}
}

func TestPGAuditLog_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := NewPGAuditLog(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS sheet_audit_log") {
		t.Errorf("unexpected calls: %+v", db.calls)
	}
}

func TestDetermineSeverity(t *testing.T) {
	tests := []struct {
		action AuditAction
		want   AuditSeverity
	}{
		{ActionInstructionCommit, SeverityHigh},
		{ActionSessionDelete, SeverityHigh},
		{ActionCellEdit, SeverityMedium},
		{ActionInstructionFailed, SeverityMedium},
		{ActionSessionCreate, SeverityLow},
		{ActionExport, SeverityLow},
	}
	for _, tt := range tests {
		if got := determineSeverity(tt.action); got != tt.want {
			t.Errorf("determineSeverity(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

// recordingLog captures entries; when gate is set each Record waits on it.
type recordingLog struct {
	mu      sync.Mutex
	entries []AuditParams
	started chan struct{}
	gate    chan struct{}
}

func (r *recordingLog) Record(_ context.Context, p AuditParams) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.entries = append(r.entries, p)
	r.mu.Unlock()
	return nil
}

func TestAuditQueue_DeliversWithActor(t *testing.T) {
	log := &recordingLog{}
	q := newAuditQueue(log, 8)

	ctx := ContextWithActor(context.Background(), Actor{IPAddress: "10.0.0.7", UserAgent: "curl/8"})
	q.submit(ctx, AuditParams{Action: ActionSessionCreate, SessionID: "a"})
	q.submit(context.Background(), AuditParams{Action: ActionExport, SessionID: "a"})
	q.close()
	q.close()

	if len(log.entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(log.entries))
	}
	if log.entries[0].IPAddress != "10.0.0.7" || log.entries[0].UserAgent != "curl/8" {
		t.Errorf("actor not attached: %+v", log.entries[0])
	}
	if log.entries[1].Action != ActionExport || log.entries[1].IPAddress != "" {
		t.Errorf("second entry = %+v", log.entries[1])
	}
}

func TestAuditQueue_SubmitAfterClose(t *testing.T) {
	log := &recordingLog{}
	q := newAuditQueue(log, 4)
	q.submit(context.Background(), AuditParams{SessionID: "before"})
	q.close()

	q.submit(context.Background(), AuditParams{SessionID: "after"})

	if len(log.entries) != 1 || log.entries[0].SessionID != "before" {
		t.Errorf("entries = %+v, want only the one submitted before close", log.entries)
	}
}

func TestAuditQueue_DropsWhenFull(t *testing.T) {
	log := &recordingLog{started: make(chan struct{}, 4), gate: make(chan struct{})}
	q := newAuditQueue(log, 1)
	ctx := context.Background()

	q.submit(ctx, AuditParams{SessionID: "1"})
	<-log.started // worker holds the first entry
	q.submit(ctx, AuditParams{SessionID: "2"}) // fills the buffer
	q.submit(ctx, AuditParams{SessionID: "3"}) // dropped

	close(log.gate)
	q.close()

	if len(log.entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(log.entries))
	}
	if log.entries[0].SessionID != "1" || log.entries[1].SessionID != "2" {
		t.Errorf("entries = %+v", log.entries)
	}
}
