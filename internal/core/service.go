package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/sheetd/internal/sheet"
	"github.com/JonMunkholm/sheetd/internal/translator"
)

// Options tunes a Service. Zero fields take the defaults from DefaultOptions.
type Options struct {
	LockWait     time.Duration // Bounded wait for a busy session
	HistoryLimit int           // Commits remembered per session

	MaxUploadBytes int64 // Largest accepted upload
	MaxRows        int   // Row cap for uploads and instruction output

	PreviewDefaultLimit int
	PreviewMaxLimit     int

	InstructionTimeout time.Duration // Bounds translation plus execution
	SandboxTimeout     time.Duration // Bounds execution alone
	ResultRetention    time.Duration // How long finished instructions stay queryable
	ProgressInterval   time.Duration // Elapsed-time notices; 0 disables
	SchemaSampleRows   int

	MaxConcurrentInstructions int
	LimiterWait               time.Duration

	AuditQueueSize int
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		LockWait:                  DefaultLockWait,
		HistoryLimit:              DefaultHistoryLimit,
		MaxUploadBytes:            100 << 20,
		MaxRows:                   sheet.DefaultMaxRows,
		PreviewDefaultLimit:       2000,
		PreviewMaxLimit:           20000,
		InstructionTimeout:        180 * time.Second,
		SandboxTimeout:            30 * time.Second,
		ResultRetention:           5 * time.Minute,
		ProgressInterval:          time.Second,
		SchemaSampleRows:          5,
		MaxConcurrentInstructions: DefaultMaxConcurrentInstructions,
		LimiterWait:               DefaultMaxWaitTime,
		AuditQueueSize:            256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LockWait <= 0 {
		o.LockWait = d.LockWait
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = d.MaxUploadBytes
	}
	if o.MaxRows <= 0 {
		o.MaxRows = d.MaxRows
	}
	if o.PreviewDefaultLimit <= 0 {
		o.PreviewDefaultLimit = d.PreviewDefaultLimit
	}
	if o.PreviewMaxLimit <= 0 {
		o.PreviewMaxLimit = d.PreviewMaxLimit
	}
	if o.InstructionTimeout <= 0 {
		o.InstructionTimeout = d.InstructionTimeout
	}
	if o.SandboxTimeout <= 0 {
		o.SandboxTimeout = d.SandboxTimeout
	}
	if o.ResultRetention <= 0 {
		o.ResultRetention = d.ResultRetention
	}
	if o.SchemaSampleRows <= 0 {
		o.SchemaSampleRows = d.SchemaSampleRows
	}
	if o.MaxConcurrentInstructions <= 0 {
		o.MaxConcurrentInstructions = d.MaxConcurrentInstructions
	}
	if o.LimiterWait <= 0 {
		o.LimiterWait = d.LimiterWait
	}
	if o.AuditQueueSize <= 0 {
		o.AuditQueueSize = d.AuditQueueSize
	}
	return o
}

// Service provides the session operations: upload, preview, edit,
// instructions and export.
type Service struct {
	store      *Store
	translator translator.Translator
	limiter    *ExecutionLimiter
	audit      *auditQueue
	opts       Options

	mu           sync.RWMutex
	instructions map[string]*activeInstruction
	running      sync.WaitGroup
}

// NewService creates a Service. A nil audit log discards audit events.
func NewService(tr translator.Translator, audit AuditLog, opts Options) *Service {
	opts = opts.withDefaults()
	if audit == nil {
		audit = NopAuditLog{}
	}
	return &Service{
		store:        NewStore(opts.LockWait, opts.HistoryLimit),
		translator:   tr,
		limiter:      NewExecutionLimiter(opts.MaxConcurrentInstructions, opts.LimiterWait),
		audit:        newAuditQueue(audit, opts.AuditQueueSize),
		opts:         opts,
		instructions: make(map[string]*activeInstruction),
	}
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

// Upload parses data and creates a session holding the result. The format
// comes from declaredFormat when set, otherwise from fileName or the
// content itself.
func (s *Service) Upload(ctx context.Context, fileName, declaredFormat string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, ErrNoFile
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.opts.MaxUploadBytes)
	}

	format, err := sheet.DetectFormat(fileName, declaredFormat, data)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	table, err := sheet.Parse(data, format, sheet.ParseOptions{MaxRows: s.opts.MaxRows})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}

	snap := s.store.Create(table, fileName)

	slog.Info("session created",
		"session_id", snap.ID,
		"file", fileName,
		"format", format,
		"rows", table.NumRows(),
		"columns", table.NumColumns(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.audit.submit(ctx, AuditParams{
		Action:       ActionSessionCreate,
		SessionID:    snap.ID,
		FileName:     fileName,
		RowsAffected: table.NumRows(),
	})

	return &UploadResult{
		SessionID: snap.ID,
		FileName:  fileName,
		Format:    string(format),
		Columns:   table.Columns(),
		Rows:      table.NumRows(),
		Revision:  snap.Revision,
	}, nil
}

// Session returns the current snapshot of a session.
func (s *Service) Session(id string) (Snapshot, error) {
	return s.store.Get(id)
}

// History returns the committed mutations of a session, newest first.
func (s *Service) History(id string) ([]HistoryEntry, error) {
	return s.store.History(id)
}

// DeleteSession removes a session and cancels its instructions. Deleting an
// unknown session is not an error.
func (s *Service) DeleteSession(ctx context.Context, id string) {
	s.cancelSessionInstructions(id, fmt.Errorf("%w: %s deleted", ErrSessionNotFound, id))
	if !s.store.Expire(id) {
		return
	}
	slog.Info("session deleted", "session_id", id)
	s.audit.submit(ctx, AuditParams{Action: ActionSessionDelete, SessionID: id})
}

// Status returns a summary for monitoring.
func (s *Service) Status() Status {
	s.mu.RLock()
	active := 0
	for _, inst := range s.instructions {
		if !inst.finished() {
			active++
		}
	}
	s.mu.RUnlock()

	return Status{
		Sessions:           s.store.Len(),
		ActiveInstructions: active,
		Limiter:            s.limiter.Status(),
	}
}

// drainGrace bounds how long WaitForDrain waits for cancelled instructions
// to unwind after its context has ended.
const drainGrace = 5 * time.Second

// WaitForDrain blocks until every running instruction has finished. If ctx
// ends first, the remaining instructions are cancelled and given up to
// drainGrace to record their outcome before ctx's error is returned.
func (s *Service) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.cancelAll(ErrInstructionCancelled)
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		slog.Warn("instructions still running after drain grace period",
			"active", s.Status().ActiveInstructions,
		)
	}
	return ctx.Err()
}

// Close flushes pending audit events. Call after WaitForDrain.
func (s *Service) Close() {
	s.audit.close()
}
