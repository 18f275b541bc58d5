package core

// instructions.go runs natural-language instructions against a session.
//
// An instruction moves through received, translating and executing, and
// ends committed, failed or cancelled. Translation happens outside the
// session lock so edits keep flowing while the translator is slow; only
// the sandbox run and the commit hold the lock. Each instruction gets a
// context cancelled with a cause: ErrInstructionCancelled for
// CancelInstruction, ErrExecutionTimeout when the overall budget runs out.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheetd/internal/sandbox"
	"github.com/JonMunkholm/sheetd/internal/sheet"
)

type activeInstruction struct {
	ID          string
	SessionID   string
	Instruction string
	Cancel      context.CancelCauseFunc
	Progress    InstructionProgress
	Result      *InstructionResult
	Done        chan struct{}
	Listeners   []chan InstructionProgress
	ListenerMu  sync.Mutex
	started     time.Time
}

// setPhase records a phase change and broadcasts it.
func (inst *activeInstruction) setPhase(phase InstructionPhase, message string) {
	inst.ListenerMu.Lock()
	defer inst.ListenerMu.Unlock()

	inst.Progress.Phase = phase
	inst.Progress.Message = message
	inst.advance()
}

// tick broadcasts the elapsed time without changing phase.
func (inst *activeInstruction) tick() {
	inst.ListenerMu.Lock()
	defer inst.ListenerMu.Unlock()

	if inst.Progress.Phase.Terminal() {
		return
	}
	inst.advance()
}

// advance bumps the sequence, refreshes elapsed time and notifies
// listeners. Callers hold ListenerMu.
func (inst *activeInstruction) advance() {
	inst.Progress.Seq++
	inst.Progress.Elapsed = time.Since(inst.started).Milliseconds()
	for _, ch := range inst.Listeners {
		select {
		case ch <- inst.Progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish publishes the final progress, closes every listener and marks the
// instruction done.
func (inst *activeInstruction) finish(res *InstructionResult) {
	inst.ListenerMu.Lock()
	inst.Result = res
	inst.Progress.Phase = res.Phase
	inst.Progress.Message = ""
	inst.Progress.Error = res.Error
	inst.Progress.Seq++
	inst.Progress.Elapsed = time.Since(inst.started).Milliseconds()
	for _, ch := range inst.Listeners {
		// The terminal update is never dropped: evict the oldest queued one.
		// Senders hold ListenerMu, so after one receive attempt there is room
		// even if the reader drained the buffer in between.
		select {
		case ch <- inst.Progress:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- inst.Progress
		}
		close(ch)
	}
	inst.Listeners = nil
	inst.ListenerMu.Unlock()

	close(inst.Done)
}

func (inst *activeInstruction) finished() bool {
	select {
	case <-inst.Done:
		return true
	default:
		return false
	}
}

func (inst *activeInstruction) progress() InstructionProgress {
	inst.ListenerMu.Lock()
	defer inst.ListenerMu.Unlock()
	return inst.Progress
}

// SubmitInstruction queues an instruction for a session and returns its id
// immediately. Use SubscribeProgress, WaitInstruction or
// GetInstructionResult to follow it.
//
// The instruction outlives ctx; only ctx's values are kept.
func (s *Service) SubmitInstruction(ctx context.Context, sessionID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInstruction
	}
	if _, err := s.store.Get(sessionID); err != nil {
		return "", err
	}

	id := uuid.New().String()
	base, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	runCtx, stop := context.WithTimeoutCause(base, s.opts.InstructionTimeout, ErrExecutionTimeout)

	inst := &activeInstruction{
		ID:          id,
		SessionID:   sessionID,
		Instruction: text,
		Cancel:      cancel,
		Progress: InstructionProgress{
			InstructionID: id,
			SessionID:     sessionID,
			Phase:         PhaseReceived,
		},
		Done:    make(chan struct{}),
		started: time.Now(),
	}

	s.mu.Lock()
	s.instructions[id] = inst
	s.mu.Unlock()

	slog.Info("instruction received",
		"instruction_id", id,
		"session_id", sessionID,
	)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer cancel(nil)
		defer stop()
		s.runInstruction(runCtx, inst)
	}()

	return id, nil
}

// RunInstruction submits an instruction and waits for it. If ctx ends
// first, the instruction is cancelled.
func (s *Service) RunInstruction(ctx context.Context, sessionID, text string) (*InstructionResult, error) {
	id, err := s.SubmitInstruction(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}

	res, err := s.WaitInstruction(ctx, id)
	if err != nil {
		_ = s.CancelInstruction(id)
		return nil, err
	}
	return res, res.Err
}

// WaitInstruction blocks until the instruction finishes or ctx ends.
func (s *Service) WaitInstruction(ctx context.Context, instructionID string) (*InstructionResult, error) {
	inst, err := s.instruction(instructionID)
	if err != nil {
		return nil, err
	}

	select {
	case <-inst.Done:
		return inst.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetInstructionResult returns the result of a finished instruction, or nil
// while it is still running.
func (s *Service) GetInstructionResult(instructionID string) (*InstructionResult, error) {
	inst, err := s.instruction(instructionID)
	if err != nil {
		return nil, err
	}
	if !inst.finished() {
		return nil, nil
	}
	return inst.Result, nil
}

// GetInstructionProgress returns the current progress without blocking.
func (s *Service) GetInstructionProgress(instructionID string) (InstructionProgress, error) {
	inst, err := s.instruction(instructionID)
	if err != nil {
		return InstructionProgress{}, err
	}
	return inst.progress(), nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the instruction finishes. Updates are dropped
// for a subscriber that falls behind.
func (s *Service) SubscribeProgress(instructionID string) (<-chan InstructionProgress, error) {
	inst, err := s.instruction(instructionID)
	if err != nil {
		return nil, err
	}

	ch := make(chan InstructionProgress, 10)

	inst.ListenerMu.Lock()
	defer inst.ListenerMu.Unlock()

	// Send current progress immediately
	ch <- inst.Progress
	if inst.Result != nil {
		close(ch)
		return ch, nil
	}
	inst.Listeners = append(inst.Listeners, ch)
	return ch, nil
}

// CancelInstruction cancels an instruction. A queued or translating
// instruction stops before touching the table; an executing one is
// interrupted and its partial output discarded. Cancelling a finished
// instruction has no effect.
func (s *Service) CancelInstruction(instructionID string) error {
	inst, err := s.instruction(instructionID)
	if err != nil {
		return err
	}
	inst.Cancel(ErrInstructionCancelled)
	return nil
}

func (s *Service) instruction(id string) (*activeInstruction, error) {
	s.mu.RLock()
	inst, ok := s.instructions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstructionNotFound, id)
	}
	return inst, nil
}

func (s *Service) cancelSessionInstructions(sessionID string, cause error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instructions {
		if inst.SessionID == sessionID {
			inst.Cancel(cause)
		}
	}
}

func (s *Service) cancelAll(cause error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instructions {
		inst.Cancel(cause)
	}
}

// cleanup removes the instruction from tracking after a delay.
func (s *Service) cleanup(instructionID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.instructions, instructionID)
		s.mu.Unlock()
	})
}

func (s *Service) runInstruction(ctx context.Context, inst *activeInstruction) {
	res := &InstructionResult{
		InstructionID: inst.ID,
		SessionID:     inst.SessionID,
		Instruction:   inst.Instruction,
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in instruction",
				"instruction_id", inst.ID,
				"session_id", inst.SessionID,
				"panic", r,
			)
			res.Err = fmt.Errorf("%w: internal error: %v", ErrExecutionFailed, r)
		}
		s.complete(ctx, inst, res)
	}()

	stopTicker := s.trackElapsed(inst)
	defer stopTicker()

	res.Err = s.execute(ctx, inst, res)
}

// complete fills in the terminal fields of res, logs, audits and publishes
// it.
func (s *Service) complete(ctx context.Context, inst *activeInstruction, res *InstructionResult) {
	res.Duration = time.Since(inst.started)

	action := ActionInstructionCommit
	switch {
	case res.Err == nil:
		res.Phase = PhaseCommitted
		slog.Info("instruction committed",
			"instruction_id", inst.ID,
			"session_id", inst.SessionID,
			"revision", res.Revision,
			"duration_ms", res.Duration.Milliseconds(),
		)
	default:
		action = ActionInstructionFailed
		res.Phase = PhaseFailed
		if errors.Is(res.Err, ErrInstructionCancelled) {
			res.Phase = PhaseCancelled
		}
		res.Error = res.Err.Error()
		if snap, err := s.store.Get(inst.SessionID); err == nil {
			res.Revision = snap.Revision
		}
		slog.Warn("instruction did not commit",
			"instruction_id", inst.ID,
			"session_id", inst.SessionID,
			"phase", res.Phase,
			"error", res.Err,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}

	s.audit.submit(ctx, AuditParams{
		Action:        action,
		SessionID:     inst.SessionID,
		InstructionID: inst.ID,
		Instruction:   inst.Instruction,
		Code:          res.Code,
		ErrorCode:     errorCode(res.Err),
		Revision:      res.Revision,
	})

	inst.finish(res)
	s.cleanup(inst.ID, s.opts.ResultRetention)
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err).Code
}

// execute runs the pipeline and records code, output and revision on res.
func (s *Service) execute(ctx context.Context, inst *activeInstruction, res *InstructionResult) error {
	release, err := s.store.Enqueue(ctx, inst.SessionID)
	if err != nil {
		return contextCause(ctx, err)
	}
	defer release()

	if err := s.limiter.Acquire(ctx); err != nil {
		return contextCause(ctx, err)
	}
	defer s.limiter.Release()

	inst.setPhase(PhaseTranslating, "translating instruction")
	snap, err := s.store.Get(inst.SessionID)
	if err != nil {
		return err
	}

	frag, err := s.translator.Translate(ctx, inst.Instruction, sheet.Summarize(snap.Table, s.opts.SchemaSampleRows))
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("%w: %w", ErrTranslationFailed, err)
	}
	res.Code = frag.Code

	inst.setPhase(PhaseExecuting, "running generated code")
	snap, err = s.store.WithLock(ctx, inst.SessionID, func(cur Snapshot) (*Change, error) {
		out, err := sandbox.Run(ctx, frag.Code, cur.Table, sandbox.Options{
			Timeout: s.opts.SandboxTimeout,
			MaxRows: s.opts.MaxRows,
		})
		if err != nil {
			return nil, executionError(ctx, err)
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		res.Result = out.Value
		res.Console = out.Console
		if out.Table.Equal(cur.Table) {
			return nil, nil
		}
		return &Change{
			Table:   out.Table,
			Kind:    ChangeInstruction,
			Summary: inst.Instruction,
		}, nil
	})
	if err != nil {
		res.Result, res.Console = nil, ""
		return contextCause(ctx, err)
	}
	res.Revision = snap.Revision
	return nil
}

// executionError maps a sandbox failure onto the service sentinels.
func executionError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return context.Cause(ctx)
	case errors.Is(err, sandbox.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrExecutionTimeout, err)
	case errors.Is(err, sandbox.ErrRowLimit):
		return fmt.Errorf("%w: %w", ErrRowLimitExceeded, err)
	default:
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
}

// contextCause replaces a context error with the reason the instruction's
// context ended. Other errors pass through.
func contextCause(ctx context.Context, err error) error {
	if ctx.Err() == nil || !IsContextError(err) {
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

// trackElapsed publishes elapsed-time progress until the returned func is
// called.
func (s *Service) trackElapsed(inst *activeInstruction) (stop func()) {
	if s.opts.ProgressInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				inst.tick()
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}
