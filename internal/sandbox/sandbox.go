// Package sandbox runs untrusted JavaScript fragments against a copy of a
// table.
//
// A fragment sees exactly four globals and nothing else: no filesystem,
// network, timers or module loader.
//
//	columns  array of column names, in order
//	rows     array of plain objects keyed by column name
//	print    writes its arguments to the captured console (console.log is an alias)
//	result   optional value handed back to the caller
//
// The fragment mutates rows and columns in place or reassigns them. After it
// returns, the globals are read back into a new table. When the fragment
// changed the column list that list is authoritative; otherwise keys added to
// rows are appended as new columns in sorted order.
//
// Every run is bounded by a wall-clock budget. When the budget or the
// caller's context expires the VM is interrupted and Run returns at once;
// whatever the fragment had built so far is discarded.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

var (
	// ErrScript is returned when a fragment fails to compile, throws, or
	// overflows the call stack.
	ErrScript = errors.New("script error")

	// ErrTimeout is returned when a fragment exceeds its execution budget.
	ErrTimeout = errors.New("execution budget exceeded")

	// ErrInvalidOutput is returned when the globals left behind by a
	// fragment cannot be read back into a table.
	ErrInvalidOutput = errors.New("invalid output")

	// ErrRowLimit is returned when a fragment produces more rows than
	// allowed.
	ErrRowLimit = errors.New("row limit exceeded")
)

// Defaults applied by Run for zero Options fields.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxConsoleBytes = 64 << 10
	DefaultMaxCallStack    = 1024
)

// Options bounds a single run.
type Options struct {
	Timeout         time.Duration
	MaxRows         int
	MaxConsoleBytes int
	MaxCallStack    int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRows <= 0 {
		o.MaxRows = sheet.DefaultMaxRows
	}
	if o.MaxConsoleBytes <= 0 {
		o.MaxConsoleBytes = DefaultMaxConsoleBytes
	}
	if o.MaxCallStack <= 0 {
		o.MaxCallStack = DefaultMaxCallStack
	}
	return o
}

// Result is the outcome of a successful run.
type Result struct {
	Table   *sheet.Table
	Value   json.RawMessage // nil when the fragment left result undefined
	Console string
	Elapsed time.Duration
}

type outcome struct {
	res *Result
	err error
}

// Run executes code against a copy of in. The input table is never
// modified. On error the returned Result is nil.
func Run(ctx context.Context, code string, in *sheet.Table, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	vm := goja.New()
	vm.SetMaxCallStackSize(opts.MaxCallStack)
	console := &consoleBuffer{limit: opts.MaxConsoleBytes}

	if err := bind(vm, in, console); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", ErrScript, r)}
			}
		}()

		if _, err := vm.RunString(code); err != nil {
			done <- outcome{err: scriptError(err)}
			return
		}
		res, err := collect(vm, in, opts)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		res.Console = console.String()
		done <- outcome{res: res}
	}()

	select {
	case o := <-done:
		if o.res != nil {
			o.res.Elapsed = time.Since(start)
		}
		return o.res, o.err
	case <-runCtx.Done():
		// The goroutine exits on its own once the interrupt lands; done is
		// buffered so it never blocks.
		vm.Interrupt("halted")
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
	}
}

func scriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%w: %s", ErrScript, ex.Value().String())
	}
	return fmt.Errorf("%w: %v", ErrScript, err)
}
