package sandbox

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// bind installs the fragment's globals on vm.
func bind(vm *goja.Runtime, in *sheet.Table, console *consoleBuffer) error {
	cols := in.Columns()
	colVals := make([]any, len(cols))
	for i, c := range cols {
		colVals[i] = c
	}

	rows := make([]any, in.NumRows())
	for r := range rows {
		obj := vm.NewObject()
		for c, name := range cols {
			// Define rather than Set, so a header such as __proto__ becomes an
			// own property instead of hitting the inherited accessor.
			v := vm.ToValue(in.Cell(r, c).Interface())
			if err := obj.DefineDataProperty(name, v, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
				return fmt.Errorf("bind row %d: %w", r, err)
			}
		}
		rows[r] = obj
	}

	printFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		console.WriteLine(strings.Join(parts, " "))
		return goja.Undefined()
	}

	consoleObj := vm.NewObject()
	if err := consoleObj.Set("log", printFn); err != nil {
		return err
	}

	globals := map[string]any{
		"columns": vm.NewArray(colVals...),
		"rows":    vm.NewArray(rows...),
		"print":   printFn,
		"console": consoleObj,
		"result":  goja.Undefined(),
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

// collect reads the globals back into a Result.
func collect(vm *goja.Runtime, in *sheet.Table, opts Options) (*Result, error) {
	columns, err := exportColumns(vm.Get("columns"))
	if err != nil {
		return nil, err
	}

	records, err := exportRows(vm.Get("rows"))
	if err != nil {
		return nil, err
	}
	if len(records) > opts.MaxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds %d", ErrRowLimit, len(records), opts.MaxRows)
	}

	if slices.Equal(columns, in.Columns()) {
		columns = appendNewKeys(columns, records)
	}

	rows := make([][]sheet.Value, len(records))
	for r, rec := range records {
		row := make([]sheet.Value, len(columns))
		for c, name := range columns {
			v, err := sheet.FromInterface(rec[name])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %v", ErrInvalidOutput, r, name, err)
			}
			row[c] = v
		}
		rows[r] = row
	}

	tbl, err := sheet.New(columns, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	value, err := exportResult(vm.Get("result"))
	if err != nil {
		return nil, err
	}
	return &Result{Table: tbl, Value: value}, nil
}

func exportColumns(v goja.Value) ([]string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("%w: columns is not set", ErrInvalidOutput)
	}
	list, ok := v.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("%w: columns must be an array", ErrInvalidOutput)
	}
	out := make([]string, len(list))
	seen := make(map[string]bool, len(list))
	for i, c := range list {
		name, ok := c.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: column %d must be a non-empty string", ErrInvalidOutput, i)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidOutput, name)
		}
		seen[name] = true
		out[i] = name
	}
	return out, nil
}

func exportRows(v goja.Value) ([]map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("%w: rows is not set", ErrInvalidOutput)
	}
	list, ok := v.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("%w: rows must be an array", ErrInvalidOutput)
	}
	out := make([]map[string]any, len(list))
	for i, r := range list {
		rec, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: row %d must be an object", ErrInvalidOutput, i)
		}
		out[i] = rec
	}
	return out, nil
}

func exportResult(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if _, isFunc := goja.AssertFunction(v); isFunc {
		return nil, fmt.Errorf("%w: result must be data, not a function", ErrInvalidOutput)
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrInvalidOutput, err)
	}
	return data, nil
}

// appendNewKeys extends columns with row keys they do not yet contain,
// sorted for a deterministic order.
func appendNewKeys(columns []string, records []map[string]any) []string {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var extra []string
	for _, rec := range records {
		for k := range rec {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

// consoleBuffer captures print output up to a byte limit.
type consoleBuffer struct {
	limit     int
	b         strings.Builder
	truncated bool
}

func (c *consoleBuffer) WriteLine(s string) {
	if c.truncated {
		return
	}
	if c.b.Len()+len(s)+1 > c.limit {
		c.b.WriteString("...[truncated]\n")
		c.truncated = true
		return
	}
	c.b.WriteString(s)
	c.b.WriteByte('\n')
}

func (c *consoleBuffer) String() string { return c.b.String() }
