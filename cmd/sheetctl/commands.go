package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetd/internal/sandbox"
	"github.com/JonMunkholm/sheetd/internal/sheet"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sheetctl",
		Short:         "Inspect, convert and transform csv, tsv, xlsx and json tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInspectCmd(), newConvertCmd(), newExecCmd())
	return root
}

// readTable parses path, honoring an explicit format when given.
func readTable(path, format string, maxRows int) (*sheet.Table, sheet.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	f, err := sheet.DetectFormat(filepath.Base(path), format, data)
	if err != nil {
		return nil, "", err
	}
	t, err := sheet.Parse(data, f, sheet.ParseOptions{MaxRows: maxRows})
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return t, f, nil
}

// writeTable encodes t to outPath, or to w when outPath is empty. The
// output format defaults to the extension of outPath.
func writeTable(w io.Writer, t *sheet.Table, outPath, format string) error {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(outPath), ".")
	}
	if format == "" {
		format = string(sheet.FormatCSV)
	}
	f, err := sheet.ParseFormat(format)
	if err != nil {
		return err
	}
	data, err := sheet.Encode(t, f)
	if err != nil {
		return err
	}
	if outPath == "" {
		_, err = w.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func newInspectCmd() *cobra.Command {
	var (
		format  string
		sample  int
		asJSON  bool
		maxRows int
	)
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the columns, inferred types and row count of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, f, err := readTable(args[0], format, maxRows)
			if err != nil {
				return err
			}
			schema := sheet.Summarize(t, sample)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(schema)
			}

			fmt.Fprintf(out, "format: %s\nrows:   %d\n\n", f, schema.RowCount)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "COLUMN\tTYPE")
			for _, c := range schema.Columns {
				fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Type)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format (default: from extension)")
	cmd.Flags().IntVar(&sample, "sample", 5, "Sample rows included with --json")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the schema as JSON")
	cmd.Flags().IntVar(&maxRows, "max-rows", 1000000, "Reject tables with more rows")
	return cmd
}

func newConvertCmd() *cobra.Command {
	var (
		from, to, output string
		maxRows          int
	)
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Re-encode a table in another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, _, err := readTable(args[0], from, maxRows)
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), t, output, to)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Input format (default: from extension)")
	cmd.Flags().StringVar(&to, "to", "", "Output format (default: from --output extension, else csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVar(&maxRows, "max-rows", 1000000, "Reject tables with more rows")
	return cmd
}

func newExecCmd() *cobra.Command {
	var (
		from, to, output, script string
		timeout                  time.Duration
		maxRows                  int
	)
	cmd := &cobra.Command{
		Use:   "exec <file> --script <fragment.js>",
		Short: "Run a code fragment against a table in the sandbox",
		Long: `exec runs a JavaScript fragment the way the server runs generated code:
the fragment sees the rows as "rows", may reassign it, and may set "result".
The transformed table is written to --output (or stdout); console output and
result go to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(script)
			if err != nil {
				return err
			}
			t, _, err := readTable(args[0], from, maxRows)
			if err != nil {
				return err
			}

			res, err := sandbox.Run(context.Background(), string(code), t, sandbox.Options{
				Timeout: timeout,
				MaxRows: maxRows,
			})
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			if res.Console != "" {
				fmt.Fprint(errOut, res.Console)
			}
			if res.Value != nil {
				fmt.Fprintf(errOut, "result: %s\n", res.Value)
			}
			return writeTable(cmd.OutOrStdout(), res.Table, output, to)
		},
	}
	cmd.Flags().StringVarP(&script, "script", "s", "", "File holding the code fragment")
	cmd.Flags().StringVar(&from, "from", "", "Input format (default: from extension)")
	cmd.Flags().StringVar(&to, "to", "", "Output format (default: from --output extension, else csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Execution budget")
	cmd.Flags().IntVar(&maxRows, "max-rows", 1000000, "Reject tables with more rows")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}
