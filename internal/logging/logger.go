// Package logging provides structured logging configuration using log/slog.
//
// This package integrates with chi's RequestID middleware to propagate
// request IDs through structured log entries, enabling request tracing
// across the entire request lifecycle. Logs can additionally be shipped
// to a Seq server.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	slogseq "github.com/sokkalf/slog-seq"
)

// Options configures Setup.
type Options struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text, json (default: text)

	// SeqURL, when set, also ships every record to a Seq server.
	SeqURL           string
	SeqFlushInterval time.Duration
}

// Setup configures the global slog logger and returns a func that flushes
// and closes any remote sink. Call it before exit.
//
// Use "json" format in production for machine parsing (ELK, CloudWatch, etc.)
// Use "text" format in development for human readability.
func Setup(opts Options) (cleanup func()) {
	handler := newConsoleHandler(os.Stdout, opts.Level, opts.Format)
	if opts.SeqURL == "" {
		slog.SetDefault(slog.New(handler))
		return func() {}
	}

	flush := opts.SeqFlushInterval
	if flush <= 0 {
		flush = 2 * time.Second
	}
	_, seqHandler := slogseq.NewLogger(
		opts.SeqURL,
		slogseq.WithBatchSize(50),
		slogseq.WithFlushInterval(flush),
		slogseq.WithHandlerOptions(&slog.HandlerOptions{
			Level: parseLevel(opts.Level),
		}),
	)
	if seqHandler == nil {
		slog.SetDefault(slog.New(handler))
		slog.Warn("seq logging unavailable, using console only", "seq_url", opts.SeqURL)
		return func() {}
	}

	slog.SetDefault(slog.New(newMultiHandler(handler, seqHandler)))
	return func() {
		seqHandler.Close()
	}
}

func newConsoleHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns a logger enriched with request context.
//
// When called with a request context that contains a chi RequestID,
// the returned logger automatically includes request_id in all log entries.
//
// Usage:
//
//	func handleRequest(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("processing request", "session_id", id)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	log := logging.WithFields(ctx,
//	    "session_id", sessionID,
//	    "instruction_id", instructionID,
//	)
//	log.Info("instruction submitted")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
