// Package core implements spreadsheet sessions: upload, preview, cell
// edits, instruction execution and export.
//
// The package has no transport dependencies and can be used by the web
// server, the CLI, or tests without modification.
//
// # Sessions
//
// A session owns exactly one [sheet.Table] plus a revision counter. The
// [Store] hands out immutable snapshots and serialises mutations per
// session with [Store.WithLock]; sessions never block one another.
//
// # Instructions
//
// [Service.SubmitInstruction] translates free text into JavaScript through
// a [translator.Translator], runs it in the sandbox against a copy of the
// table, and commits the result as one revision:
//
//  1. received: waiting for the session's instruction slot
//  2. translating: the translator sees a schema summary, not the table
//  3. executing: the sandbox runs under the session lock
//  4. committed, failed or cancelled
//
// Progress is broadcast to subscribers via [Service.SubscribeProgress].
//
// # Error Handling
//
// Every returned error wraps a sentinel from errors.go. [Classify] maps it to
// an [ErrorKind] and HTTP status; [MapError] gives the user-facing message.
// Each category has a code for support reference:
//
//   - SES001-SES003: Session errors (not found, busy)
//   - EDT001-EDT003: Edit errors (row, column, value)
//   - FILE001-FILE005: File errors (size, format, parse, row limit)
//   - INS001-INS006: Instruction errors (translation, execution, timeout)
//
// # Audit Logging
//
// Session creation, edits, instruction outcomes, exports and expiry are
// recorded through an [AuditLog] off the request path. [PGAuditLog] stores
// them in PostgreSQL.
package core
