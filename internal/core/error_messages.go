package core

// error_messages.go maps sentinel errors to user-facing messages.
//
// # Error Codes Reference
//
// Codes are stable and safe to quote to support staff.
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found: the session expired or was deleted
//	         Action: Upload the file again to start a new session
//	SES002 - Session busy: another change held the session lock too long
//	         Action: Retry in a moment
//	SES003 - Instruction not found: unknown or already forgotten instruction
//	         Action: Submit the instruction again
//
// # Edit Errors (EDT001-EDT099)
//
//	EDT001 - Row out of range: the row does not exist, or the table was
//	         restructured since the client last looked
//	         Action: Refresh the preview and retry the edit
//	EDT002 - Unknown column: edits never create columns
//	         Action: Check the column name
//	EDT003 - Invalid value: only text, numbers, booleans and null are allowed
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Unsupported format: csv, tsv, xlsx and json are accepted
//	FILE003 - Parse failure: the file is malformed
//	FILE004 - No file: the upload carried no file
//	FILE005 - Too many rows
//
// # Instruction Errors (INS001-INS099)
//
//	INS001 - Empty instruction
//	INS002 - Translation failed: no usable code came back from the model
//	INS003 - Execution failed: the generated code raised an error
//	INS004 - Execution timed out
//	INS005 - Instruction cancelled
//	INS006 - System busy: too many instructions running
//
// # System Errors (SYS001-SYS099)
//
//	SYS001 - Request cancelled by the client
//	SYS002 - Request timed out
//
// # Default Error (ERR000)
//
// Fallback for errors that wrap no known sentinel. Check the logs for the
// technical error.

import (
	"context"
	"fmt"
	"net/http"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorRule struct {
	target error
	kind   ErrorKind
	status int
	msg    UserMessage
}

// errorRules is matched in order with errors.Is. Domain sentinels come
// before the context errors so an instruction that was cancelled reports
// INS005 rather than SYS001.
var errorRules = []errorRule{
	// Session
	{ErrSessionNotFound, KindNotFound, http.StatusNotFound, UserMessage{
		Message: "Session not found",
		Action:  "The session may have expired. Upload the file again",
		Code:    "SES001",
	}},
	{ErrLockTimeout, KindConcurrencyTimeout, http.StatusConflict, UserMessage{
		Message: "The session is busy with another change",
		Action:  "Please try again in a moment",
		Code:    "SES002",
	}},
	{ErrInstructionNotFound, KindNotFound, http.StatusNotFound, UserMessage{
		Message: "Instruction not found",
		Action:  "The instruction may have finished long ago. Submit it again",
		Code:    "SES003",
	}},

	// Edits
	{ErrRowOutOfRange, KindInput, http.StatusBadRequest, UserMessage{
		Message: "Row is out of range",
		Action:  "Refresh the preview and retry the edit",
		Code:    "EDT001",
	}},
	{ErrUnknownColumn, KindInput, http.StatusBadRequest, UserMessage{
		Message: "Column does not exist",
		Action:  "Check the column name; edits never create columns",
		Code:    "EDT002",
	}},
	{ErrInvalidValue, KindInput, http.StatusBadRequest, UserMessage{
		Message: "Cell value is not allowed",
		Action:  "Use text, a number, true/false or null",
		Code:    "EDT003",
	}},

	// Files
	{ErrFileTooLarge, KindResourceExhaustion, http.StatusRequestEntityTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}},
	{ErrUnsupportedFormat, KindInput, http.StatusUnsupportedMediaType, UserMessage{
		Message: "File format is not supported",
		Action:  "Upload a csv, tsv, xlsx or json file",
		Code:    "FILE002",
	}},
	{ErrParseFailure, KindInput, http.StatusUnprocessableEntity, UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file is not corrupted and has a header row",
		Code:    "FILE003",
	}},
	{ErrNoFile, KindInput, http.StatusBadRequest, UserMessage{
		Message: "No file was provided",
		Action:  "Please select a file to upload",
		Code:    "FILE004",
	}},
	{ErrRowLimitExceeded, KindResourceExhaustion, http.StatusRequestEntityTooLarge, UserMessage{
		Message: "The table has too many rows",
		Action:  "Split the data into smaller files",
		Code:    "FILE005",
	}},

	// Instructions
	{ErrEmptyInstruction, KindInput, http.StatusBadRequest, UserMessage{
		Message: "Instruction is empty",
		Action:  "Describe the change you want to make",
		Code:    "INS001",
	}},
	{ErrTranslationFailed, KindTranslation, http.StatusBadGateway, UserMessage{
		Message: "The instruction could not be turned into code",
		Action:  "Rephrase the instruction or try again",
		Code:    "INS002",
	}},
	{ErrExecutionFailed, KindExecution, http.StatusUnprocessableEntity, UserMessage{
		Message: "The generated code failed; the table was not changed",
		Action:  "Rephrase the instruction or try again",
		Code:    "INS003",
	}},
	{ErrExecutionTimeout, KindExecutionTimeout, http.StatusGatewayTimeout, UserMessage{
		Message: "The instruction took too long; the table was not changed",
		Action:  "Try a simpler instruction",
		Code:    "INS004",
	}},
	{ErrInstructionCancelled, KindCancelled, http.StatusConflict, UserMessage{
		Message: "The instruction was cancelled; the table was not changed",
		Action:  "Submit it again when ready",
		Code:    "INS005",
	}},
	{ErrTooManyInstructions, KindResourceExhaustion, http.StatusServiceUnavailable, UserMessage{
		Message: "The system is busy running other instructions",
		Action:  "Please wait a moment and try again",
		Code:    "INS006",
	}},

	// System
	{ErrInvalidRequest, KindInput, http.StatusBadRequest, UserMessage{
		Message: "The request could not be understood",
		Action:  "Check the request body and parameters",
		Code:    "SYS003",
	}},
	{context.Canceled, KindCancelled, 499, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "SYS001",
	}},
	{context.DeadlineExceeded, KindExecutionTimeout, http.StatusGatewayTimeout, UserMessage{
		Message: "Request timed out",
		Action:  "Please try again",
		Code:    "SYS002",
	}},
}

// defaultMessage is returned when no rule matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	return Classify(err).UserMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
