package importer

// error_messages.go maps technical errors to user-facing messages with codes
// that support staff can look up.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key            Patterns: "duplicate key"
//	DB002 - Unique constraint        Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key              Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused       Patterns: "connection refused"
//	DB005 - Connection reset         Patterns: "connection reset", "conn closed"
//	DB006 - Timeout                  Patterns: "timeout"
//	DB007 - Deadlock / serialization Patterns: "deadlock", "could not serialize"
//	DB008 - Value out of range       Patterns: "out of range", "value too long"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date            Patterns: "invalid date", "unrecognized date"
//	VAL002 - Invalid number          Patterns: "invalid number"
//	VAL003 - Required field          Patterns: "is required"
//	VAL004 - Missing column          Patterns: "missing required mapping", "column not found"
//	VAL005 - Conflicting keys        Patterns: "different existing record"
//	VAL006 - Unknown user            Patterns: "not an active user"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large         Patterns: "file too large", "request body too large"
//	FILE002 - Unreadable CSV         Patterns: "parse error", "wrong number of fields", "bare \" in non-quoted"
//	FILE003 - Unsupported format     Patterns: "unsupported file type"
//	FILE004 - No file                Patterns: "no file provided"
//	FILE005 - Empty file             Patterns: "empty file"
//	FILE006 - Too many rows          Patterns: "too many rows"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy             Patterns: "too many concurrent imports"
//	IMP002 - Pipeline not found      Patterns: "pipeline not found"
//	IMP003 - Pipeline locked         Patterns: "pipeline is locked", "lock not acquired"
//	IMP004 - Request cancelled       Patterns: "context canceled"
//	IMP005 - Chunk timed out         Patterns: "context deadline exceeded"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches; check the logs for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors (IMP001-IMP005)
	// Checked first: "context deadline exceeded" must win over "timeout".
	// =========================================================================
	{"too many concurrent imports", UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP001"}},
	{"pipeline not found", UserMessage{"The target pipeline does not exist", "Choose an existing pipeline and retry", "IMP002"}},
	{"pipeline is locked", UserMessage{"Another import is running for this pipeline", "Wait for it to finish and retry", "IMP003"}},
	{"lock not acquired", UserMessage{"Another import is running for this pipeline", "Wait for it to finish and retry", "IMP003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP004"}},
	{"context deadline exceeded", UserMessage{"The batch took too long and was rolled back", "Retry the import; rows that already committed will be updated, not duplicated", "IMP005"}},

	// =========================================================================
	// Database Errors (DB001-DB008)
	// =========================================================================
	{"duplicate key", UserMessage{"A record with this key already exists", "Check the file for duplicate emails, phones or deal numbers", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check the file for duplicate entries", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review your data for duplicate key values", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Make sure owners, stages and contacts exist", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Make sure owners, stages and contacts exist", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"conn closed", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try importing a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"could not serialize", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"out of range", UserMessage{"A value is too large for its field", "Check amounts and dates for typos", "DB008"}},
	{"value too long", UserMessage{"A value is too long for its field", "Shorten the value and retry", "DB008"}},

	// =========================================================================
	// Validation Errors (VAL001-VAL006)
	// =========================================================================
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD, DD.MM.YYYY, MM/DD/YYYY, or Jan 15, 2024", "VAL001"}},
	{"unrecognized date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD, DD.MM.YYYY, MM/DD/YYYY, or Jan 15, 2024", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Use a plain decimal such as 1234.50", "VAL002"}},
	{"is required", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL003"}},
	{"missing required mapping", UserMessage{"A required field is not mapped to any column", "Map the field to a column and retry", "VAL004"}},
	{"column not found", UserMessage{"A mapped column is missing from the file", "Check the mapping against the file's header row", "VAL004"}},
	{"different existing record", UserMessage{"The row's email and phone belong to different existing records", "Fix the row so both keys identify the same record, or clear one of them", "VAL005"}},
	{"not an active user", UserMessage{"The given user does not exist or is inactive", "Pick an active user id", "VAL006"}},

	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{"file too large", UserMessage{"File exceeds the maximum size", "Split the file into smaller parts", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum size", "Split the file into smaller parts", "FILE001"}},
	{"parse error", UserMessage{"File is not a valid CSV", "Check quoting and the field delimiter", "FILE002"}},
	{"wrong number of fields", UserMessage{"File is not a valid CSV", "Check quoting and the field delimiter", "FILE002"}},
	{"bare \" in non-quoted", UserMessage{"File is not a valid CSV", "Check quoting and the field delimiter", "FILE002"}},
	{"unsupported file type", UserMessage{"File type is not supported", "Upload a CSV or XLSX file", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to import", "FILE004"}},
	{"empty file", UserMessage{"The file is empty", "Please upload a file with a header row", "FILE005"}},
	{"too many rows", UserMessage{"The file has more rows than one import allows", "Split the file and import the parts separately", "FILE006"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
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

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
