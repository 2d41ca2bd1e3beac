package core

// error_messages.go maps errors to user-facing messages with a code that
// support staff can look up.
//
// # Import Errors (IMP001-IMP099)
//
// Pipeline outcomes, matched with errors.Is:
//
//	IMP001 - Invalid request: the source is missing, unreadable or empty
//	IMP002 - Unsupported format: no loader handles the file type
//	IMP003 - Empty result: the import produced no rows
//	IMP004 - Conversion failed: an external converter reported failure
//	IMP005 - Name collision: another import claimed the table name
//	IMP006 - Busy: too many imports are running
//
// # Database Errors (DB001-DB099)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE003 - Encoding error
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// Kinds are checked before patterns. Patterns are matched case-insensitively
// with strings.Contains and the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorKind struct {
	target error
	msg    UserMessage
}

// errorKinds maps sentinel errors to user messages.
var errorKinds = []errorKind{
	{ErrInvalidRequest, UserMessage{
		Message: "The import source could not be read",
		Action:  "Check that the file or URL exists and is not empty",
		Code:    "IMP001",
	}},
	{ErrUnsupportedFormat, UserMessage{
		Message: "The file format is not supported",
		Action:  "Upload a CSV, spreadsheet, shapefile, KML, GeoJSON, GeoTIFF or a zip of one",
		Code:    "IMP002",
	}},
	{ErrEmptyResult, UserMessage{
		Message: "The import produced no rows",
		Action:  "Check that the file contains data rows",
		Code:    "IMP003",
	}},
	{ErrConversionFailure, UserMessage{
		Message: "The file could not be converted",
		Action:  "Check the run log for the converter output",
		Code:    "IMP004",
	}},
	{ErrNameCollision, UserMessage{
		Message: "The table name was taken by another import",
		Action:  "Please try again",
		Code:    "IMP005",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers faults that carry no sentinel, mostly driver errors.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "invalid utf-8",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Known sentinels
// are checked first, then message patterns; ERR000 is the fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
