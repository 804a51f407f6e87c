package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Codes by category:
//
//	STORE001-STORE005  identity store constraint and connectivity errors
//	VAL001-VAL002      row validation
//	FILE001-FILE006    source file problems (header, delimiter, encoding, size, missing)
//	JOB001-JOB003      job lifecycle
//	AUTH001-AUTH002    access to a group import
//	RATE001            request rate limiting
//	ERR000             fallback; check the logs for the technical error

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAccessDenied is returned when the acting account may not import into a group.
var ErrAccessDenied = errors.New("access denied")

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // what happened
	Action  string // what to do about it
	Code    string // support reference
}

// sentinelMessages are matched with errors.Is before any pattern.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrHeaderMismatch, UserMessage{
		Message: "The file header does not match the import template",
		Action:  "Download the template and make sure the first row lists the eight columns in order",
		Code:    "FILE001",
	}},
	{ErrEmptySource, UserMessage{
		Message: "The file is empty",
		Action:  "Upload a file with a header row and at least one data row",
		Code:    "FILE002",
	}},
	{ErrUnsupportedDelimiter, UserMessage{
		Message: "Unsupported delimiter",
		Action:  "Choose ';' or ',' as the delimiter",
		Code:    "FILE003",
	}},
	{ErrUnsupportedEncoding, UserMessage{
		Message: "Unsupported file encoding",
		Action:  "Save the file as UTF-8 or configure a supported encoding",
		Code:    "FILE004",
	}},
	{ErrMissingFile, UserMessage{
		Message: "No file was uploaded",
		Action:  "Attach the CSV file in the 'file' form field",
		Code:    "FILE006",
	}},
	{ErrTooManyJobs, UserMessage{
		Message: "Too many imports are running",
		Action:  "Please wait a moment and try again",
		Code:    "JOB001",
	}},
	{ErrJobNotFound, UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired; start a new one",
		Code:    "JOB002",
	}},
	{ErrUsernameExhausted, UserMessage{
		Message: "No free username could be derived from the email",
		Action:  "Create the account manually and re-import the row",
		Code:    "JOB003",
	}},
	{ErrAccessDenied, UserMessage{
		Message: "You may not import members into this group",
		Action:  "Ask a group manager or an administrator to run the import",
		Code:    "AUTH001",
	}},
	{ErrGroupNotFound, UserMessage{
		Message: "Group not found",
		Action:  "Check the group in the import address",
		Code:    "AUTH002",
	}},
}

// errorPatterns maps substrings of technical errors (case-insensitive) to
// messages. The first match wins, so specific patterns come first.
var errorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"duplicate key", UserMessage{
		Message: "An account with this email or username already exists",
		Action:  "Download the failed rows to review duplicates",
		Code:    "STORE001",
	}},
	{"violates unique", UserMessage{
		Message: "An account with this email or username already exists",
		Action:  "Download the failed rows to review duplicates",
		Code:    "STORE001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to the identity store",
		Action:  "Please try again in a few moments",
		Code:    "STORE002",
	}},
	{"connection reset", UserMessage{
		Message: "The identity store connection was interrupted",
		Action:  "Please try again",
		Code:    "STORE003",
	}},
	{"deadlock", UserMessage{
		Message: "The identity store was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "STORE005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "STORE004",
	}},
	{"deadline exceeded", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "STORE004",
	}},
	{"invalid email", UserMessage{
		Message: "The row has no valid email address",
		Action:  "Correct the email column and re-import the row",
		Code:    "VAL001",
	}},
	{"expected 8 columns", UserMessage{
		Message: "The row has too few columns",
		Action:  "Make sure every row has all eight columns",
		Code:    "VAL002",
	}},
	{"request body too large", UserMessage{
		Message: "The file is too large",
		Action:  "Split the file and import the parts separately",
		Code:    "FILE005",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
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

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
