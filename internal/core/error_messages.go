package core

// error_messages.go maps pipeline errors to stable support codes.
//
// # Error Codes Reference
//
// Codes are chosen from the error kind first, then refined by message
// pattern for store connectivity problems.
//
//	SRC001 - Upstream: the downloads API failed or did not offer the version
//	         Action: Check SOURCE_API_BASE and retry later
//
//	SRC002 - Integrity: the archive checksum does not match the published md5
//	         Action: Delete the cached archive and retry
//
//	FILE001 - Extraction: the archive is corrupt or the expected folders are missing
//	          Action: Delete the cached archive and retry
//
//	FILE002 - IO: a source or artifact file is missing or unreadable
//	          Action: Check disk space and IMPORT_DIR permissions
//
//	FILE003 - Parse: a CSV header or row is malformed
//	          Action: Check the header schema against the source files
//
//	VAL001 - Validation: bad input shape or non-finite coordinates
//	         Action: Inspect the offending record and its source row
//
//	NF001 - Not found: unknown data source id or version
//	        Action: List the version to find valid ids
//
//	DB001 - Persistence: the store rejected a write
//	        Action: Check the store logs for constraint or syntax errors
//	DB002 - Connection refused (pattern "connection refused")
//	DB003 - Connection reset (pattern "connection reset")
//	DB004 - Timeout (patterns "timeout", "deadline exceeded")
//
//	RUN001 - A pass is already running
//	         Action: Wait for the active run to finish
//
//	ERR000 - Unknown error: check application logs
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var kindMessages = map[Kind]UserMessage{
	KindUpstream: {
		Message: "The downloads API request failed",
		Action:  "Check SOURCE_API_BASE and retry later",
		Code:    "SRC001",
	},
	KindIntegrity: {
		Message: "Downloaded archive failed checksum verification",
		Action:  "Delete the cached archive and retry",
		Code:    "SRC002",
	},
	KindExtraction: {
		Message: "The archive could not be extracted",
		Action:  "Delete the cached archive and retry",
		Code:    "FILE001",
	},
	KindIO: {
		Message: "A required file is missing or unreadable",
		Action:  "Check disk space and IMPORT_DIR permissions",
		Code:    "FILE002",
	},
	KindParse: {
		Message: "A CSV header or row is malformed",
		Action:  "Check the header schema against the source files",
		Code:    "FILE003",
	},
	KindValidation: {
		Message: "Input failed validation",
		Action:  "Inspect the offending record and its source row",
		Code:    "VAL001",
	},
	KindNotFound: {
		Message: "The requested data source was not found",
		Action:  "List the version to find valid ids",
		Code:    "NF001",
	},
	KindPersistence: {
		Message: "The store rejected the request",
		Action:  "Check the store logs for constraint or syntax errors",
		Code:    "DB001",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// connectivityPatterns refine persistence and unclassified errors.
var connectivityPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the store",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The store connection was interrupted",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Raise PIPELINE_STORE_TIMEOUT or try again later",
			Code:    "DB004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Raise PIPELINE_STORE_TIMEOUT or try again later",
			Code:    "DB004",
		},
	},
}

var runInProgressMessage = UserMessage{
	Message: "A pipeline run is already in progress",
	Action:  "Wait for the active run to finish",
	Code:    "RUN001",
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the application logs",
	Code:    "ERR000",
}

// MapError converts an error to a user-facing message with a support code.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if errors.Is(err, ErrRunInProgress) {
		return runInProgressMessage
	}

	kind := KindOf(err)
	if kind == KindPersistence || kind == KindUnknown {
		errStr := strings.ToLower(err.Error())
		for _, ep := range connectivityPatterns {
			if strings.Contains(errStr, ep.pattern) {
				return ep.msg
			}
		}
	}
	if msg, ok := kindMessages[kind]; ok {
		return msg
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
