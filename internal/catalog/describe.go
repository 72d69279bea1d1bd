package catalog

// describe.go maps technical errors to short coded messages stored in the
// run audit details, so operators reading the run history can look up what
// went wrong without the raw driver text.
//
// Codes by group:
//
//	DB001-DB099     database constraints and connectivity
//	FEED001-FEED099 reading and parsing the feed
//	RUN001-RUN099   run orchestration (lock, schema, cancellation)
//	ERR000          fallback, check the logs for the raw error
//
// Patterns are matched case-insensitively with strings.Contains against the
// full error chain text. The first match wins, so specific patterns come
// before general ones.

import (
	"fmt"
	"strings"
)

// Message is a coded description of an error.
type Message struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     Message
}

var errorPatterns = []errorPattern{
	// Database constraints
	{"duplicate key", Message{"A row with this key already exists", "Check the feed for duplicate codes", "DB001"}},
	{"violates unique", Message{"A unique value was repeated", "Check the feed for duplicate codes", "DB002"}},
	{"violates foreign key", Message{"Referenced row does not exist", "Check the write order and the parent rows", "DB003"}},
	{"violates not-null", Message{"A required column was empty", "Check the feed for missing values", "DB008"}},
	{"violates check constraint", Message{"A value was outside the allowed range", "Check quantities and MOQ values", "DB009"}},

	// Database connectivity
	{"connection refused", Message{"Unable to connect to database", "Retry once the database is reachable", "DB004"}},
	{"connection reset", Message{"Database connection was interrupted", "Retry the run", "DB005"}},
	{"deadlock", Message{"Database was busy with conflicting operations", "Retry the run", "DB007"}},
	{"could not serialize", Message{"Concurrent update conflict", "Retry the run", "DB010"}},

	// Feed
	{"unsupported feed root", Message{"Feed root element is not a supported envelope", "Check that the file is a supplier catalog export", "FEED001"}},
	{"xml syntax error", Message{"Feed is not well-formed XML", "Download the feed again", "FEED002"}},
	{"file too large", Message{"Feed exceeds the maximum file size", "Raise INGEST_MAX_FILE_SIZE or use a record limit", "FEED003"}},
	{"no such file", Message{"Feed file not found", "Check the source path", "FEED004"}},

	// Run
	{"already in progress", Message{"Another run is importing the same feed", "Wait for it to finish", "RUN001"}},
	{"schema mismatch", Message{"Destination schema is missing required tables or columns", "Run the migrate command", "RUN002"}},
	{"context canceled", Message{"Run was cancelled", "Start a new run when ready", "RUN003"}},
	{"context deadline exceeded", Message{"Run timed out", "Use a record limit or raise the timeout", "RUN004"}},
	{"timeout", Message{"Operation timed out", "Retry the run", "DB006"}},
}

var defaultMessage = Message{
	Message: "An unexpected error occurred",
	Action:  "Check the application logs",
	Code:    "ERR000",
}

// Describe returns the coded message for err. A nil error yields a zero Message.
func Describe(err error) Message {
	if err == nil {
		return Message{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatError renders err as "Message (Code: XXX). Action".
func FormatError(err error) string {
	msg := Describe(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
