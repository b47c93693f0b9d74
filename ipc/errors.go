package ipc

import "fmt"

// Code is the closed error taxonomy surfaced to callers.
type Code int

const (
	Ok Code = iota
	Failure
	Retry
	Busy
	Fatal
	Invalid
	Unsupported
	Parse
	Range
	NoMem
	NoConn
	NoData
	NoEntry
	Config
	Remote
	Expected
	Timeout
)

var codeNames = [...]string{
	Ok:          "ok",
	Failure:     "failure",
	Retry:       "retry",
	Busy:        "busy",
	Fatal:       "fatal",
	Invalid:     "invalid",
	Unsupported: "unsupported",
	Parse:       "parse",
	Range:       "range",
	NoMem:       "no-mem",
	NoConn:      "no-conn",
	NoData:      "no-data",
	NoEntry:     "no-entry",
	Config:      "config",
	Remote:      "remote",
	Expected:    "expected",
	Timeout:     "timeout",
}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) || codeNames[c] == "" {
		return fmt.Sprintf("code(%d)", int(c))
	}
	return codeNames[c]
}

// Error pairs a taxonomy Code with a human-readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs an *Error. Message may be empty.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// RemoteCode is the closed set of application-level error codes an
// APPLICATION_ERROR frame's "_errorCode" string is mapped to.
type RemoteCode int

const (
	RemoteServiceError RemoteCode = iota
	RemoteResourceNotFound
	RemoteUnauthorized
	RemoteInvalidArguments
	RemoteFailedUpdateConditionCheck
	RemoteConflict
)

// remoteErrorCodes maps the known "_errorCode" strings a Greengrass IPC
// server sends to a closed RemoteCode. Unknown strings default to
// RemoteServiceError.
var remoteErrorCodes = map[string]RemoteCode{
	"ResourceNotFoundError":            RemoteResourceNotFound,
	"UnauthorizedError":                RemoteUnauthorized,
	"InvalidArgumentsError":            RemoteInvalidArguments,
	"ServiceError":                     RemoteServiceError,
	"FailedUpdateConditionCheckError":  RemoteFailedUpdateConditionCheck,
	"ConflictError":                    RemoteConflict,
}

// remoteCodeTaxonomy maps a RemoteCode to its counterpart in the Code
// taxonomy (e.g. ResourceNotFoundError maps to NoEntry). Call does not
// return this Code: its error always carries Remote, and the server's
// code reaches the caller as RemoteError.Code.
var remoteCodeTaxonomy = map[RemoteCode]Code{
	RemoteResourceNotFound:           NoEntry,
	RemoteUnauthorized:               Unsupported,
	RemoteInvalidArguments:           Invalid,
	RemoteServiceError:               Failure,
	RemoteFailedUpdateConditionCheck: Failure,
	RemoteConflict:                   Failure,
}

// mapRemoteErrorCode resolves a server "_errorCode" string to its
// RemoteCode and that RemoteCode's counterpart in the Code taxonomy.
func mapRemoteErrorCode(errorCode string) (RemoteCode, Code) {
	rc, ok := remoteErrorCodes[errorCode]
	if !ok {
		return RemoteServiceError, Failure
	}
	return rc, remoteCodeTaxonomy[rc]
}

// RemoteError is the side-channel payload of a Remote-coded Error: the
// server's own error code (both as the raw wire string and the mapped
// taxonomy) plus its message.
type RemoteError struct {
	WireCode string
	Code     RemoteCode
	Message  string
}
