// Package errs defines the error taxonomy shared by every tz subsystem.
//
// Every package boundary returns *Error (or wraps one via fmt.Errorf with
// %w) so the command layer can map a failure to a stable exit code and a
// single-line, user-facing message without re-deriving what went wrong.
package errs

import "fmt"

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindNetwork         Kind = "NetworkError"
	KindAuthRequired    Kind = "AuthRequired"
	KindTokenExpired    Kind = "TokenExpired"
	KindPackageNotFound Kind = "PackageNotFound"
	KindVersionConflict Kind = "VersionConflict"
	KindVersionYanked   Kind = "VersionYanked"
	KindNoCandidates    Kind = "NoCandidates"
	KindIntegrity       Kind = "IntegrityMismatch"
	KindInvalidPackage  Kind = "InvalidPackage"
	KindInvalidArgument Kind = "InvalidArgument"
	KindConfigInvalid   Kind = "ConfigInvalid"
	KindStorage         Kind = "StorageError"
	KindSecurity        Kind = "SecurityViolation"
	KindFileNotFound    Kind = "FileNotFound"
	KindToolNotFound    Kind = "ToolNotFound"
	KindToolOutputParse Kind = "ToolOutputParseError"
	KindUnknown         Kind = "UnknownError"
)

// exitCodes maps each Kind to the process exit code the command layer
// should use. Unlisted kinds fall back to 1 (KindUnknown's code).
var exitCodes = map[Kind]int{
	KindNetwork:         10,
	KindAuthRequired:    11,
	KindTokenExpired:    11,
	KindPackageNotFound: 12,
	KindVersionConflict: 13,
	KindVersionYanked:   13,
	KindNoCandidates:    13,
	KindIntegrity:       14,
	KindInvalidPackage:  15,
	KindInvalidArgument: 16,
	KindConfigInvalid:   17,
	KindStorage:         18,
	KindSecurity:        19,
	KindFileNotFound:    20,
	KindToolNotFound:    21,
	KindToolOutputParse: 22,
	KindUnknown:         1,
}

// ExitCode returns the deterministic process exit code for k.
func ExitCode(k Kind) int {
	if code, ok := exitCodes[k]; ok {
		return code
	}
	return 1
}

// Error is the structured error type carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnknown if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindUnknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Warning is a non-fatal condition surfaced alongside a successful result
// (e.g. a retained yanked version, a duplicate MCP server name).
type Warning struct {
	Kind    Kind
	Message string
}

func (w Warning) String() string { return w.Message }
