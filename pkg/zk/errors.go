package zk

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds surfaced to callers (spec §7), mapped
// from the server's int32 error codes.
type Code int32

const (
	CodeOK Code = 0

	// CodeSystemError buckets RuntimeInconsistency, DataInconsistency,
	// ConnectionLoss, MarshallingError, Unimplemented, OperationTimeout,
	// BadArguments, and APIError: the server returned one of a family of
	// internal-error subcodes that callers generally handle the same way.
	CodeSystemError Code = -1

	CodeNoNode                  Code = -101
	CodeNoAuth                  Code = -102
	CodeBadVersion              Code = -103
	CodeNoChildrenForEphemerals Code = -108
	CodeNodeExists              Code = -110
	CodeNotEmpty                Code = -111
	CodeSessionExpired          Code = -112
	CodeInvalidACL              Code = -114
	CodeAuthFailed              Code = -115
	CodeInvalidCallback         Code = -116
	CodeSessionMoved            Code = -118

	// Local, non-wire error kinds.
	CodeInvalidPath      Code = -1000 - iota
	CodeConnectionLost
	CodeDecodeError
	CodeUnknownError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeSystemError:
		return "SystemError"
	case CodeNoNode:
		return "NoNode"
	case CodeNoAuth:
		return "NoAuth"
	case CodeBadVersion:
		return "BadVersion"
	case CodeNoChildrenForEphemerals:
		return "NoChildrenForEphemerals"
	case CodeNodeExists:
		return "NodeExists"
	case CodeNotEmpty:
		return "NotEmpty"
	case CodeSessionExpired:
		return "SessionExpired"
	case CodeInvalidACL:
		return "InvalidACL"
	case CodeAuthFailed:
		return "AuthFailed"
	case CodeInvalidCallback:
		return "InvalidCallback"
	case CodeSessionMoved:
		return "SessionMoved"
	case CodeInvalidPath:
		return "InvalidPath"
	case CodeConnectionLost:
		return "ConnectionLost"
	case CodeDecodeError:
		return "DecodeError"
	case CodeUnknownError:
		return "UnknownError"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// Error is returned by every public API method on failure. It always
// carries the caller's original, pre-chroot client path (spec §7).
type Error struct {
	Code  Code
	Path  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("zkgo: %s %q: %v", e.Code, e.Path, e.Cause)
	}
	return fmt.Sprintf("zkgo: %s %q", e.Code, e.Path)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is a *Error with the same Code, so callers can
// write errors.Is(err, zk.ErrNoNode) style checks against the sentinels
// below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func newErr(code Code, path string, cause error) *Error {
	return &Error{Code: code, Path: path, Cause: cause}
}

// Sentinel errors for errors.Is comparisons against a bare Code, e.g.
// errors.Is(err, zk.ErrNoNode).
var (
	ErrNoNode                  = &Error{Code: CodeNoNode}
	ErrNoAuth                  = &Error{Code: CodeNoAuth}
	ErrBadVersion              = &Error{Code: CodeBadVersion}
	ErrNoChildrenForEphemerals = &Error{Code: CodeNoChildrenForEphemerals}
	ErrNodeExists              = &Error{Code: CodeNodeExists}
	ErrNotEmpty                = &Error{Code: CodeNotEmpty}
	ErrSessionExpired          = &Error{Code: CodeSessionExpired}
	ErrInvalidACL              = &Error{Code: CodeInvalidACL}
	ErrAuthFailed              = &Error{Code: CodeAuthFailed}
	ErrInvalidCallback         = &Error{Code: CodeInvalidCallback}
	ErrSessionMoved            = &Error{Code: CodeSessionMoved}
	ErrInvalidPath             = &Error{Code: CodeInvalidPath}
	ErrConnectionLost          = &Error{Code: CodeConnectionLost}
	ErrSystemError             = &Error{Code: CodeSystemError}
)

// translateServerError maps a protocol err:int32 (spec §7) to a Code.
// Unknown codes become CodeUnknownError rather than panicking or being
// silently folded into CodeSystemError.
func translateServerError(err int32) Code {
	switch err {
	case 0:
		return CodeOK
	case -1, -2, -3, -4, -5, -6, -7, -8, -9, -13, -100:
		// RuntimeInconsistency(-2), DataInconsistency(-3), ConnectionLoss(-4),
		// MarshallingError(-5), Unimplemented(-6), OperationTimeout(-7),
		// BadArguments(-8), APIError(-100 in some encodings, bucketed here too)
		return CodeSystemError
	case -101:
		return CodeNoNode
	case -102:
		return CodeNoAuth
	case -103:
		return CodeBadVersion
	case -108:
		return CodeNoChildrenForEphemerals
	case -110:
		return CodeNodeExists
	case -111:
		return CodeNotEmpty
	case -112:
		return CodeSessionExpired
	case -114:
		return CodeInvalidACL
	case -115:
		return CodeAuthFailed
	case -116:
		return CodeInvalidCallback
	case -118:
		return CodeSessionMoved
	default:
		return CodeUnknownError
	}
}
