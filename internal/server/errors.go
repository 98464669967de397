// Package server applies push requests and answers pulls against the
// durable store.
//
// Push processing is transactional: either every applicable mutation of a
// request commits, or none do. Two of the protocol's outcomes are not
// errors at all — a mutation below the client's watermark is silently
// skipped (idempotent replay) and a sequence gap simply ends processing
// early, awaiting a correctly ordered retry.
package server

import (
	"errors"
	"fmt"
)

// PushErrorCode categorizes push rejections.
type PushErrorCode string

const (
	// CodeUnauthorized: the session cannot access the targeted map.
	CodeUnauthorized PushErrorCode = "UNAUTHORIZED"

	// CodeMultipleMaps: the push's mutations target more than one map.
	// One push is one map; the whole request is rejected.
	CodeMultipleMaps PushErrorCode = "MULTIPLE_MAPS"

	// CodeUnknownMutation: a mutation name neither side of the wire knows.
	CodeUnknownMutation PushErrorCode = "UNKNOWN_MUTATION"

	// CodeSchemaMismatch: the client speaks a different wire schema.
	CodeSchemaMismatch PushErrorCode = "SCHEMA_MISMATCH"

	// CodeMapNotFound: the targeted map row does not exist.
	CodeMapNotFound PushErrorCode = "MAP_NOT_FOUND"
)

// PushError is a categorized push/pull rejection. Nothing was committed
// when one of these is returned.
type PushError struct {
	Code    PushErrorCode
	Message string
}

// Error implements the error interface.
func (e *PushError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsAuthError reports whether err is an authorization rejection, which is
// retry-blocking for the client. Uses errors.As to handle wrapped errors.
func IsAuthError(err error) bool {
	var pe *PushError
	if errors.As(err, &pe) {
		return pe.Code == CodeUnauthorized || pe.Code == CodeMapNotFound
	}
	return false
}

// IsClientError reports whether err is any categorized rejection, as
// opposed to an internal failure.
func IsClientError(err error) bool {
	var pe *PushError
	return errors.As(err, &pe)
}

func newPushError(code PushErrorCode, format string, args ...any) *PushError {
	return &PushError{Code: code, Message: fmt.Sprintf(format, args...)}
}
