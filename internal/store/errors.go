package store

import (
	"errors"
	"fmt"
)

// Protocol-level rejections. Storage failures are wrapped with the failed
// step instead of mapped onto these.
var (
	ErrInvalidSignature = errors.New("store: invalid signature")
	ErrAccessDenied     = errors.New("store: access denied")
	ErrDidResolution    = errors.New("store: identity resolution failed")
	ErrSchemaValidation = errors.New("store: schema validation failed")
	ErrVersionMismatch  = errors.New("store: declared version does not match applied operations")
	ErrRecordID         = errors.New("store: record id does not match creator and nonce")
	ErrBlobTooLarge     = errors.New("store: blob exceeds maximum size")
	ErrBlobCorrupt      = errors.New("store: blob content does not match its id")
	ErrSchemaNotFound   = errors.New("store: referenced schema blob not found")
)

// schemaError keeps the validator's error chain reachable behind
// ErrSchemaValidation.
type schemaError struct {
	container string
	err       error
}

func (e *schemaError) Error() string {
	return fmt.Sprintf("store: schema validation failed: container %s: %v", e.container, e.err)
}

func (e *schemaError) Unwrap() []error {
	return []error{ErrSchemaValidation, e.err}
}
