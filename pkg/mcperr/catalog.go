// Package mcperr defines the canonical error codes surfaced at the workbook
// command API boundary (see SPEC_FULL.md, Error Handling Design) and a small
// catalog of retry/next-step guidance for each.
package mcperr

import (
	"fmt"
)

// Code identifies a canonical error category returned by the core's public API.
type Code string

const (
	// Validation & input.
	Validation           Code = "VALIDATION"
	InvalidHandle        Code = "INVALID_HANDLE"
	InvalidSheet         Code = "INVALID_SHEET"
	UnknownSheet         Code = "UNKNOWN_SHEET"
	InvalidRange         Code = "INVALID_RANGE"
	RangeDimensionTooBig Code = "RANGE_DIMENSION_TOO_LARGE"
	RangeTooLarge        Code = "RANGE_TOO_LARGE"
	CursorInvalid        Code = "CURSOR_INVALID"

	// Resource & limits.
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	FileTooLarge    Code = "FILE_TOO_LARGE"
	StepLimit       Code = "STEP_LIMIT"

	// Graph.
	CycleDetected Code = "CYCLE_DETECTED"

	// Package / OPC.
	MissingPart     Code = "MISSING_PART"
	InvalidTarget   Code = "INVALID_TARGET"
	OrphanRelsPart  Code = "ORPHAN_RELS_PART"
	DanglingRelID   Code = "DANGLING_RELATIONSHIP_ID"
	MalformedXML    Code = "MALFORMED_XML"
	CorruptWorkbook Code = "CORRUPT_WORKBOOK"

	// Crypto.
	InvalidPassword       Code = "INVALID_PASSWORD"
	IntegrityCheckFailed  Code = "INTEGRITY_CHECK_FAILED"
	InvalidKeyLength      Code = "INVALID_KEY_LENGTH"
	TruncatedPrefix       Code = "TRUNCATED_PREFIX"
	TruncatedSegment      Code = "TRUNCATED_SEGMENT"
	CiphertextNotAligned  Code = "CIPHERTEXT_NOT_BLOCK_ALIGNED"
	OrigSizeTooLarge      Code = "ORIG_SIZE_TOO_LARGE"
	UnsupportedEncryption Code = "UNSUPPORTED_ENCRYPTION"
	InvalidFormat         Code = "INVALID_FORMAT"
	CryptoError           Code = "CRYPTO_ERROR"
	AllocationFailed      Code = "ENCRYPTED_PACKAGE_ALLOCATION_FAILED"

	// Sandbox.
	PermissionDenied Code = "PERMISSION_DENIED"

	// IO & formats (kept from the host layer this core sits behind).
	OpenFailed  Code = "OPEN_FAILED"
	WriteFailed Code = "WRITE_FAILED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

var catalog = map[Code]Entry{
	Validation:           {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs and retry"}},
	InvalidHandle:        {Code: InvalidHandle, Message: "workbook handle not found or expired", Retryable: true, NextSteps: []string{"Reopen the workbook and retry"}},
	InvalidSheet:         {Code: InvalidSheet, Message: "sheet name is invalid", Retryable: true},
	UnknownSheet:         {Code: UnknownSheet, Message: "sheet not found", Retryable: true, NextSteps: []string{"List sheets to verify the name"}},
	InvalidRange:         {Code: InvalidRange, Message: "range is malformed or inverted", Retryable: true},
	RangeDimensionTooBig: {Code: RangeDimensionTooBig, Message: "range exceeds the per-axis dimension limit", Retryable: true, NextSteps: []string{"Narrow the range"}},
	RangeTooLarge:        {Code: RangeTooLarge, Message: "range exceeds the total cell count limit per call", Retryable: true, NextSteps: []string{"Split the call into smaller ranges"}},
	CursorInvalid:        {Code: CursorInvalid, Message: "cursor is invalid for the current context", Retryable: true},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded its configured time limit", Retryable: true},
	LimitExceeded:   {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds the configured size", Retryable: true},
	FileTooLarge:    {Code: FileTooLarge, Message: "file exceeds the configured size", Retryable: false},
	StepLimit:       {Code: StepLimit, Message: "sandboxed script exceeded its step budget", Retryable: false},

	CycleDetected: {Code: CycleDetected, Message: "circular reference detected", Retryable: false, NextSteps: []string{"Break the cycle and recalculate"}},

	MissingPart:     {Code: MissingPart, Message: "required OPC part is missing", Retryable: false},
	InvalidTarget:   {Code: InvalidTarget, Message: "relationship target does not resolve to an existing part", Retryable: false},
	OrphanRelsPart:  {Code: OrphanRelsPart, Message: "relationships part has no corresponding source part", Retryable: false},
	DanglingRelID:   {Code: DanglingRelID, Message: "r:id or o:relid does not resolve to a relationship", Retryable: false},
	MalformedXML:    {Code: MalformedXML, Message: "part contains malformed XML", Retryable: false},
	CorruptWorkbook: {Code: CorruptWorkbook, Message: "workbook package is corrupt or unreadable", Retryable: false},

	InvalidPassword:       {Code: InvalidPassword, Message: "password verification failed", Retryable: false},
	IntegrityCheckFailed:  {Code: IntegrityCheckFailed, Message: "HMAC integrity check failed", Retryable: false},
	InvalidKeyLength:      {Code: InvalidKeyLength, Message: "key length is not supported", Retryable: false},
	TruncatedPrefix:       {Code: TruncatedPrefix, Message: "EncryptedPackage size prefix is truncated", Retryable: false},
	TruncatedSegment:      {Code: TruncatedSegment, Message: "ciphertext segment is truncated", Retryable: false},
	CiphertextNotAligned:  {Code: CiphertextNotAligned, Message: "ciphertext segment is not block-aligned", Retryable: false},
	OrigSizeTooLarge:      {Code: OrigSizeTooLarge, Message: "declared plaintext size exceeds the ciphertext", Retryable: false},
	UnsupportedEncryption: {Code: UnsupportedEncryption, Message: "unsupported cipher, chaining mode, or key size", Retryable: false},
	InvalidFormat:         {Code: InvalidFormat, Message: "encryption descriptor is malformed", Retryable: false},
	CryptoError:           {Code: CryptoError, Message: "cryptographic operation failed", Retryable: false},
	AllocationFailed:      {Code: AllocationFailed, Message: "refused to allocate a plaintext buffer for the requested size", Retryable: false},

	PermissionDenied: {Code: PermissionDenied, Message: "sandboxed script attempted an operation outside its granted permissions", Retryable: false},

	OpenFailed:  {Code: OpenFailed, Message: "failed to open workbook", Retryable: true},
	WriteFailed: {Code: WriteFailed, Message: "failed to write workbook", Retryable: false},
}

// Error is a canonical, catalog-backed error carrying a Code plus contextual detail.
type Error struct {
	Code    Code
	Detail  string
	wrapped error
}

func (e *Error) Error() string {
	entry, ok := catalog[e.Code]
	msg := e.Detail
	if msg == "" && ok {
		msg = entry.Message
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Retryable reports whether the catalog marks this code as safe to retry.
func (e *Error) Retryable() bool {
	return catalog[e.Code].Retryable
}

// NextSteps returns catalog guidance for this code, if any.
func (e *Error) NextSteps() []string {
	return catalog[e.Code].NextSteps
}

// New constructs a catalog-backed error with a detail string.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs a catalog-backed error that wraps an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), wrapped: err}
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		ce, ok := err.(*Error)
		if ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Code, true
}

// Is reports whether err is (or wraps) an *Error with the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
