package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrConfig          = fmt.Errorf("invalid reference data")
	ErrUnknownPin      = fmt.Errorf("unknown pin")
	ErrUnknownSensor   = fmt.Errorf("unknown sensor")
	ErrUnknownGroup    = fmt.Errorf("unknown pin group")
	ErrUnknownIface    = fmt.Errorf("unknown sensor interface")
	ErrPinConflict     = fmt.Errorf("pin already in use")
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionLimit    = fmt.Errorf("session limit reached")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrDecryption      = fmt.Errorf("decryption failed")
	ErrEncryption      = fmt.Errorf("encryption operation failed")
	ErrAuditWrite      = fmt.Errorf("audit log write failed")
	ErrHistoryStore    = fmt.Errorf("history store failed")

	// Gateway / RPC errors.
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Trainer.Connect")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "catalog", "history"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ConfigError reports malformed or inconsistent reference data. It is fatal:
// a catalog that produces one is never used to build a session.
type ConfigError struct {
	Source   string
	Problems []string
}

func (e *ConfigError) Error() string {
	src := e.Source
	if src == "" {
		src = "catalog"
	}
	return fmt.Sprintf("%s: %s:\n  - %s", src, ErrConfig, strings.Join(e.Problems, "\n  - "))
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Add appends a problem.
func (e *ConfigError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasProblems reports whether any problem was recorded.
func (e *ConfigError) HasProblems() bool { return len(e.Problems) > 0 }

// ConflictError is returned when a connect would reuse an MCU pin that a
// different sensor pin already holds. The store is left untouched.
type ConflictError struct {
	McuPin    string
	Attempted string
	Owner     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot connect %s to %s: pin already in use by %s", e.Attempted, e.McuPin, e.Owner)
}

func (e *ConflictError) Unwrap() error { return ErrPinConflict }

// UnknownPinError is returned by catalog lookups for absent MCU pins.
type UnknownPinError struct {
	Name string
}

func (e *UnknownPinError) Error() string {
	return fmt.Sprintf("%s %q", ErrUnknownPin, e.Name)
}

func (e *UnknownPinError) Unwrap() error { return ErrUnknownPin }

// ErrorCode is a machine-parseable error category for RPC clients and logs.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeConfig            ErrorCode = "CONFIG_INVALID"
	CodeUnknownPin        ErrorCode = "UNKNOWN_PIN"
	CodeUnknownSensor     ErrorCode = "UNKNOWN_SENSOR"
	CodeUnknownGroup      ErrorCode = "UNKNOWN_GROUP"
	CodeUnknownIface      ErrorCode = "UNKNOWN_INTERFACE"
	CodePinConflict       ErrorCode = "PIN_CONFLICT"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimit      ErrorCode = "SESSION_LIMIT"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeAuditWrite        ErrorCode = "AUDIT_WRITE"
	CodeHistoryStore      ErrorCode = "HISTORY_STORE"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAttemptNotFound ErrorCode = "ATTEMPT_NOT_FOUND"
	CodeCatalogDup      ErrorCode = "CATALOG_DUPLICATE"

	// Category error codes: the fallback when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,

	ErrConfig:            CodeConfig,
	ErrUnknownPin:        CodeUnknownPin,
	ErrUnknownSensor:     CodeUnknownSensor,
	ErrUnknownGroup:      CodeUnknownGroup,
	ErrUnknownIface:      CodeUnknownIface,
	ErrPinConflict:       CodePinConflict,
	ErrSessionNotFound:   CodeSessionNotFound,
	ErrSessionLimit:      CodeSessionLimit,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrEncryption:        CodeEncryption,
	ErrAuditWrite:        CodeAuditWrite,
	ErrHistoryStore:      CodeHistoryStore,
	ErrGatewayAuthFailed: CodeGatewayAuth,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrRPCMethodNotFound: CodeRPCMethodNotFound,
	ErrRPCInvalidPayload: CodeRPCInvalidPayload,
	ErrRateLimit:         CodeRateLimit,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"history": CodeAttemptNotFound,
		"session": CodeSessionNotFound,
	},
	ErrDuplicate: {
		"catalog": CodeCatalogDup,
	},
	ErrLimitReached: {
		"session": CodeSessionLimit,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Typed errors unwrap to a single sentinel; check them before the map walk
	// so the more specific code wins over an outer wrapper's.
	var ce *ConflictError
	if errors.As(err, &ce) {
		return CodePinConflict
	}
	var ue *UnknownPinError
	if errors.As(err, &ue) {
		return CodeUnknownPin
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return CodeConfig
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
