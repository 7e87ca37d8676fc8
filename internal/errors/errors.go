// Package errors defines the typed failure taxonomy shared by the ledger,
// the agent registry and the vault. Every failure carries a stable Code and
// belongs to exactly one Kind, so callers can choose a corrective action
// (approve more allowance, pick another id, give up) without string matching.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a failure uniquely across the engine.
type Code string

// Kind groups codes by the corrective action available to the caller.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindResource      Kind = "resource"
	KindInput         Kind = "input"
	KindInternal      Kind = "internal"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeNotOwner              Code = "NOT_OWNER"
	CodeAlreadyRegistered     Code = "ALREADY_REGISTERED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeNotActive             Code = "NOT_ACTIVE"
	CodeDuplicateBinding      Code = "DUPLICATE_BINDING"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
	CodeInsufficientReserve   Code = "INSUFFICIENT_RESERVE"
	CodeSupplyCeilingExceeded Code = "SUPPLY_CEILING_EXCEEDED"
	CodeZeroDeposit           Code = "ZERO_DEPOSIT"
	CodeZeroAmount            Code = "ZERO_AMOUNT"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeReentrantCall         Code = "REENTRANT_CALL"
	CodeOverflow              Code = "OVERFLOW"
)

// Attributes describe the default behaviour of a code.
type Attributes struct {
	Message   string
	Kind      Kind
	Retryable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Kind: KindInternal},
		CodeUnauthorized:          {Message: "caller is not authorized", Kind: KindAuthorization},
		CodeNotOwner:              {Message: "caller is not the agent owner", Kind: KindAuthorization},
		CodeAlreadyRegistered:     {Message: "agent already registered", Kind: KindState},
		CodeNotFound:              {Message: "agent not found", Kind: KindState},
		CodeNotActive:             {Message: "agent is not active", Kind: KindState},
		CodeDuplicateBinding:      {Message: "wallet already bound to an agent", Kind: KindState},
		CodeInsufficientBalance:   {Message: "insufficient balance", Kind: KindResource, Retryable: true},
		CodeInsufficientAllowance: {Message: "insufficient allowance", Kind: KindResource, Retryable: true},
		CodeInsufficientReserve:   {Message: "insufficient reserve", Kind: KindResource, Retryable: true},
		CodeSupplyCeilingExceeded: {Message: "max supply exceeded", Kind: KindResource, Retryable: true},
		CodeZeroDeposit:           {Message: "deposit must be positive", Kind: KindInput},
		CodeZeroAmount:            {Message: "amount must be positive", Kind: KindInput},
		CodeInvalidArgument:       {Message: "invalid argument", Kind: KindInput},
		CodeReentrantCall:         {Message: "reentrant call", Kind: KindAuthorization},
		CodeOverflow:              {Message: "arithmetic overflow", Kind: KindResource},
	}
)

// Sentinels for errors.Is matching. Comparison is by code, so a sentinel
// matches every *Error carrying the same code regardless of message.
var (
	ErrUnauthorized          = New(CodeUnauthorized, "")
	ErrNotOwner              = New(CodeNotOwner, "")
	ErrAlreadyRegistered     = New(CodeAlreadyRegistered, "")
	ErrNotFound              = New(CodeNotFound, "")
	ErrNotActive             = New(CodeNotActive, "")
	ErrDuplicateBinding      = New(CodeDuplicateBinding, "")
	ErrInsufficientBalance   = New(CodeInsufficientBalance, "")
	ErrInsufficientAllowance = New(CodeInsufficientAllowance, "")
	ErrInsufficientReserve   = New(CodeInsufficientReserve, "")
	ErrSupplyCeilingExceeded = New(CodeSupplyCeilingExceeded, "")
	ErrZeroDeposit           = New(CodeZeroDeposit, "")
	ErrZeroAmount            = New(CodeZeroAmount, "")
	ErrInvalidArgument       = New(CodeInvalidArgument, "")
	ErrReentrantCall         = New(CodeReentrantCall, "")
	ErrOverflow              = New(CodeOverflow, "")
)

// Register lets a package add a code at init time.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes registered for code, falling back to
// CodeUnknown.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the engine's typed failure.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option configures an Error.
type Option func(*Error)

// WithMetadata attaches a key/value detail, e.g. the amounts involved.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New creates an Error. An empty message uses the registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new Error.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Kind() Kind {
	return AttributesOf(e.Code()).Kind
}

func (e *Error) Retryable() bool {
	return AttributesOf(e.Code()).Retryable
}

// Metadata returns a copy of the attached details.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From extracts the *Error from an error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind()
	}
	return KindInternal
}

// Is is a re-export of the standard errors.Is so callers importing this
// package under the name "errors" keep access to it.
func Is(err, target error) bool {
	return stdErrors.Is(err, target)
}

// As re-exports the standard errors.As.
func As(err error, target any) bool {
	return stdErrors.As(err, target)
}
