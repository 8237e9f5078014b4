// Package dberrors provides the structured error type shared by every
// subsystem in coredb, plus the closed set of lock-subsystem failure codes
// named in the specification's error-handling design.
package dberrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory classifies errors by their nature and appropriate handling
// strategy.
type ErrorCategory int

const (
	// ErrCategoryUser represents errors caused by invalid caller input.
	ErrCategoryUser ErrorCategory = iota

	// ErrCategoryTransient represents errors that might succeed on retry.
	ErrCategoryTransient

	// ErrCategorySystem represents errors requiring administrator attention.
	ErrCategorySystem

	// ErrCategoryData represents data corruption or integrity violations.
	// ARIES fatal conditions (§7) are always this category.
	ErrCategoryData

	// ErrCategoryConcurrency represents lock/transaction conflicts.
	ErrCategoryConcurrency
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryUser:
		return "user"
	case ErrCategoryTransient:
		return "transient"
	case ErrCategorySystem:
		return "system"
	case ErrCategoryData:
		return "data"
	case ErrCategoryConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// DBError is a structured error carrying enough context to decide how the
// caller should react (retry, surface to the user, page an operator).
type DBError struct {
	Code      string
	Category  ErrorCategory
	Message   string
	Detail    string
	Hint      string
	Operation string
	Component string
	Cause     error
}

// New creates a DBError, capturing a stack trace via github.com/pkg/errors.
func New(category ErrorCategory, code, message string) *DBError {
	return &DBError{
		Code:     code,
		Category: category,
		Message:  message,
		Cause:    errors.New(message),
	}
}

// Wrap attaches operation/component context to err. If err is already a
// DBError, the context is filled in only where absent (the original wins).
func Wrap(err error, code, operation, component string) *DBError {
	if err == nil {
		return nil
	}

	if dbErr, ok := err.(*DBError); ok {
		if dbErr.Operation == "" {
			dbErr.Operation = operation
		}
		if dbErr.Component == "" {
			dbErr.Component = component
		}
		return dbErr
	}

	return &DBError{
		Code:      code,
		Category:  ErrCategorySystem,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     errors.WithStack(err),
	}
}

func (e *DBError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}
	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}
	return b.String()
}

func (e *DBError) Unwrap() error { return e.Cause }

// FormatStack renders the captured stack trace, when available, via
// github.com/pkg/errors' %+v formatting of the wrapped cause.
func (e *DBError) FormatStack() string {
	if e.Cause == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.Cause)
}

// --- Lock subsystem failure taxonomy (§7) ---

const (
	CodeDuplicateLockRequest = "DUPLICATE_LOCK_REQUEST"
	CodeNoLockHeld           = "NO_LOCK_HELD"
	CodeInvalidLock          = "INVALID_LOCK"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
)

// DuplicateLockRequest reports that the transaction already effectively
// holds the lock it tried to acquire or promote to.
func DuplicateLockRequest(component, detail string) *DBError {
	e := New(ErrCategoryConcurrency, CodeDuplicateLockRequest, "transaction already holds a sufficient lock")
	e.Component = component
	e.Detail = detail
	return e
}

// NoLockHeld reports that a release/promote/escalate targeted a resource
// the transaction does not hold a lock on.
func NoLockHeld(component, detail string) *DBError {
	e := New(ErrCategoryConcurrency, CodeNoLockHeld, "transaction holds no lock on the target resource")
	e.Component = component
	e.Detail = detail
	return e
}

// InvalidLock reports a multigranularity or substitutability violation.
func InvalidLock(component, detail string) *DBError {
	e := New(ErrCategoryConcurrency, CodeInvalidLock, "requested lock violates multigranularity rules")
	e.Component = component
	e.Detail = detail
	return e
}

// UnsupportedOperation reports a mutation attempted on a readonly context.
func UnsupportedOperation(component, detail string) *DBError {
	e := New(ErrCategoryConcurrency, CodeUnsupportedOperation, "operation not supported on this resource")
	e.Component = component
	e.Detail = detail
	return e
}

// --- ARIES fatal conditions (§7): returned as error values, not panics. ---

const (
	CodeCorruptedLog    = "CORRUPTED_LOG"
	CodeMissingMaster   = "MISSING_MASTER_RECORD"
	CodeUnterminatedLog = "UNTERMINATED_RECORD_CHAIN"
	CodeBadCLR          = "CLR_UNDO_NEXT_OUT_OF_ORDER"
)

// Fatal builds an ErrCategoryData DBError for an unrecoverable log
// inconsistency. pkg/log returns it as an ordinary error value (from its
// record reader and ReadMaster) and pkg/recovery passes it up to the
// caller; nothing in the module panics with it. CodeBadCLR is defined but
// no check produces it.
func Fatal(code, component, detail string) *DBError {
	e := New(ErrCategoryData, code, "unrecoverable recovery-log inconsistency")
	e.Component = component
	e.Detail = detail
	return e
}
