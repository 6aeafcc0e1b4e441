package store

import (
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Factory creates the binary store with the given name. Names are unique per
// cache scope, e.g. "777/Default/shared". Calling a factory twice with the
// same name returns a store over the same data.
type Factory func(name string) (BinaryStore, error)

// BinaryStore keeps byte payloads by cache identifier. Every identifier holds
// at most one payload; a put overwrites the previous one (last write wins).
//
// Absent entries are never an error: Get returns false and GetMany omits
// them. Implementations must be safe for concurrent use.
type BinaryStore interface {
	// Get returns the payload for id. The boolean reports whether it exists.
	Get(id uint64) (value []byte, loaded bool, err error)
	// GetMany returns the payloads of all ids that exist.
	GetMany(ids []uint64) (values map[uint64][]byte, err error)
	// Put stores value under id.
	Put(id uint64, value []byte) (err error)
	// PutMany stores every entry of values.
	PutMany(values map[uint64][]byte) (err error)
	// Delete destroys every entry of this store. The store stays usable and
	// behaves like a newly created, empty store afterward.
	Delete() (err error)
}

// --------------------------------------------------------------------------
// Base Implementations
// --------------------------------------------------------------------------

// GetEach implements GetMany as a loop over get.
func GetEach(get func(id uint64) ([]byte, bool, error), ids []uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte, len(ids))
	for _, id := range ids {
		v, ok, err := get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = v
		}
	}
	return out, nil
}

// PutEach implements PutMany as a loop over put.
func PutEach(put func(id uint64, value []byte) error, values map[uint64][]byte) error {
	for id, v := range values {
		if err := put(id, v); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the underlying cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a store error with the same code, so that
// errors.Is(err, store.ErrTransient) matches every transient failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new store error with the given code, message and cause.
func WrapError(code RetCode, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

// Sentinels for errors.Is, one per failure class.
var (
	ErrInternal    = NewError(RetCInternalError, "internal error")
	ErrUnsupported = NewError(RetCUnsupportedOperation, "unsupported operation")
	ErrInvalid     = NewError(RetCInvalidOperation, "invalid operation")
	ErrStopped     = NewError(RetCStopped, "store stopped")
	ErrTransient   = NewError(RetCTransient, "transient failure")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCStopped                             // 4: The store (or its worker) is stopped.
	RetCTransient                           // 5: The operation failed but the store keeps serving.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCStopped:
		return "Stopped"
	case RetCTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}
