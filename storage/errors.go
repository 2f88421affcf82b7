package storage

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Error codes (stable, reported through LastError and the monitor)
// -----------------------------------------------------------------------------

// Code identifies a storage failure. The numeric values are stable and are
// what the monitor reports for a medium's last error.
type Code uint8

const (
	CodeNone Code = iota
	CodeParam
	CodeBusInit
	CodeBusType
	CodeBusCfgAlloc
	CodeExtDevObj
	CodeModuleType
	CodeModuleInit
	CodeModuleAPI
	CodeRead
	CodeWrite
	CodeErase
	CodeNameMatched
	CodeSlotHeader
	CodeExternalNotAvailable
	CodeInternalNotAvailable
	CodeClass
	CodeRWAPI
	CodeNoEnoughSpace
	CodeDataInfo
	CodeDataSizeOverrange
	CodeBaseInfoUpdate
	CodeDataAddrUpdate
	CodeFreeSlotUpdate
	CodeFreeSlotGet
	CodeFreeSlotAddr
	CodeItemInfo
	CodeCRC
	CodeUpdateDataSize
	CodeNameNotFound
	CodeTableCorrupt
	CodeFormatExhausted
	CodeInvalidHandle
)

var codeNames = [...]string{
	CodeNone:                 "none",
	CodeParam:                "invalid parameter",
	CodeBusInit:              "bus init failed",
	CodeBusType:              "unsupported bus type",
	CodeBusCfgAlloc:          "bus config allocation failed",
	CodeExtDevObj:            "external device descriptor missing",
	CodeModuleType:           "unsupported or mismatched chip",
	CodeModuleInit:           "chip init failed",
	CodeModuleAPI:            "chip driver incomplete",
	CodeRead:                 "read failed",
	CodeWrite:                "write failed",
	CodeErase:                "erase failed",
	CodeNameMatched:          "name already exists",
	CodeSlotHeader:           "bad slot header",
	CodeExternalNotAvailable: "external flash not available",
	CodeInternalNotAvailable: "internal flash not available",
	CodeClass:                "invalid class",
	CodeRWAPI:                "read/write api missing",
	CodeNoEnoughSpace:        "not enough space",
	CodeDataInfo:             "bad data info",
	CodeDataSizeOverrange:    "data size out of range",
	CodeBaseInfoUpdate:       "flash info update failed",
	CodeDataAddrUpdate:       "item data address update failed",
	CodeFreeSlotUpdate:       "free list update failed",
	CodeFreeSlotGet:          "free list read failed",
	CodeFreeSlotAddr:         "bad free node address",
	CodeItemInfo:             "bad item record",
	CodeCRC:                  "checksum mismatch",
	CodeUpdateDataSize:       "data size update failed",
	CodeNameNotFound:         "name not found",
	CodeTableCorrupt:         "item table corrupted",
	CodeFormatExhausted:      "format retries exhausted",
	CodeInvalidHandle:        "invalid handle",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Kind classifies codes so callers can branch on intent rather than text.
type Kind int

const (
	KindNone     Kind = iota
	KindParam         // caller error: bad medium, class, name, handle or size
	KindBus           // external bus or chip could not be brought up
	KindCorrupt       // tag, checksum or structural mismatch on flash
	KindCapacity      // not enough free space
	KindNotFound      // name not present
	KindFatal         // medium degraded for the engine's lifetime
	KindIO            // a flash operation failed or did not verify
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindParam:
		return "param"
	case KindBus:
		return "bus"
	case KindCorrupt:
		return "corrupt"
	case KindCapacity:
		return "capacity"
	case KindNotFound:
		return "not-found"
	case KindFatal:
		return "fatal"
	case KindIO:
		return "io"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kind returns the category of c.
func (c Code) Kind() Kind {
	switch c {
	case CodeNone:
		return KindNone
	case CodeParam, CodeClass, CodeDataSizeOverrange, CodeInvalidHandle, CodeNameMatched,
		CodeExternalNotAvailable, CodeInternalNotAvailable:
		return KindParam
	case CodeBusInit, CodeBusType, CodeBusCfgAlloc, CodeExtDevObj,
		CodeModuleType, CodeModuleInit, CodeModuleAPI, CodeRWAPI:
		return KindBus
	case CodeSlotHeader, CodeDataInfo, CodeFreeSlotAddr, CodeItemInfo, CodeCRC, CodeTableCorrupt:
		return KindCorrupt
	case CodeNoEnoughSpace:
		return KindCapacity
	case CodeNameNotFound:
		return KindNotFound
	case CodeFormatExhausted:
		return KindFatal
	default:
		return KindIO
	}
}

// -----------------------------------------------------------------------------
// Error
// -----------------------------------------------------------------------------

// Error is returned by every failing engine operation.
type Error struct {
	Op     string // engine operation, e.g. "save"
	Medium Medium
	Code   Code
	Err    error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("storage: %s %s: %s", e.Op, e.Medium, e.Code)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so the Err* sentinels work
// with errors.Is regardless of operation and medium.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Kind returns the category of the error's code.
func (e *Error) Kind() Kind { return e.Code.Kind() }

// CodeOf extracts the code from err, CodeNone for nil and CodeRead for a
// foreign error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeRead
}

// Sentinels for errors.Is.
var (
	ErrParam           = &Error{Code: CodeParam}
	ErrNameMatched     = &Error{Code: CodeNameMatched}
	ErrNameNotFound    = &Error{Code: CodeNameNotFound}
	ErrTableCorrupt    = &Error{Code: CodeTableCorrupt}
	ErrNoEnoughSpace   = &Error{Code: CodeNoEnoughSpace}
	ErrSizeOverrange   = &Error{Code: CodeDataSizeOverrange}
	ErrInvalidHandle   = &Error{Code: CodeInvalidHandle}
	ErrCRC             = &Error{Code: CodeCRC}
	ErrItemInfo        = &Error{Code: CodeItemInfo}
	ErrSlotHeader      = &Error{Code: CodeSlotHeader}
	ErrFormatExhausted = &Error{Code: CodeFormatExhausted}
	ErrModuleType      = &Error{Code: CodeModuleType}
	ErrModuleInit      = &Error{Code: CodeModuleInit}
)

var errWrongClass = errors.New("entry class does not match its section")
