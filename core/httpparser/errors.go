package httpparser

import (
	"errors"
	"unsafe"

	"github.com/liteworker/litehttpd/core"
)

const (
	maxMethodLen = 16
	maxPathLen   = 8192
)

var (
	errMalformedRequestLine = core.ErrInvalidRequest
	errMalformedHeader      = errors.New("malformed header line")
	errHeaderTooLarge       = errors.New("request header too large")
	errMethodTooLong        = core.ErrMethodTooLong
	errPathTooLong          = core.ErrPathTooLong
)

// unsafeString views b as a string without copying, the same trick the
// teacher's core/http/parser.go uses for zero-allocation field extraction.
// Safe here because req fields are only read before the next Parse call
// consumes new bytes into (and thereby potentially reallocates) raw_in.
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
