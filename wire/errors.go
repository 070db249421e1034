// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "fmt"

// ErrorCode is the single byte carried by an ERROR message. The numeric
// values are part of the wire format; append new codes at the end.
type ErrorCode uint8

const (
	// ObjectRegistryUnavailable: an instance-method call arrived but no
	// object resolver is configured.
	ObjectRegistryUnavailable ErrorCode = iota
	// TargetObjectNotFound: the object id did not resolve.
	TargetObjectNotFound
	// FunctionIndexOutOfRange: a compact index beyond the local registry.
	FunctionIndexOutOfRange
	// FunctionNotRegistered: no function under that name.
	FunctionNotRegistered
	// FunctionNoLongerRegistered: the slot was unregistered.
	FunctionNoLongerRegistered
	// CallingInstanceMethodAsStatic: registered as an instance method but
	// the call carried no object id.
	CallingInstanceMethodAsStatic
	// CallingStaticAsInstanceMethod: registered as a free function but the
	// call carried an object id.
	CallingStaticAsInstanceMethod
	// PayloadTooLargeForScratch: the parameters do not fit local capacity.
	PayloadTooLargeForScratch
	// DecodeFailure: inconsistent headers, truncated data, a signature
	// mismatch or no dispatch shape that fits.
	DecodeFailure
)

var errorCodeNames = [...]string{
	ObjectRegistryUnavailable:     "object registry unavailable",
	TargetObjectNotFound:          "target object not found",
	FunctionIndexOutOfRange:       "function index out of range",
	FunctionNotRegistered:         "function not registered",
	FunctionNoLongerRegistered:    "function no longer registered",
	CallingInstanceMethodAsStatic: "calling instance method as static",
	CallingStaticAsInstanceMethod: "calling static function as instance method",
	PayloadTooLargeForScratch:     "payload too large for scratch",
	DecodeFailure:                 "decode failure",
}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("error code %d", uint8(c))
}

// Error lets a code travel through ordinary error returns, so callers can
// test with errors.Is(err, wire.DecodeFailure).
func (c ErrorCode) Error() string {
	return "autorpc: " + c.String()
}

// Valid reports whether c is a known code.
func (c ErrorCode) Valid() bool {
	return int(c) < len(errorCodeNames)
}
