// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnsupportedAlg    = errors.New("unsupported signing algorithm")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUnknownSigningKey = errors.New("unknown signing key")
	ErrKeySetUnavailable = errors.New("key set unavailable")
)
