// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"

	"github.com/remotegate/oidcauth/jwt"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed = errors.New("id generation failed")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDiscoveryFailed   = errors.New("provider discovery failed")

	ErrNonceUnknown = errors.New("nonce unknown")
	ErrNonceExpired = errors.New("nonce expired")

	// Validation errors reject only the current authentication attempt.  They
	// are never retried; the caller must begin a new attempt.

	ErrMalformedToken       = jwt.ErrMalformedToken
	ErrInvalidSignature     = jwt.ErrInvalidSignature
	ErrIssuerMismatch       = errors.New("issuer mismatch")
	ErrAudienceMismatch     = errors.New("audience mismatch")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenNotYetValid     = errors.New("token not yet valid")
	ErrTokenTooOld          = errors.New("token too old")
	ErrNonceInvalid         = errors.New("invalid nonce")
	ErrUnknownState         = errors.New("unknown state")
	ErrMissingUsernameClaim = errors.New("missing username claim")

	// ErrUnknownSigningKey and ErrUnsupportedAlg are reported along with
	// ErrInvalidSignature.
	ErrUnknownSigningKey = jwt.ErrUnknownSigningKey
	ErrUnsupportedAlg    = jwt.ErrUnsupportedAlg

	// ErrKeySetUnavailable is a network failure fetching the provider's keys.
	// The attempt fails closed; a later attempt may succeed.
	ErrKeySetUnavailable = jwt.ErrKeySetUnavailable
)

var validationErrors = []error{
	ErrMalformedToken,
	ErrInvalidSignature,
	ErrIssuerMismatch,
	ErrAudienceMismatch,
	ErrTokenExpired,
	ErrTokenNotYetValid,
	ErrTokenTooOld,
	ErrNonceInvalid,
	ErrUnknownState,
	ErrMissingUsernameClaim,
}

// IsValidationError returns true when err rejected an attempt because of the
// token or state presented, as opposed to configuration or network failures.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
