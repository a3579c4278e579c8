// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/remotegate/oidcauth/jwt"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for: NewFlow, NewNonceRegistry, NewStateRegistry and NewValidator.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *flowOptions:
			v.withNowFunc = now
		case *registryOptions:
			v.withNowFunc = now
		case *validatorOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger for: NewFlow, NewValidator,
// NewClaimMapper and Discover.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *flowOptions:
			v.withLogger = l
		case *validatorOptions:
			v.withLogger = l
		case *mapperOptions:
			v.withLogger = l
		case *discoveryOptions:
			v.withLogger = l
		}
	}
}

// WithPrefix provides an optional prefix for a new ID.  When this options is
// provided, NewID will prepend the prefix and an underscore to the new ID.
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*idOptions); ok {
			o.withPrefix = prefix
		}
	}
}

// WithStore provides an optional Store for nonces and state pairings, for:
// NewFlow.  MemoryStore is used when it's not provided.
func WithStore(s Store) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withStore = s
		}
	}
}

// WithKeySet provides an optional KeySet used to verify id_token signatures,
// for: NewFlow.  A jwt.RemoteKeySet for the configured JWKS endpoint is used
// when it's not provided.
func WithKeySet(ks jwt.KeySet) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withKeySet = ks
		}
	}
}

// WithSweepInterval provides an optional interval between sweeps of expired
// store entries, for: NewFlow.  An interval that isn't positive disables
// the sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withSweepInterval = d
		}
	}
}

// WithHTTPClient provides an optional http client, for: Discover.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*discoveryOptions); ok {
			o.withHTTPClient = c
		}
	}
}
