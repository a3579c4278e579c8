// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
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

// WithHTTPClient provides an optional http client used to fetch a key set.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithCacheTTL provides an optional duration a fetched key set is trusted
// before it's fetched again.
func WithCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withCacheTTL = d
		}
	}
}

// WithFetchTimeout provides an optional bound on a single key set fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withFetchTimeout = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*keySetOptions); ok {
			o.withNowFunc = now
		}
	}
}
