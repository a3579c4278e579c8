// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package redisstore

import "time"

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

// WithKeyPrefix provides an optional prefix for the Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyPrefix = prefix
		}
	}
}

// WithGrace provides an optional period entries outlive their expiry in
// Redis.
func WithGrace(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withGrace = d
		}
	}
}

// options is the set of available options
type options struct {
	withKeyPrefix string
	withGrace     time.Duration
}

func getDefaultOptions() options {
	return options{
		withKeyPrefix: DefaultKeyPrefix,
		withGrace:     DefaultGrace,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}
