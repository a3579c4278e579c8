// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"
)

const noncePrefix = "n"

// Nonce is a one time value bound to a single authentication attempt.  It's
// sent to the provider in the authorization request and must come back in the
// id_token's "nonce" claim.
type Nonce struct {
	Value     string
	Attempt   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NonceRegistry issues nonces and consumes each of them at most once.  It's
// safe for concurrent use, provided its Store is.
type NonceRegistry struct {
	store    Store
	validity time.Duration
	now      func() time.Time
}

// NewNonceRegistry creates a registry whose nonces are valid for validity.
//
// Supported options: WithNow
func NewNonceRegistry(s Store, validity time.Duration, opt ...Option) (*NonceRegistry, error) {
	const op = "oidc.NewNonceRegistry"
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	if validity <= 0 {
		return nil, fmt.Errorf("%s: validity must be greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getRegistryOpts(opt...)
	return &NonceRegistry{
		store:    s,
		validity: validity,
		now:      opts.withNowFunc,
	}, nil
}

// Issue mints a new nonce for a new authentication attempt and stores it.
func (r *NonceRegistry) Issue(ctx context.Context) (*Nonce, error) {
	const op = "NonceRegistry.Issue"
	value, err := NewID(WithPrefix(noncePrefix))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	attempt, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate attempt id: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	now := r.now()
	n := &Nonce{
		Value:     value,
		Attempt:   attempt,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.validity),
	}
	if err := r.store.Put(ctx, &Entry{
		Key:       n.Value,
		Attempt:   n.Attempt,
		IssuedAt:  n.IssuedAt,
		ExpiresAt: n.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("%s: unable to store nonce: %w", op, err)
	}
	return n, nil
}

// Consume removes the nonce and succeeds only for the first caller, and only
// while the nonce is valid.  It returns ErrNonceUnknown when the nonce was
// never issued, was already consumed or was swept, and ErrNonceExpired when
// it's found after its expiry.  An expired nonce is removed all the same.
func (r *NonceRegistry) Consume(ctx context.Context, value string) error {
	const op = "NonceRegistry.Consume"
	if !strings.HasPrefix(value, noncePrefix+"_") {
		return fmt.Errorf("%s: not a nonce: %w", op, ErrNonceUnknown)
	}
	e, err := r.store.Take(ctx, value)
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNonceUnknown)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	case e.IsExpired(r.now()):
		return fmt.Errorf("%s: expired at %s: %w", op, e.ExpiresAt.Format(time.RFC3339), ErrNonceExpired)
	}
	return nil
}

// Revoke removes an unconsumed nonce.  Revoking an unknown nonce isn't an
// error.
func (r *NonceRegistry) Revoke(ctx context.Context, value string) error {
	const op = "NonceRegistry.Revoke"
	if !strings.HasPrefix(value, noncePrefix+"_") {
		return nil
	}
	if _, err := r.store.Take(ctx, value); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// registryOptions is the set of available options for NonceRegistry and
// StateRegistry.
type registryOptions struct {
	withNowFunc func() time.Time
}

func registryDefaults() registryOptions {
	return registryOptions{withNowFunc: time.Now}
}

func getRegistryOpts(opt ...Option) registryOptions {
	opts := registryDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}
