// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const statePrefix = "st"

// State is the opaque value sent to the provider in the authorization request
// and returned with its callback.  It identifies the attempt and the nonce the
// returned id_token must carry.  The state and nonce values are always
// independent.
type State struct {
	Value     string
	Nonce     string
	Attempt   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// StateRegistry pairs states with nonces between the redirect to the
// provider and the callback.  Each state can be taken once.
type StateRegistry struct {
	store    Store
	validity time.Duration
	now      func() time.Time
}

// NewStateRegistry creates a registry whose states are valid for validity.
//
// Supported options: WithNow
func NewStateRegistry(s Store, validity time.Duration, opt ...Option) (*StateRegistry, error) {
	const op = "oidc.NewStateRegistry"
	if s == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	if validity <= 0 {
		return nil, fmt.Errorf("%s: validity must be greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getRegistryOpts(opt...)
	return &StateRegistry{
		store:    s,
		validity: validity,
		now:      opts.withNowFunc,
	}, nil
}

// Issue mints a new state paired with the nonce and stores the pairing.
func (r *StateRegistry) Issue(ctx context.Context, n *Nonce) (*State, error) {
	const op = "StateRegistry.Issue"
	if n == nil {
		return nil, fmt.Errorf("%s: nonce is nil: %w", op, ErrNilParameter)
	}
	if n.Value == "" {
		return nil, fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	value, err := NewID(WithPrefix(statePrefix))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := r.now()
	st := &State{
		Value:     value,
		Nonce:     n.Value,
		Attempt:   n.Attempt,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.validity),
	}
	if err := r.store.Put(ctx, &Entry{
		Key:       st.Value,
		Value:     st.Nonce,
		Attempt:   st.Attempt,
		IssuedAt:  st.IssuedAt,
		ExpiresAt: st.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("%s: unable to store state: %w", op, err)
	}
	return st, nil
}

// Take removes the state and returns it with its paired nonce.  A state that
// is unknown, already taken or expired fails with ErrUnknownState.
func (r *StateRegistry) Take(ctx context.Context, value string) (*State, error) {
	const op = "StateRegistry.Take"
	if !strings.HasPrefix(value, statePrefix+"_") {
		return nil, fmt.Errorf("%s: not a state: %w", op, ErrUnknownState)
	}
	e, err := r.store.Take(ctx, value)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownState)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st := &State{
		Value:     e.Key,
		Nonce:     e.Value,
		Attempt:   e.Attempt,
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	}
	if e.IsExpired(r.now()) {
		return st, fmt.Errorf("%s: expired at %s: %w", op, e.ExpiresAt.Format(time.RFC3339), ErrUnknownState)
	}
	return st, nil
}
