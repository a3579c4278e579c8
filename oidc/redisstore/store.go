// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package redisstore provides an oidc.Store backed by Redis, so several
// gateway instances can share nonces and states: the callback of an attempt
// can be handled by a different instance than the one that began it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/remotegate/oidcauth/oidc"
)

const (
	// DefaultKeyPrefix is prepended to every entry's key.
	DefaultKeyPrefix = "oidcauth:"

	// DefaultGrace is how long an entry outlives its expiry in Redis, so that
	// it's still found and reported as expired rather than unknown.
	DefaultGrace = time.Minute
)

// Store is an oidc.Store backed by Redis.  Take uses GETDEL, so only one
// caller gets an entry even across instances.  Entries expire in Redis on
// their own, so Sweep has nothing to do.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	grace  time.Duration
}

var _ oidc.Store = (*Store)(nil)

// New creates a Store using the client.
//
// Supported options: WithKeyPrefix, WithGrace
func New(rdb redis.UniversalClient, opt ...Option) (*Store, error) {
	const op = "redisstore.New"
	if rdb == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	if opts.withGrace < 0 {
		return nil, fmt.Errorf("%s: grace is negative: %w", op, oidc.ErrInvalidParameter)
	}
	return &Store{
		rdb:    rdb,
		prefix: opts.withKeyPrefix,
		grace:  opts.withGrace,
	}, nil
}

// Put stores a new entry with SET NX.  Its Redis TTL is its validity plus the
// grace period.
func (s *Store) Put(ctx context.Context, e *oidc.Entry) error {
	const op = "Store.Put"
	if e == nil {
		return fmt.Errorf("%s: entry is nil: %w", op, oidc.ErrNilParameter)
	}
	if e.Key == "" {
		return fmt.Errorf("%s: entry key is empty: %w", op, oidc.ErrInvalidParameter)
	}
	validity := e.ExpiresAt.Sub(e.IssuedAt)
	if validity <= 0 {
		return fmt.Errorf("%s: entry expires before it's issued: %w", op, oidc.ErrInvalidParameter)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%s: unable to encode entry: %w", op, err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(e.Key), b, validity+s.grace).Result()
	switch {
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	case !ok:
		return fmt.Errorf("%s: %w", op, oidc.ErrDuplicateEntry)
	}
	return nil
}

// Take atomically gets and deletes the entry with GETDEL.
func (s *Store) Take(ctx context.Context, key string) (*oidc.Entry, error) {
	const op = "Store.Take"
	b, err := s.rdb.GetDel(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var e oidc.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%s: unable to decode entry: %w", op, err)
	}
	return &e, nil
}

// Sweep is a no-op: Redis removes entries when their TTL runs out.
func (s *Store) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}
