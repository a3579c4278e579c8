// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotegate/oidcauth/oidc"
)

func newTestStore(t *testing.T, opt ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })
	s, err := New(rdb, opt...)
	require.NoError(t, err)
	return s, mini
}

func TestNew(t *testing.T) {
	t.Parallel()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { rdb.Close() })

	tests := []struct {
		name      string
		rdb       redis.UniversalClient
		opt       []Option
		wantIsErr error
	}{
		{name: "valid", rdb: rdb},
		{name: "valid-options", rdb: rdb, opt: []Option{WithKeyPrefix("gw:"), WithGrace(0)}},
		{name: "nil-client", wantIsErr: oidc.ErrNilParameter},
		{name: "negative-grace", rdb: rdb, opt: []Option{WithGrace(-time.Second)}, wantIsErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.rdb, tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func TestStore_PutTake(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, mini := newTestStore(t, WithKeyPrefix("gw:"))
	now := time.Now()
	e := &oidc.Entry{Key: "st_1", Value: "n_1", Attempt: "attempt-1", IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute)}

	require.NoError(s.Put(ctx, e))
	assert.True(mini.Exists("gw:st_1"))
	assert.Equal(11*time.Minute, mini.TTL("gw:st_1"))

	err := s.Put(ctx, &oidc.Entry{Key: "st_1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	require.Error(err)
	assert.True(errors.Is(err, oidc.ErrDuplicateEntry))

	got, err := s.Take(ctx, "st_1")
	require.NoError(err)
	assert.Equal(e.Key, got.Key)
	assert.Equal(e.Value, got.Value)
	assert.Equal(e.Attempt, got.Attempt)
	assert.True(e.IssuedAt.Equal(got.IssuedAt))
	assert.True(e.ExpiresAt.Equal(got.ExpiresAt))
	assert.False(mini.Exists("gw:st_1"))

	_, err = s.Take(ctx, "st_1")
	require.Error(err)
	assert.True(errors.Is(err, oidc.ErrNotFound))
}

func TestStore_PutInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Now()
	tests := []struct {
		name      string
		e         *oidc.Entry
		wantIsErr error
	}{
		{name: "nil", wantIsErr: oidc.ErrNilParameter},
		{name: "empty-key", e: &oidc.Entry{IssuedAt: now, ExpiresAt: now.Add(time.Minute)}, wantIsErr: oidc.ErrInvalidParameter},
		{name: "no-validity", e: &oidc.Entry{Key: "n_1", IssuedAt: now, ExpiresAt: now}, wantIsErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(ctx, tt.e)
			require.Error(t, err)
			assert.Truef(t, errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, mini := newTestStore(t, WithGrace(time.Minute))
	now := time.Now()
	require.NoError(s.Put(ctx, &oidc.Entry{Key: "n_1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(s.Put(ctx, &oidc.Entry{Key: "n_2", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))

	mini.FastForward(90 * time.Second)
	got, err := s.Take(ctx, "n_1")
	require.NoError(err, "found during the grace period")
	assert.True(got.IsExpired(now.Add(90 * time.Second)))

	mini.FastForward(time.Minute)
	_, err = s.Take(ctx, "n_2")
	assert.True(errors.Is(err, oidc.ErrNotFound))

	removed, err := s.Sweep(ctx, time.Now())
	require.NoError(err)
	assert.Equal(0, removed)
}

func TestStore_TakeConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Now()
	require.NoError(t, s.Put(ctx, &oidc.Entry{Key: "n_once", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))

	const callers = 20
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.Take(ctx, "n_once"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestStore_NonceRegistry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, mini := newTestStore(t)
	nonces, err := oidc.NewNonceRegistry(s, 10*time.Minute)
	require.NoError(err)

	n, err := nonces.Issue(ctx)
	require.NoError(err)
	require.NoError(nonces.Consume(ctx, n.Value))
	assert.True(errors.Is(nonces.Consume(ctx, n.Value), oidc.ErrNonceUnknown))

	// a second instance sharing the same redis sees the same nonces
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })
	other, err := New(rdb)
	require.NoError(err)
	otherNonces, err := oidc.NewNonceRegistry(other, 10*time.Minute)
	require.NoError(err)
	n, err = nonces.Issue(ctx)
	require.NoError(err)
	require.NoError(otherNonces.Consume(ctx, n.Value))
	assert.True(errors.Is(nonces.Consume(ctx, n.Value), oidc.ErrNonceUnknown))
}

func TestStore_Unavailable(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	ctx := context.Background()
	s, mini := newTestStore(t)
	mini.Close()

	now := time.Now()
	err := s.Put(ctx, &oidc.Entry{Key: "n_1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	assert.Error(err)
	assert.False(errors.Is(err, oidc.ErrDuplicateEntry))

	_, err = s.Take(ctx, "n_1")
	assert.Error(err)
	assert.False(errors.Is(err, oidc.ErrNotFound))
}

func TestStore_Flow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	p := oidc.StartTestProvider(t)
	mini := miniredis.RunT(t)

	// two gateway instances sharing one redis
	newFlow := func() *oidc.Flow {
		rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
		t.Cleanup(func() { rdb.Close() })
		s, err := New(rdb)
		require.NoError(err)
		f, err := oidc.NewFlow(oidc.TestConfig(t, p), oidc.WithStore(s), oidc.WithSweepInterval(0))
		require.NoError(err)
		t.Cleanup(f.Done)
		return f
	}
	begin, complete := newFlow(), newFlow()

	req, err := begin.BeginAuthentication(ctx)
	require.NoError(err)
	assert.True(mini.Exists(DefaultKeyPrefix + req.State))
	assert.True(mini.Exists(DefaultKeyPrefix + req.Nonce))

	state, token := oidc.TestAuthorize(t, p, req.URL)
	id, err := complete.CompleteAuthentication(ctx, state, token)
	require.NoError(err)
	assert.Equal("alice@example.com", id.Username())
	assert.Empty(mini.Keys())

	_, err = begin.CompleteAuthentication(ctx, state, token)
	require.Error(err)
	assert.True(errors.Is(err, oidc.ErrUnknownState))
}
