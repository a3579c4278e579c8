// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Put(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, &Entry{Key: "n_existing", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))

	tests := []struct {
		name      string
		e         *Entry
		wantIsErr error
	}{
		{
			name: "valid",
			e:    &Entry{Key: "n_valid", Attempt: "a", IssuedAt: now, ExpiresAt: now.Add(time.Minute)},
		},
		{
			name:      "nil-entry",
			wantIsErr: ErrNilParameter,
		},
		{
			name:      "empty-key",
			e:         &Entry{},
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "duplicate",
			e:         &Entry{Key: "n_existing", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
			wantIsErr: ErrDuplicateEntry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			err := s.Put(ctx, tt.e)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			got, err := s.Take(ctx, tt.e.Key)
			require.NoError(err)
			assert.Equal(tt.e, got)
		})
	}
}

func TestMemoryStore_Take(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()

	_, err := s.Take(ctx, "n_missing")
	require.Error(err)
	assert.True(errors.Is(err, ErrNotFound))

	expired := &Entry{Key: "n_expired", IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	require.NoError(s.Put(ctx, expired))
	got, err := s.Take(ctx, expired.Key)
	require.NoError(err)
	assert.True(got.IsExpired(now))

	_, err = s.Take(ctx, expired.Key)
	assert.True(errors.Is(err, ErrNotFound))
	assert.Equal(0, s.Len())
}

func TestMemoryStore_TakeConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, &Entry{Key: "n_once", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))

	const callers = 50
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		winners  atomic.Int32
		notFound atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Take(ctx, "n_once")
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(callers-1), notFound.Load())
}

func TestMemoryStore_Sweep(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	require.NoError(s.Put(ctx, &Entry{Key: "n_live", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(s.Put(ctx, &Entry{Key: "n_edge", IssuedAt: now, ExpiresAt: now}))
	require.NoError(s.Put(ctx, &Entry{Key: "n_old", IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Second)}))
	require.NoError(s.Put(ctx, &Entry{Key: "st_old", Value: "n_old", IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Second)}))

	removed, err := s.Sweep(ctx, now)
	require.NoError(err)
	assert.Equal(2, removed)
	assert.Equal(2, s.Len())

	_, err = s.Take(ctx, "n_live")
	assert.NoError(err)
	_, err = s.Take(ctx, "n_edge")
	assert.NoError(err)
}
