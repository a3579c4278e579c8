// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry is a short lived value held by a Store: a nonce, or a state paired
// with its nonce.
type Entry struct {
	// Key is the nonce or state value.
	Key string `json:"key"`

	// Value is the nonce paired with a state, and is empty for a nonce.
	Value string `json:"value,omitempty"`

	// Attempt correlates the entries and log lines of one authentication
	// attempt.
	Attempt string `json:"attempt"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true when now is after the entry's expiry.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store holds nonce and state entries between the redirect to the provider
// and its callback.  Implementations must be safe for concurrent use.
type Store interface {
	// Put stores a new entry.  An existing entry with the same key is never
	// replaced and ErrDuplicateEntry is returned.
	Put(ctx context.Context, e *Entry) error

	// Take atomically looks up and removes the entry for key.  When it's
	// called concurrently for the same key, only one caller gets the entry.
	// ErrNotFound is returned when there's no entry.  An expired entry is
	// still returned until it's swept, so callers can report the expiry.
	Take(ctx context.Context, key string) (*Entry, error)

	// Sweep removes entries that expired before now and returns how many
	// were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

// Put stores a new entry.
func (s *MemoryStore) Put(_ context.Context, e *Entry) error {
	const op = "MemoryStore.Put"
	if e == nil {
		return fmt.Errorf("%s: entry is nil: %w", op, ErrNilParameter)
	}
	if e.Key == "" {
		return fmt.Errorf("%s: entry key is empty: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Key]; ok {
		return fmt.Errorf("%s: %w", op, ErrDuplicateEntry)
	}
	s.entries[e.Key] = *e
	return nil
}

// Take atomically looks up and removes the entry for key.
func (s *MemoryStore) Take(_ context.Context, key string) (*Entry, error) {
	const op = "MemoryStore.Take"
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	delete(s.entries, key)
	return &e, nil
}

// Sweep removes entries that expired before now.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.IsExpired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
