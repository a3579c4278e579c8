// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	sdkhttp "github.com/remotegate/oidcauth/sdk/http"
)

const (
	// DefaultCacheTTL is how long a fetched key set is trusted before it's
	// fetched again, even when every requested key id is present.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultFetchTimeout bounds a single key set fetch.
	DefaultFetchTimeout = 10 * time.Second

	// maxKeySetSize limits how much of a JWKS response body is read.
	maxKeySetSize = 1 << 20

	refreshKey = "jwks"
)

// KeySet represents a set of keys that can be used to verify the signatures of
// JWTs.
type KeySet interface {
	// Key returns the public verification key identified by keyID. An empty
	// keyID only resolves when the set holds exactly one signing key.
	Key(ctx context.Context, keyID string) (*jose.JSONWebKey, error)
}

// RemoteKeySet resolves verification keys from a JSON Web Key Set (JWKS) URL.
// Keys are cached and the whole set is replaced when a key id is missing or
// the cache is older than its TTL.  Concurrent refreshes share a single
// request.  It is safe for concurrent use.
type RemoteKeySet struct {
	jwksURL string
	client  *http.Client
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  hclog.Logger

	mu        sync.RWMutex
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time

	group singleflight.Group

	// backgroundCtx is the context used for key set fetches.  Fetches are not
	// bound to the ctx of whichever caller started them, since other callers
	// may be waiting on the same result.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

var _ KeySet = (*RemoteKeySet)(nil)

// NewRemoteKeySet creates a RemoteKeySet for the jwksURL.  No request is made
// until a key is requested.
//
// See RemoteKeySet.Done() which must be called to release resources.
//
// Supported options: WithHTTPClient, WithCacheTTL, WithFetchTimeout,
// WithLogger, WithNow
func NewRemoteKeySet(jwksURL string, opt ...Option) (*RemoteKeySet, error) {
	const op = "jwt.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withCacheTTL <= 0 {
		return nil, fmt.Errorf("%s: cache ttl must be greater than zero: %w", op, ErrInvalidParameter)
	}
	if opts.withFetchTimeout <= 0 {
		return nil, fmt.Errorf("%s: fetch timeout must be greater than zero: %w", op, ErrInvalidParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = sdkhttp.NewClient("", opts.withFetchTimeout); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteKeySet{
		jwksURL:             jwksURL,
		client:              client,
		ttl:                 opts.withCacheTTL,
		timeout:             opts.withFetchTimeout,
		now:                 opts.withNowFunc,
		logger:              opts.withLogger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}, nil
}

// Done releases the key set's background resources and cancels any fetch in
// progress.
func (ks *RemoteKeySet) Done() {
	if ks == nil || ks.backgroundCtxCancel == nil {
		return
	}
	ks.backgroundCtxCancel()
}

// Key returns the key identified by keyID, fetching the key set when the
// cache misses or is stale.  It returns ErrUnknownSigningKey when the key is
// absent after a fetch and ErrKeySetUnavailable when the key set can't be
// fetched.
func (ks *RemoteKeySet) Key(ctx context.Context, keyID string) (*jose.JSONWebKey, error) {
	const op = "RemoteKeySet.Key"
	if k, ok := ks.cached(keyID); ok {
		return k, nil
	}
	keys, err := ks.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	k, ok := lookupKey(keys, keyID)
	if !ok {
		return nil, fmt.Errorf("%s: key id %q not found in key set: %w", op, keyID, ErrUnknownSigningKey)
	}
	return k, nil
}

// cached returns the key when the cache is fresh and contains it.
func (ks *RemoteKeySet) cached(keyID string) (*jose.JSONWebKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.keys == nil || ks.now().Sub(ks.fetchedAt) > ks.ttl {
		return nil, false
	}
	return lookupKey(ks.keys, keyID)
}

// refresh fetches the key set, joining a fetch already in flight.  The wait
// honors ctx while the fetch itself is bounded by the fetch timeout.
func (ks *RemoteKeySet) refresh(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	const op = "RemoteKeySet.refresh"
	ch := ks.group.DoChan(refreshKey, func() (interface{}, error) {
		keys, err := ks.fetch()
		if err != nil {
			ks.logger.Warn("unable to fetch key set", "url", ks.jwksURL, "error", err)
			return nil, err
		}
		ks.mu.Lock()
		ks.keys = keys
		ks.fetchedAt = ks.now()
		ks.mu.Unlock()
		ks.logger.Debug("key set refreshed", "url", ks.jwksURL, "keys", len(keys))
		return keys, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: gave up waiting for key set: %w: %w", op, ErrKeySetUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		return res.Val.(map[string]jose.JSONWebKey), nil
	}
}

func (ks *RemoteKeySet) fetch() (map[string]jose.JSONWebKey, error) {
	const op = "RemoteKeySet.fetch"
	ctx, cancel := context.WithTimeout(ks.backgroundCtx, ks.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w: %w", op, ErrKeySetUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w: %w", op, ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w: %w", op, ErrKeySetUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d: %w", op, resp.StatusCode, ErrKeySetUnavailable)
	}
	keys, err := parseKeySet(body, ks.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrKeySetUnavailable, err)
	}
	return keys, nil
}

// parseKeySet decodes a JWKS document.  Keys go-jose can't decode are skipped
// so one unfamiliar key type doesn't take down the whole set.
func parseKeySet(data []byte, logger hclog.Logger) (map[string]jose.JSONWebKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode key set: %w", err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("key set has no keys member")
	}
	keys := make([]jose.JSONWebKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			logger.Debug("skipping undecodable key", "error", err)
			continue
		}
		keys = append(keys, k)
	}
	return signingKeys(keys), nil
}

// signingKeys indexes the public signature keys by key id.  Encryption and
// symmetric keys are dropped.
func signingKeys(keys []jose.JSONWebKey) map[string]jose.JSONWebKey {
	out := make(map[string]jose.JSONWebKey, len(keys))
	for _, k := range keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if _, symmetric := k.Key.([]byte); symmetric {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		if !k.Valid() {
			continue
		}
		if _, dup := out[k.KeyID]; dup {
			continue
		}
		out[k.KeyID] = k
	}
	return out
}

func lookupKey(keys map[string]jose.JSONWebKey, keyID string) (*jose.JSONWebKey, bool) {
	if keyID == "" {
		if len(keys) != 1 {
			return nil, false
		}
		for _, k := range keys {
			return &k, true
		}
	}
	k, ok := keys[keyID]
	if !ok {
		return nil, false
	}
	return &k, true
}

// StaticKeySet verifies JWT signatures using a fixed set of keys.
type StaticKeySet struct {
	keys map[string]jose.JSONWebKey
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet backed by the given keys.  Private keys are
// reduced to their public half.
func NewStaticKeySet(keys ...jose.JSONWebKey) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	set := signingKeys(keys)
	if len(set) == 0 {
		return nil, fmt.Errorf("%s: no usable signing keys: %w", op, ErrInvalidParameter)
	}
	return &StaticKeySet{keys: set}, nil
}

// Key returns the key identified by keyID.
func (ks *StaticKeySet) Key(_ context.Context, keyID string) (*jose.JSONWebKey, error) {
	const op = "StaticKeySet.Key"
	k, ok := lookupKey(ks.keys, keyID)
	if !ok {
		return nil, fmt.Errorf("%s: key id %q not found in key set: %w", op, keyID, ErrUnknownSigningKey)
	}
	return k, nil
}

// keySetOptions is the set of available options
type keySetOptions struct {
	withHTTPClient   *http.Client
	withCacheTTL     time.Duration
	withFetchTimeout time.Duration
	withLogger       hclog.Logger
	withNowFunc      func() time.Time
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withCacheTTL:     DefaultCacheTTL,
		withFetchTimeout: DefaultFetchTimeout,
		withLogger:       hclog.NewNullLogger(),
		withNowFunc:      time.Now,
	}
}

func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	return opts
}
