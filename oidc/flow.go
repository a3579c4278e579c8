// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/remotegate/oidcauth/jwt"
	sdkhttp "github.com/remotegate/oidcauth/sdk/http"
)

// DefaultSweepInterval is how often a Flow removes expired nonces and states
// from its store.
const DefaultSweepInterval = time.Minute

// AuthRequest is the outcome of beginning an authentication attempt: where to
// redirect the end user, and the values the callback must bring back.
type AuthRequest struct {
	// URL is the provider's authorization endpoint with the request
	// parameters.
	URL string

	State     string
	Nonce     string
	Attempt   string
	ExpiresAt time.Time
}

// Flow authenticates end users with the provider's id_token flow.  Every
// attempt starts with BeginAuthentication and ends with a single call to
// CompleteAuthentication, which either returns the identity or rejects the
// attempt.  A rejected attempt can't be resumed; the end user must begin a new
// one.  It's safe for concurrent use and attempts are independent.
type Flow struct {
	config    *Config
	oauth     *oauth2.Config
	store     Store
	nonces    *NonceRegistry
	states    *StateRegistry
	validator *Validator
	now       func() time.Time
	logger    hclog.Logger

	// ownedKeySet is the key set created by NewFlow, which must be released
	// by Done.
	ownedKeySet *jwt.RemoteKeySet

	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
	sweeper             sync.WaitGroup
	doneOnce            sync.Once
}

// NewFlow creates a Flow for a copy of the config.  Unless options say
// otherwise, it fetches signing keys from the config's JWKS endpoint and keeps
// nonces and states in a MemoryStore that's swept every
// DefaultSweepInterval.
//
// See Flow.Done() which must be called to release resources.
//
// Supported options: WithStore, WithKeySet, WithSweepInterval, WithNow,
// WithLogger
func NewFlow(c *Config, opt ...Option) (*Flow, error) {
	const op = "oidc.NewFlow"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c = c.Clone()
	opts := getFlowOpts(opt...)
	logger := opts.withLogger.Named("flow")

	f := &Flow{
		config: c,
		oauth: &oauth2.Config{
			ClientID:    c.ClientID,
			RedirectURL: c.RedirectURI,
			Endpoint:    oauth2.Endpoint{AuthURL: c.AuthorizationEndpoint},
			Scopes:      strings.Fields(c.Scope),
		},
		store:  opts.withStore,
		now:    opts.withNowFunc,
		logger: logger,
	}
	if f.store == nil {
		f.store = NewMemoryStore()
	}

	ks := opts.withKeySet
	if ks == nil {
		client, err := sdkhttp.NewClient(c.ProviderCA, c.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w: %w", op, ErrInvalidCACert, err)
		}
		remote, err := jwt.NewRemoteKeySet(c.JWKSEndpoint,
			jwt.WithHTTPClient(client),
			jwt.WithCacheTTL(c.JWKSCacheTTL),
			jwt.WithFetchTimeout(c.HTTPTimeout),
			jwt.WithNow(opts.withNowFunc),
			jwt.WithLogger(opts.withLogger.Named("keyset")),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		f.ownedKeySet, ks = remote, remote
	}

	var err error
	if f.nonces, err = NewNonceRegistry(f.store, c.MaxNonceValidity, WithNow(opts.withNowFunc)); err != nil {
		f.ownedKeySet.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if f.states, err = NewStateRegistry(f.store, c.MaxNonceValidity, WithNow(opts.withNowFunc)); err != nil {
		f.ownedKeySet.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if f.validator, err = NewValidator(c, ks, f.nonces, WithNow(opts.withNowFunc), WithLogger(logger)); err != nil {
		f.ownedKeySet.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	f.backgroundCtx, f.backgroundCtxCancel = context.WithCancel(context.Background())
	if opts.withSweepInterval > 0 {
		f.sweeper.Add(1)
		go f.sweep(opts.withSweepInterval)
	}
	return f, nil
}

// Done stops the flow's background work and releases its resources.
func (f *Flow) Done() {
	f.doneOnce.Do(func() {
		f.backgroundCtxCancel()
		f.sweeper.Wait()
		f.ownedKeySet.Done()
	})
}

// Config returns a copy of the flow's configuration.
func (f *Flow) Config() *Config {
	return f.config.Clone()
}

// BeginAuthentication starts a new attempt: it mints a nonce and an
// independent state, pairs them for the max nonce validity, and returns the
// authorization URL the end user must be redirected to.
func (f *Flow) BeginAuthentication(ctx context.Context) (*AuthRequest, error) {
	const op = "Flow.BeginAuthentication"
	n, err := f.nonces.Issue(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st, err := f.states.Issue(ctx, n)
	if err != nil {
		if rErr := f.nonces.Revoke(ctx, n.Value); rErr != nil {
			f.logger.Warn("unable to revoke nonce", "attempt", n.Attempt, "error", rErr)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authURL := f.oauth.AuthCodeURL(st.Value,
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("nonce", n.Value),
	)
	f.logger.Debug("authentication started", "attempt", n.Attempt)
	return &AuthRequest{
		URL:       authURL,
		State:     st.Value,
		Nonce:     n.Value,
		Attempt:   n.Attempt,
		ExpiresAt: st.ExpiresAt,
	}, nil
}

// CompleteAuthentication finishes the attempt identified by state with the
// id_token the provider returned.  The state can only be used once:
// ErrUnknownState is returned when it's unknown, already used or expired.
// Otherwise the id_token is validated against the nonce paired with the state
// and the specific validation error is returned when it's rejected.
func (f *Flow) CompleteAuthentication(ctx context.Context, state string, raw IdToken) (*AuthenticatedIdentity, error) {
	const op = "Flow.CompleteAuthentication"
	st, err := f.states.Take(ctx, state)
	if err != nil {
		attempt := ""
		if st != nil {
			attempt = st.Attempt
			f.revoke(ctx, st)
		}
		f.logger.Warn("authentication rejected", "attempt", attempt, "reason", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := f.validator.Validate(ctx, raw, st.Nonce)
	if err != nil {
		f.revoke(ctx, st)
		f.logger.Warn("authentication rejected", "attempt", st.Attempt, "reason", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Info("authenticated", "attempt", st.Attempt, "username", id.Username())
	return id, nil
}

// Sweep removes expired nonces and states from the flow's store.
func (f *Flow) Sweep(ctx context.Context) (int, error) {
	const op = "Flow.Sweep"
	n, err := f.store.Sweep(ctx, f.now())
	if err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (f *Flow) revoke(ctx context.Context, st *State) {
	if err := f.nonces.Revoke(ctx, st.Nonce); err != nil {
		f.logger.Warn("unable to revoke nonce", "attempt", st.Attempt, "error", err)
	}
}

func (f *Flow) sweep(interval time.Duration) {
	defer f.sweeper.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.backgroundCtx.Done():
			return
		case <-ticker.C:
			n, err := f.Sweep(f.backgroundCtx)
			switch {
			case err != nil:
				f.logger.Warn("unable to sweep store", "error", err)
			case n > 0:
				f.logger.Debug("swept expired entries", "removed", n)
			}
		}
	}
}

// flowOptions is the set of available options
type flowOptions struct {
	withStore         Store
	withKeySet        jwt.KeySet
	withSweepInterval time.Duration
	withNowFunc       func() time.Time
	withLogger        hclog.Logger
}

func flowDefaults() flowOptions {
	return flowOptions{
		withSweepInterval: DefaultSweepInterval,
		withNowFunc:       time.Now,
		withLogger:        hclog.NewNullLogger(),
	}
}

func getFlowOpts(opt ...Option) flowOptions {
	opts := flowDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
