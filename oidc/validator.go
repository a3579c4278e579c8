// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/remotegate/oidcauth/jwt"
)

// Validator validates id_tokens returned by the provider and maps them to an
// AuthenticatedIdentity.  It's safe for concurrent use.
type Validator struct {
	issuer           string
	clientID         string
	algs             []jwt.Alg
	skew             time.Duration
	maxTokenValidity time.Duration

	keySet jwt.KeySet
	nonces *NonceRegistry
	mapper *ClaimMapper
	now    func() time.Time
	logger hclog.Logger
}

// NewValidator creates a Validator for the config.  Signing keys are resolved
// with the key set and nonces are consumed from the registry.
//
// Supported options: WithNow, WithLogger
func NewValidator(c *Config, ks jwt.KeySet, nonces *NonceRegistry, opt ...Option) (*Validator, error) {
	const op = "oidc.NewValidator"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case ks == nil:
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	case nonces == nil:
		return nil, fmt.Errorf("%s: nonce registry is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getValidatorOpts(opt...)
	mapper, err := NewClaimMapper(c, WithLogger(opts.withLogger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Validator{
		issuer:           c.Issuer,
		clientID:         c.ClientID,
		algs:             append([]jwt.Alg{}, c.SupportedSigningAlgs...),
		skew:             c.AllowedClockSkew,
		maxTokenValidity: c.MaxTokenValidity,
		keySet:           ks,
		nonces:           nonces,
		mapper:           mapper,
		now:              opts.withNowFunc,
		logger:           opts.withLogger,
	}, nil
}

// Validate checks the id_token in order, stopping at the first failure:
//
//   - it's a well formed JWT with "exp" and "iat" claims (ErrMalformedToken)
//   - its signature verifies with the provider's key for its "kid" header
//     (ErrInvalidSignature)
//   - its issuer is the configured issuer (ErrIssuerMismatch)
//   - its audience contains the client id (ErrAudienceMismatch)
//   - it hasn't expired, allowing for clock skew (ErrTokenExpired)
//   - it was issued, and its "nbf" has passed, allowing for clock skew
//     (ErrTokenNotYetValid)
//   - its "iat" is no older than the max token validity (ErrTokenTooOld)
//   - its nonce is expectedNonce and consuming it succeeds (ErrNonceInvalid)
//   - its username claim is present (ErrMissingUsernameClaim)
//
// ErrKeySetUnavailable is returned when the provider's keys can't be
// fetched.  Nothing is retried.
func (v *Validator) Validate(ctx context.Context, raw IdToken, expectedNonce string) (*AuthenticatedIdentity, error) {
	const op = "Validator.Validate"
	tk, err := jwt.ParseToken(string(raw), v.algs...)
	switch {
	case errors.Is(err, jwt.ErrUnsupportedAlg):
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	key, err := v.keySet.Key(ctx, tk.KeyID)
	switch {
	case errors.Is(err, ErrKeySetUnavailable):
		return nil, fmt.Errorf("%s: %w", op, err)
	case err != nil:
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	if err := tk.Verify(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if tk.Issuer != v.issuer {
		return nil, fmt.Errorf("%s: id_token issuer %q: %w", op, tk.Issuer, ErrIssuerMismatch)
	}
	if !tk.HasAudience(v.clientID) {
		return nil, fmt.Errorf("%s: id_token audience %q: %w", op, tk.Audience, ErrAudienceMismatch)
	}
	if azp, ok := tk.Claims["azp"].(string); ok && azp != "" && azp != v.clientID {
		return nil, fmt.Errorf("%s: id_token authorized party %q: %w", op, azp, ErrAudienceMismatch)
	}

	if err := v.checkTiming(tk); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if expectedNonce == "" || subtle.ConstantTimeCompare([]byte(tk.Nonce), []byte(expectedNonce)) != 1 {
		return nil, fmt.Errorf("%s: id_token nonce doesn't match: %w", op, ErrNonceInvalid)
	}
	if err := v.nonces.Consume(ctx, tk.Nonce); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrNonceInvalid, err)
	}

	id, err := v.mapper.Map(tk.Claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v.logger.Debug("id_token validated", "kid", tk.KeyID, "alg", tk.Algorithm)
	return id, nil
}

// checkTiming compares the token's times with now, truncated to whole seconds
// like the claims themselves.
func (v *Validator) checkTiming(tk *jwt.Token) error {
	now := v.now().Truncate(time.Second)
	if now.After(tk.Expiry.Add(v.skew)) {
		return fmt.Errorf("expired at %s: %w", tk.Expiry.UTC().Format(time.RFC3339), ErrTokenExpired)
	}
	if now.Before(tk.IssuedAt.Add(-v.skew)) {
		return fmt.Errorf("issued at %s: %w", tk.IssuedAt.UTC().Format(time.RFC3339), ErrTokenNotYetValid)
	}
	if !tk.NotBefore.IsZero() && now.Before(tk.NotBefore.Add(-v.skew)) {
		return fmt.Errorf("not before %s: %w", tk.NotBefore.UTC().Format(time.RFC3339), ErrTokenNotYetValid)
	}
	if tk.IssuedAt.Before(now.Add(-v.maxTokenValidity)) {
		return fmt.Errorf("issued at %s: %w", tk.IssuedAt.UTC().Format(time.RFC3339), ErrTokenTooOld)
	}
	return nil
}

// validatorOptions is the set of available options
type validatorOptions struct {
	withNowFunc func() time.Time
	withLogger  hclog.Logger
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withNowFunc: time.Now,
		withLogger:  hclog.NewNullLogger(),
	}
}

func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withNowFunc == nil {
		opts.withNowFunc = time.Now
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
