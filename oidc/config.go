// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/strutil"

	"github.com/remotegate/oidcauth/jwt"
	sdkhttp "github.com/remotegate/oidcauth/sdk/http"
)

const (
	DefaultUsernameClaim    = "email"
	DefaultGroupsClaim      = "groups"
	DefaultScope            = "openid email profile"
	DefaultAllowedClockSkew = 30 * time.Second
	DefaultMaxTokenValidity = 300 * time.Minute
	DefaultMaxNonceValidity = 10 * time.Minute
	DefaultJWKSCacheTTL     = jwt.DefaultCacheTTL
	DefaultHTTPTimeout      = sdkhttp.DefaultTimeout
)

// Config represents the relying party configuration for the id_token flow.
// Once it's handed to NewFlow it's copied, and later changes have no effect:
// a reload requires a new Flow.
type Config struct {
	// AuthorizationEndpoint is the provider URL end users are redirected to.
	AuthorizationEndpoint string `validate:"required,url"`

	// JWKSEndpoint is the provider URL of its JSON Web Key Set.
	JWKSEndpoint string `validate:"required,url"`

	// Issuer must match an id_token's "iss" claim exactly.
	Issuer string `validate:"required"`

	// ClientID is the relying party id and must be one of an id_token's
	// audiences.
	ClientID string `validate:"required"`

	RedirectURI string `validate:"required,url"`

	// UsernameClaim names the claim holding the username.
	UsernameClaim string `validate:"required"`

	// GroupsClaim names the claim holding the user's groups.
	GroupsClaim string `validate:"required"`

	// AttributeClaims lists claims copied into an identity's attributes.
	// Each entry is either "claim" or "claim:attribute" when the attribute
	// is named differently than the claim.
	AttributeClaims []string `validate:"dive,required"`

	// Scope is the space separated scope requested of the provider.
	Scope string `validate:"required"`

	AllowedClockSkew time.Duration `validate:"gte=0"`

	// MaxTokenValidity is the maximum age of an id_token, measured from its
	// "iat" claim, regardless of its "exp" claim.
	MaxTokenValidity time.Duration `validate:"gt=0"`

	// MaxNonceValidity is how long a nonce, and the state paired with it,
	// can be used.
	MaxNonceValidity time.Duration `validate:"gt=0"`

	// SupportedSigningAlgs is a list of accepted id_token signing algorithms.
	SupportedSigningAlgs []jwt.Alg `validate:"min=1"`

	// ProviderCA is an optional PEM encoded CA cert to use when sending
	// requests to the provider.
	ProviderCA string

	// JWKSCacheTTL is how long fetched signing keys are trusted before the
	// key set is fetched again.
	JWKSCacheTTL time.Duration `validate:"gt=0"`

	// HTTPTimeout bounds each request made to the provider.
	HTTPTimeout time.Duration `validate:"gt=0"`
}

// NewConfig composes a new config for the provider.  The config is validated
// and every violation is reported in the returned error.
//
// Supported options: WithUsernameClaim, WithGroupsClaim, WithAttributeClaims,
// WithScope, WithAllowedClockSkew, WithMaxTokenValidity, WithMaxNonceValidity,
// WithSupportedSigningAlgs, WithProviderCA, WithJWKSCacheTTL, WithHTTPTimeout
func NewConfig(authorizationEndpoint, jwksEndpoint, issuer, clientID, redirectURI string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		AuthorizationEndpoint: authorizationEndpoint,
		JWKSEndpoint:          jwksEndpoint,
		Issuer:                issuer,
		ClientID:              clientID,
		RedirectURI:           redirectURI,
		UsernameClaim:         opts.withUsernameClaim,
		GroupsClaim:           opts.withGroupsClaim,
		AttributeClaims:       opts.withAttributeClaims,
		Scope:                 opts.withScope,
		AllowedClockSkew:      opts.withAllowedClockSkew,
		MaxTokenValidity:      opts.withMaxTokenValidity,
		MaxNonceValidity:      opts.withMaxNonceValidity,
		SupportedSigningAlgs:  opts.withSupportedSigningAlgs,
		ProviderCA:            opts.withProviderCA,
		JWKSCacheTTL:          opts.withJWKSCacheTTL,
		HTTPTimeout:           opts.withHTTPTimeout,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate the configuration.  Every violation is collected and each one
// wraps ErrInvalidConfig.  It doesn't make any requests of the provider.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w: %w", op, ErrInvalidConfig, ErrNilParameter)
	}
	var result *multierror.Error
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
		}
		for _, fe := range fieldErrs {
			result = multierror.Append(result, fmt.Errorf("%s: %s %s: %w", op, fe.Namespace(), describeRule(fe), ErrInvalidConfig))
		}
	}
	if err := jwt.SupportedSigningAlgorithm(c.SupportedSigningAlgs...); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err))
	}
	if _, err := parseAttributeClaims(c.AttributeClaims); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err))
	}
	if c.ProviderCA != "" {
		if _, err := sdkhttp.NewClient(c.ProviderCA, c.HTTPTimeout); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: provider CA: %w: %w: %w", op, ErrInvalidConfig, ErrInvalidCACert, err))
		}
	}
	return result.ErrorOrNil()
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.AttributeClaims != nil {
		clone.AttributeClaims = append([]string{}, c.AttributeClaims...)
	}
	if c.SupportedSigningAlgs != nil {
		clone.SupportedSigningAlgs = append([]jwt.Alg{}, c.SupportedSigningAlgs...)
	}
	return &clone
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a URL"
	case "min":
		return "must not be empty"
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

// attributeMapping pairs a source claim with the attribute it's copied to.
type attributeMapping struct {
	claim     string
	attribute string
}

// parseAttributeClaims parses "claim" and "claim:attribute" entries.  An
// attribute name can only be produced once.
func parseAttributeClaims(entries []string) ([]attributeMapping, error) {
	mappings := make([]attributeMapping, 0, len(entries))
	var targets []string
	for _, e := range entries {
		claim, attribute, renamed := strings.Cut(strings.TrimSpace(e), ":")
		claim, attribute = strings.TrimSpace(claim), strings.TrimSpace(attribute)
		if !renamed {
			attribute = claim
		}
		if claim == "" || attribute == "" {
			return nil, fmt.Errorf("attribute claim %q is invalid", e)
		}
		if strutil.StrListContains(targets, attribute) {
			return nil, fmt.Errorf("attribute %q is mapped more than once", attribute)
		}
		targets = append(targets, attribute)
		mappings = append(mappings, attributeMapping{claim: claim, attribute: attribute})
	}
	return mappings, nil
}

// configOptions is the set of available options
type configOptions struct {
	withUsernameClaim        string
	withGroupsClaim          string
	withAttributeClaims      []string
	withScope                string
	withAllowedClockSkew     time.Duration
	withMaxTokenValidity     time.Duration
	withMaxNonceValidity     time.Duration
	withSupportedSigningAlgs []jwt.Alg
	withProviderCA           string
	withJWKSCacheTTL         time.Duration
	withHTTPTimeout          time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withUsernameClaim:        DefaultUsernameClaim,
		withGroupsClaim:          DefaultGroupsClaim,
		withScope:                DefaultScope,
		withAllowedClockSkew:     DefaultAllowedClockSkew,
		withMaxTokenValidity:     DefaultMaxTokenValidity,
		withMaxNonceValidity:     DefaultMaxNonceValidity,
		withSupportedSigningAlgs: jwt.DefaultAlgs(),
		withJWKSCacheTTL:         DefaultJWKSCacheTTL,
		withHTTPTimeout:          DefaultHTTPTimeout,
	}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithUsernameClaim provides an optional claim name for the username.
func WithUsernameClaim(claim string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUsernameClaim = claim
		}
	}
}

// WithGroupsClaim provides an optional claim name for the groups.
func WithGroupsClaim(claim string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withGroupsClaim = claim
		}
	}
}

// WithAttributeClaims provides optional claims copied into an identity's
// attributes.  Each entry is "claim" or "claim:attribute".
func WithAttributeClaims(entries ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAttributeClaims = append([]string{}, entries...)
		}
	}
}

// WithScope provides an optional space separated scope.
func WithScope(scope string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScope = scope
		}
	}
}

// WithAllowedClockSkew provides an optional clock skew tolerance.
func WithAllowedClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAllowedClockSkew = d
		}
	}
}

// WithMaxTokenValidity provides an optional maximum id_token age.
func WithMaxTokenValidity(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withMaxTokenValidity = d
		}
	}
}

// WithMaxNonceValidity provides an optional nonce lifetime.
func WithMaxNonceValidity(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withMaxNonceValidity = d
		}
	}
}

// WithSupportedSigningAlgs provides optional accepted signing algorithms.
func WithSupportedSigningAlgs(algs ...jwt.Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = append([]jwt.Alg{}, algs...)
		}
	}
}

// WithProviderCA provides an optional PEM encoded CA cert for requests made to
// the provider, for: NewConfig and Discover.
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withProviderCA = caPEM
		case *discoveryOptions:
			v.withProviderCA = caPEM
		}
	}
}

// WithJWKSCacheTTL provides an optional signing key cache TTL.
func WithJWKSCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withJWKSCacheTTL = d
		}
	}
}

// WithHTTPTimeout provides an optional bound on requests made to the
// provider, for: NewConfig and Discover.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withHTTPTimeout = d
		case *discoveryOptions:
			v.withHTTPTimeout = d
		}
	}
}
