// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-secure-stdlib/strutil"
)

// AuthenticatedIdentity is the local identity derived from a validated
// id_token.  It's immutable: accessors return copies.
type AuthenticatedIdentity struct {
	username   string
	groups     []string
	attributes map[string]string
}

// Username returns the identity's username.
func (i *AuthenticatedIdentity) Username() string { return i.username }

// Groups returns the identity's groups, in the order the provider listed
// them, without duplicates.
func (i *AuthenticatedIdentity) Groups() []string {
	return append([]string{}, i.groups...)
}

// Attributes returns the identity's attributes.
func (i *AuthenticatedIdentity) Attributes() map[string]string {
	attrs := make(map[string]string, len(i.attributes))
	for k, v := range i.attributes {
		attrs[k] = v
	}
	return attrs
}

// Attribute returns a single attribute and whether it's present.
func (i *AuthenticatedIdentity) Attribute(name string) (string, bool) {
	v, ok := i.attributes[name]
	return v, ok
}

// MarshalJSON encodes the identity for session creation.
func (i *AuthenticatedIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username   string            `json:"username"`
		Groups     []string          `json:"groups"`
		Attributes map[string]string `json:"attributes"`
	}{
		Username:   i.username,
		Groups:     i.Groups(),
		Attributes: i.Attributes(),
	})
}

// ClaimMapper maps the claims of a validated id_token to an
// AuthenticatedIdentity.
type ClaimMapper struct {
	usernameClaim string
	groupsClaim   string
	attributes    []attributeMapping
	logger        hclog.Logger
}

// NewClaimMapper creates a mapper for the config's username, groups and
// attribute claims.
//
// Supported options: WithLogger
func NewClaimMapper(c *Config, opt ...Option) (*ClaimMapper, error) {
	const op = "oidc.NewClaimMapper"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.UsernameClaim == "" {
		return nil, fmt.Errorf("%s: username claim is empty: %w", op, ErrInvalidParameter)
	}
	attrs, err := parseAttributeClaims(c.AttributeClaims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	opts := getMapperOpts(opt...)
	return &ClaimMapper{
		usernameClaim: c.UsernameClaim,
		groupsClaim:   c.GroupsClaim,
		attributes:    attrs,
		logger:        opts.withLogger,
	}, nil
}

// Map derives the identity.  The username claim must be a non-empty string or
// ErrMissingUsernameClaim is returned.  The groups claim is optional.
// Configured attribute claims that are absent or null are omitted.
func (m *ClaimMapper) Map(claims map[string]interface{}) (*AuthenticatedIdentity, error) {
	const op = "ClaimMapper.Map"
	username, ok := claims[m.usernameClaim].(string)
	if !ok || username == "" {
		return nil, fmt.Errorf("%s: claim %q: %w", op, m.usernameClaim, ErrMissingUsernameClaim)
	}
	id := &AuthenticatedIdentity{
		username:   username,
		groups:     m.groups(claims),
		attributes: make(map[string]string, len(m.attributes)),
	}
	for _, a := range m.attributes {
		raw, ok := claims[a.claim]
		if !ok || raw == nil {
			continue
		}
		v, err := claimString(raw)
		if err != nil {
			m.logger.Warn("skipping attribute claim", "claim", a.claim, "error", err)
			continue
		}
		id.attributes[a.attribute] = v
	}
	return id, nil
}

func (m *ClaimMapper) groups(claims map[string]interface{}) []string {
	if m.groupsClaim == "" {
		return []string{}
	}
	var groups []string
	switch v := claims[m.groupsClaim].(type) {
	case nil:
	case string:
		groups = []string{v}
	case []string:
		groups = v
	case []interface{}:
		for _, g := range v {
			s, ok := g.(string)
			if !ok {
				m.logger.Warn("skipping non-string group", "claim", m.groupsClaim, "type", fmt.Sprintf("%T", g))
				continue
			}
			groups = append(groups, s)
		}
	default:
		m.logger.Warn("ignoring groups claim", "claim", m.groupsClaim, "type", fmt.Sprintf("%T", v))
	}
	return strutil.RemoveDuplicatesStable(groups, false)
}

// claimString renders a claim value as a string.
func claimString(v interface{}) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("unable to encode claim: %w", err)
		}
		return string(b), nil
	}
}

// mapperOptions is the set of available options
type mapperOptions struct {
	withLogger hclog.Logger
}

func mapperDefaults() mapperOptions {
	return mapperOptions{withLogger: hclog.NewNullLogger()}
}

func getMapperOpts(opt ...Option) mapperOptions {
	opts := mapperDefaults()
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}
