// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClaimMapper(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		c         *Config
		wantIsErr error
	}{
		{name: "valid", c: &Config{UsernameClaim: "email", AttributeClaims: []string{"name"}}},
		{name: "nil-config", wantIsErr: ErrNilParameter},
		{name: "no-username-claim", c: &Config{}, wantIsErr: ErrInvalidParameter},
		{name: "bad-attributes", c: &Config{UsernameClaim: "email", AttributeClaims: []string{":x"}}, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewClaimMapper(tt.c)
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

func TestClaimMapper_Map(t *testing.T) {
	t.Parallel()
	m, err := NewClaimMapper(&Config{
		UsernameClaim:   "email",
		GroupsClaim:     "groups",
		AttributeClaims: []string{"name", "locale:language", "age", "verified", "address", "missing", "nothing"},
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		claims    string
		wantUser  string
		wantGroup []string
		wantAttrs map[string]string
		wantIsErr error
	}{
		{
			name:      "username-only",
			claims:    `{"email":"alice@example.com"}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{},
			wantAttrs: map[string]string{},
		},
		{
			name:      "missing-username",
			claims:    `{"sub":"alice"}`,
			wantIsErr: ErrMissingUsernameClaim,
		},
		{
			name:      "empty-username",
			claims:    `{"email":""}`,
			wantIsErr: ErrMissingUsernameClaim,
		},
		{
			name:      "non-string-username",
			claims:    `{"email":42}`,
			wantIsErr: ErrMissingUsernameClaim,
		},
		{
			name:      "groups",
			claims:    `{"email":"alice@example.com","groups":["admins","ops","admins",""]}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{"admins", "ops"},
			wantAttrs: map[string]string{},
		},
		{
			name:      "single-group",
			claims:    `{"email":"alice@example.com","groups":"admins"}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{"admins"},
			wantAttrs: map[string]string{},
		},
		{
			name:      "mixed-groups",
			claims:    `{"email":"alice@example.com","groups":["admins",7,{"a":1}]}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{"admins"},
			wantAttrs: map[string]string{},
		},
		{
			name:      "groups-wrong-type",
			claims:    `{"email":"alice@example.com","groups":{"admins":true}}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{},
			wantAttrs: map[string]string{},
		},
		{
			name: "attributes",
			claims: `{"email":"alice@example.com","name":"Alice","locale":"en-US","age":42.5,` +
				`"verified":true,"address":{"country":"NL"},"nothing":null}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{},
			wantAttrs: map[string]string{
				"name":     "Alice",
				"language": "en-US",
				"age":      "42.5",
				"verified": "true",
				"address":  `{"country":"NL"}`,
			},
		},
		{
			name:      "integer-attribute",
			claims:    `{"email":"alice@example.com","age":1700000000}`,
			wantUser:  "alice@example.com",
			wantGroup: []string{},
			wantAttrs: map[string]string{"age": "1700000000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			var claims map[string]interface{}
			require.NoError(json.Unmarshal([]byte(tt.claims), &claims))
			got, err := m.Map(claims)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantUser, got.Username())
			assert.Equal(tt.wantGroup, got.Groups())
			assert.Equal(tt.wantAttrs, got.Attributes())
		})
	}
}

func TestAuthenticatedIdentity_Immutable(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m, err := NewClaimMapper(&Config{UsernameClaim: "email", GroupsClaim: "groups", AttributeClaims: []string{"name"}})
	require.NoError(err)
	id, err := m.Map(map[string]interface{}{
		"email":  "alice@example.com",
		"groups": []interface{}{"admins"},
		"name":   "Alice",
	})
	require.NoError(err)

	groups := id.Groups()
	groups[0] = "root"
	attrs := id.Attributes()
	attrs["name"] = "Mallory"
	attrs["extra"] = "x"

	assert.Equal([]string{"admins"}, id.Groups())
	assert.Equal(map[string]string{"name": "Alice"}, id.Attributes())
	v, ok := id.Attribute("name")
	assert.True(ok)
	assert.Equal("Alice", v)
	_, ok = id.Attribute("extra")
	assert.False(ok)

	b, err := json.Marshal(id)
	require.NoError(err)
	assert.JSONEq(`{"username":"alice@example.com","groups":["admins"],"attributes":{"name":"Alice"}}`, string(b))
}
