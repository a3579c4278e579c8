// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidcauth_test

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/remotegate/oidcauth/oidc"
	"github.com/remotegate/oidcauth/oidc/properties"
	"github.com/remotegate/oidcauth/oidc/redisstore"
)

func Example_gateway() {
	ctx := context.Background()
	logger := hclog.New(&hclog.LoggerOptions{Name: "gateway", Level: hclog.Info})

	// Load the configuration: openid-* properties from the file, overridden by
	// OPENID_* environment variables.
	c, err := properties.Load(ctx, "/etc/gateway/gateway.properties", properties.WithLogger(logger))
	if err != nil {
		// handle error
	}

	// Share authentication attempts across gateway instances.
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()
	store, err := redisstore.New(rdb, redisstore.WithKeyPrefix("gateway:oidc:"))
	if err != nil {
		// handle error
	}

	f, err := oidc.NewFlow(c, oidc.WithStore(store), oidc.WithLogger(logger))
	if err != nil {
		// handle error
	}
	defer f.Done()

	req, err := f.BeginAuthentication(ctx)
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", req.URL)
}
