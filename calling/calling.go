/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling implements routed one-to-one audio calls: the caller and
// callee orchestrators, the session negotiators they start, and the REST
// client for call routing, availability and history.
package calling

import (
	"sync"

	"github.com/tejzpr/haven-go-sdk/havensdk"
)

// Client is the top-level Calling client that builds orchestrators sharing
// one router client and configuration.
type Client struct {
	core   *havensdk.Client
	config *Config

	router   *RouterClient
	routerMu sync.Mutex
}

// New creates a new Calling client.
func New(core *havensdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		core:   core,
		config: config,
	}
}

// Router returns the REST client for routing, availability and history.
func (c *Client) Router() *RouterClient {
	c.routerMu.Lock()
	defer c.routerMu.Unlock()
	if c.router == nil {
		c.router = NewRouterClient(c.core)
	}
	return c.router
}

// Config returns the configuration shared by orchestrators and negotiators.
func (c *Client) Config() *Config {
	return c.config
}

// NewCaller creates a caller orchestrator. deps.Channel is set to channel
// and deps.Recorder defaults to the router client.
func (c *Client) NewCaller(self Identity, channel SignalingChannel, deps Dependencies) *Caller {
	deps = c.sessionDeps(channel, deps)
	return NewCaller(self, channel, c.Router(), NewNegotiatorFactory(deps, c.config), c.config)
}

// NewCallee creates a callee orchestrator. deps.Channel is set to channel
// and deps.Recorder defaults to the router client.
func (c *Client) NewCallee(self Identity, channel SignalingChannel, deps Dependencies) *Callee {
	deps = c.sessionDeps(channel, deps)
	router := c.Router()
	return NewCallee(self, channel, router, router, NewNegotiatorFactory(deps, c.config), c.config)
}

func (c *Client) sessionDeps(channel SignalingChannel, deps Dependencies) Dependencies {
	deps.Channel = channel
	if deps.Recorder == nil {
		deps.Recorder = c.Router()
	}
	return deps
}
