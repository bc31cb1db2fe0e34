/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package haven

import (
	"sync"

	"github.com/tejzpr/haven-go-sdk/calling"
	"github.com/tejzpr/haven-go-sdk/havensdk"
	"github.com/tejzpr/haven-go-sdk/signaling"
)

// Config holds the configuration for every plugin. Nil fields use the
// plugin's DefaultConfig.
type Config struct {
	Core      *havensdk.Config
	Signaling *signaling.Config
	Calling   *calling.Config
}

// HavenClient is the top-level client
type HavenClient struct {
	// Core client for the REST API
	core   *havensdk.Client
	config Config

	// Plugins
	callingClient   *calling.Client
	signalingClient *signaling.Client

	mu sync.Mutex
}

// NewClient creates a new client with the given access token and optional configuration
func NewClient(accessToken string, config *Config) (*HavenClient, error) {
	if config == nil {
		config = &Config{}
	}

	core, err := havensdk.NewClient(accessToken, config.Core)
	if err != nil {
		return nil, err
	}

	return &HavenClient{
		core:   core,
		config: *config,
	}, nil
}

// Calling returns the Calling plugin
func (c *HavenClient) Calling() *calling.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callingClient == nil {
		c.callingClient = calling.New(c.core, c.config.Calling)
	}
	return c.callingClient
}

// Signaling returns the signaling relay client. It is not connected until
// Connect is called on it.
func (c *HavenClient) Signaling() *signaling.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalingClient == nil {
		c.signalingClient = signaling.New(c.core, c.config.Signaling)
	}
	return c.signalingClient
}

// Caller returns a caller orchestrator wired to the shared signaling client.
func (c *HavenClient) Caller(self calling.Identity, deps calling.Dependencies) *calling.Caller {
	return c.Calling().NewCaller(self, c.Signaling(), deps)
}

// Callee returns a callee orchestrator wired to the shared signaling client.
func (c *HavenClient) Callee(self calling.Identity, deps calling.Dependencies) *calling.Callee {
	return c.Calling().NewCallee(self, c.Signaling(), deps)
}

// Core returns the core REST client
func (c *HavenClient) Core() *havensdk.Client {
	return c.core
}
