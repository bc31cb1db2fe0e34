/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/haven-go-sdk/calling"
	"github.com/tejzpr/haven-go-sdk/havensdk"
	"github.com/tejzpr/haven-go-sdk/signaling"
	ini "gopkg.in/ini.v1"
)

// Modes the client can run in.
const (
	modeCaller = "caller"
	modeCallee = "callee"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	baseURL     string
	token       string
	httpTimeout time.Duration
	maxRetries  int

	signalingURL string
	pingInterval time.Duration

	mode       string
	selfID     string
	selfName   string
	target     string
	balance    int
	autoAccept bool
	available  bool

	offerDelay     time.Duration
	setupTimeout   time.Duration
	minimumBalance int
	stunServers    []string

	echoCancellation bool
	noiseSuppression bool
	autoGainControl  bool
	sampleRate       int
	channelCount     int
	recordDir        string
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("api")
	s.baseURL = sec.Key("base_url").MustString(havensdk.DefaultConfig().BaseURL)
	s.token = sec.Key("token").String()
	s.httpTimeout = sec.Key("timeout").MustDuration(30 * time.Second)
	s.maxRetries = sec.Key("max_retries").MustInt(3)

	sec = cfg.Section("signaling")
	s.signalingURL = sec.Key("url").MustString(signaling.DefaultConfig().URL)
	s.pingInterval = sec.Key("ping_interval").MustDuration(25 * time.Second)

	sec = cfg.Section("call")
	s.mode = strings.ToLower(sec.Key("mode").MustString(modeCaller))
	s.selfID = sec.Key("self_id").String()
	s.selfName = sec.Key("self_name").String()
	s.target = sec.Key("target_id").String()
	s.balance = sec.Key("balance").MustInt(0)
	s.autoAccept = sec.Key("auto_accept").MustBool(false)
	s.available = sec.Key("available").MustBool(true)
	s.offerDelay = sec.Key("offer_delay").MustDuration(time.Second)
	s.setupTimeout = sec.Key("setup_timeout").MustDuration(30 * time.Second)
	s.minimumBalance = sec.Key("minimum_balance").MustInt(5)
	s.stunServers = sec.Key("stun_servers").Strings(",")

	sec = cfg.Section("media")
	s.echoCancellation = sec.Key("echo_cancellation").MustBool(true)
	s.noiseSuppression = sec.Key("noise_suppression").MustBool(true)
	s.autoGainControl = sec.Key("auto_gain_control").MustBool(true)
	s.sampleRate = sec.Key("sample_rate").MustInt(44100)
	s.channelCount = sec.Key("channel_count").MustInt(1)
	s.recordDir = sec.Key("record_dir").String()

	if s.token == "" {
		return nil, fmt.Errorf("api token must be set")
	}
	if s.selfID == "" {
		return nil, fmt.Errorf("call self_id must be set")
	}
	switch s.mode {
	case modeCaller:
		if s.target == "" {
			return nil, fmt.Errorf("call target_id must be set in caller mode")
		}
	case modeCallee:
	default:
		return nil, fmt.Errorf("unknown call mode %q", s.mode)
	}

	return s, nil
}

func (s *Settings) Token() string        { return s.token }
func (s *Settings) Mode() string         { return s.mode }
func (s *Settings) Target() string       { return s.target }
func (s *Settings) Balance() int         { return s.balance }
func (s *Settings) AutoAccept() bool     { return s.autoAccept }
func (s *Settings) Available() bool      { return s.available }
func (s *Settings) RecordDir() string    { return s.recordDir }
func (s *Settings) SignalingURL() string { return s.signalingURL }

// Self returns the local party.
func (s *Settings) Self() calling.Identity {
	return calling.Identity{ID: s.selfID, Name: s.selfName}
}

// CoreConfig builds the REST client configuration.
func (s *Settings) CoreConfig(logger havensdk.Logger) *havensdk.Config {
	cfg := havensdk.DefaultConfig()
	cfg.BaseURL = s.baseURL
	cfg.Timeout = s.httpTimeout
	cfg.MaxRetries = s.maxRetries
	cfg.Logger = logger
	return cfg
}

// SignalingConfig builds the relay client configuration.
func (s *Settings) SignalingConfig(logger zerolog.Logger) *signaling.Config {
	cfg := signaling.DefaultConfig()
	cfg.URL = s.signalingURL
	cfg.PingInterval = s.pingInterval
	cfg.Logger = logger
	return cfg
}

// CallingConfig builds the session and orchestrator configuration.
func (s *Settings) CallingConfig(logger zerolog.Logger) *calling.Config {
	cfg := calling.DefaultConfig()
	cfg.OfferDelay = s.offerDelay
	cfg.SetupTimeout = s.setupTimeout
	cfg.MinimumBalance = s.minimumBalance
	cfg.Logger = logger
	cfg.Audio = calling.AudioConstraints{
		EchoCancellation: s.echoCancellation,
		NoiseSuppression: s.noiseSuppression,
		AutoGainControl:  s.autoGainControl,
		SampleRate:       s.sampleRate,
		ChannelCount:     s.channelCount,
	}
	if len(s.stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: s.stunServers}}
	}
	return cfg
}
