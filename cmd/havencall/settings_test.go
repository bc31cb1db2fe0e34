/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tejzpr/haven-go-sdk/calling"
	ini "gopkg.in/ini.v1"
)

const callerSettings = `
[api]
base_url = http://api.test/api
token = test-token
max_retries = 1

[signaling]
url = ws://api.test/signaling

[call]
mode = caller
self_id = user-1
self_name = Alice
target_id = callee-9
balance = 12
offer_delay = 250ms
setup_timeout = 5s
stun_servers = stun:one.test:3478, stun:two.test:3478

[media]
echo_cancellation = false
sample_rate = 48000
`

func loadIni(t *testing.T, src string) *ini.File {
	t.Helper()
	cfg, err := ini.Load([]byte(src))
	if err != nil {
		t.Fatalf("Failed to parse settings: %v", err)
	}
	return cfg
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings(loadIni(t, callerSettings))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if s.Mode() != modeCaller {
		t.Errorf("Expected mode caller, got %s", s.Mode())
	}
	if s.Self() != (calling.Identity{ID: "user-1", Name: "Alice"}) {
		t.Errorf("Expected self user-1/Alice, got %+v", s.Self())
	}
	if s.Target() != "callee-9" {
		t.Errorf("Expected target callee-9, got %s", s.Target())
	}
	if s.Balance() != 12 {
		t.Errorf("Expected balance 12, got %d", s.Balance())
	}
	if s.SignalingURL() != "ws://api.test/signaling" {
		t.Errorf("Expected signaling URL from file, got %s", s.SignalingURL())
	}

	core := s.CoreConfig(nil)
	if core.BaseURL != "http://api.test/api" {
		t.Errorf("Expected base URL from file, got %s", core.BaseURL)
	}
	if core.MaxRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", core.MaxRetries)
	}

	cc := s.CallingConfig(zerolog.Nop())
	if cc.OfferDelay != 250*time.Millisecond {
		t.Errorf("Expected offer delay 250ms, got %v", cc.OfferDelay)
	}
	if cc.SetupTimeout != 5*time.Second {
		t.Errorf("Expected setup timeout 5s, got %v", cc.SetupTimeout)
	}
	if cc.MinimumBalance != 5 {
		t.Errorf("Expected default minimum balance 5, got %d", cc.MinimumBalance)
	}
	if cc.Audio.EchoCancellation {
		t.Error("Expected echo cancellation off")
	}
	if !cc.Audio.NoiseSuppression {
		t.Error("Expected noise suppression on by default")
	}
	if cc.Audio.SampleRate != 48000 || cc.Audio.ChannelCount != 1 {
		t.Errorf("Expected 48000 Hz mono, got %d Hz %d ch", cc.Audio.SampleRate, cc.Audio.ChannelCount)
	}
	if len(cc.ICEServers) != 1 || len(cc.ICEServers[0].URLs) != 2 {
		t.Fatalf("Expected one ICE server entry with 2 URLs, got %+v", cc.ICEServers)
	}
	if cc.ICEServers[0].URLs[1] != "stun:two.test:3478" {
		t.Errorf("Expected trimmed second STUN URL, got %q", cc.ICEServers[0].URLs[1])
	}

	sc := s.SignalingConfig(zerolog.Nop())
	if sc.URL != "ws://api.test/signaling" {
		t.Errorf("Expected signaling config URL, got %s", sc.URL)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(loadIni(t, "[api]\ntoken = t\n[call]\nmode = callee\nself_id = c-1\n"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !s.Available() {
		t.Error("Expected callee to be available by default")
	}
	if s.AutoAccept() {
		t.Error("Expected auto accept off by default")
	}
	cc := s.CallingConfig(zerolog.Nop())
	if len(cc.ICEServers) != len(calling.DefaultICEServers()) {
		t.Errorf("Expected default ICE servers, got %+v", cc.ICEServers)
	}
	if cc.OfferDelay != time.Second {
		t.Errorf("Expected default offer delay 1s, got %v", cc.OfferDelay)
	}
}

func TestLoadSettingsValidation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing token", "[call]\nself_id = a\ntarget_id = b\n", "token"},
		{"missing self", "[api]\ntoken = t\n[call]\ntarget_id = b\n", "self_id"},
		{"caller without target", "[api]\ntoken = t\n[call]\nself_id = a\n", "target_id"},
		{"unknown mode", "[api]\ntoken = t\n[call]\nmode = bridge\nself_id = a\n", "unknown call mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(loadIni(t, tt.src))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != zerolog.DebugLevel {
		t.Error("Expected debug level")
	}
	if parseLevel("nonsense") != zerolog.InfoLevel {
		t.Error("Expected info level for an unknown name")
	}
	if parseLevel("") != zerolog.InfoLevel {
		t.Error("Expected info level for an empty name")
	}
}

func TestInitLogging(t *testing.T) {
	t.Cleanup(func() {
		closeLogging()
		logFile = nil
	})

	path := filepath.Join(t.TempDir(), "havencall.log")
	cfg := loadIni(t, "[logging]\nconsole_level = warn\nfile_level = debug\nfile = "+path+"\n")

	var console bytes.Buffer
	log := initLogging(cfg, &console)
	log.Debug().Msg("debug-line")
	log.Warn().Msg("warn-line")
	closeLogging()

	if strings.Contains(console.String(), "debug-line") {
		t.Error("Expected debug line filtered from the console")
	}
	if !strings.Contains(console.String(), "warn-line") {
		t.Error("Expected warn line on the console")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "debug-line") || !strings.Contains(string(data), "warn-line") {
		t.Errorf("Expected both lines in the log file, got %s", data)
	}
}

func TestHandleCommandWithoutCall(t *testing.T) {
	var out bytes.Buffer
	a := &app{
		log:      zerolog.New(&out),
		finished: make(chan calling.CallSession, 1),
		failed:   make(chan error, 1),
	}

	a.handleCommand(context.Background(), "m")
	if !strings.Contains(out.String(), "No active call") {
		t.Errorf("Expected no active call message, got %s", out.String())
	}

	out.Reset()
	a.handleCommand(context.Background(), "x")
	if !strings.Contains(out.String(), "Unknown command") {
		t.Errorf("Expected unknown command message, got %s", out.String())
	}
}

func TestAppSignalsDoNotBlock(t *testing.T) {
	a := &app{
		log:      zerolog.Nop(),
		finished: make(chan calling.CallSession, 1),
		failed:   make(chan error, 1),
	}

	a.back(calling.CallSession{RoomID: "room-1"})
	a.back(calling.CallSession{RoomID: "room-2"})
	a.back("not a session")
	if cs := <-a.finished; cs.RoomID != "room-1" {
		t.Errorf("Expected first session kept, got %s", cs.RoomID)
	}

	a.fail(nil)
	a.fail(errors.New("second"))
	if err := <-a.failed; err == nil || err.Error() != "call failed" {
		t.Errorf("Expected default failure, got %v", err)
	}
}
