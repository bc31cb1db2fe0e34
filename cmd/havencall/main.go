/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command havencall places or answers a routed audio call from the terminal.
//
// Usage:
//
//	havencall -config settings.ini
//
// While a call is up, type m (mute), s (speaker), h (hang up) and press
// enter. In callee mode, a accepts and r rejects the ringing call.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	haven "github.com/tejzpr/haven-go-sdk"
	"github.com/tejzpr/haven-go-sdk/calling"
	"github.com/tejzpr/haven-go-sdk/havensdk"
	"github.com/tejzpr/haven-go-sdk/mediadev"
	ini "gopkg.in/ini.v1"
)

func main() {
	configPath := flag.String("config", "settings.ini", "path to the settings file")
	flag.Parse()

	cfg, err := ini.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	log := initLogging(cfg, os.Stderr)

	settings, err := LoadSettings(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Invalid settings")
		closeLogging()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, settings, os.Stdin, log)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("havencall exited")
		closeLogging()
		os.Exit(1)
	}
	closeLogging()
}

// app holds the orchestrator of the configured mode and the terminal state.
type app struct {
	settings *Settings
	client   *haven.HavenClient
	log      zerolog.Logger
	sink     *mediadev.RemoteSink

	caller *calling.Caller
	callee *calling.Callee

	mu       sync.Mutex
	finished chan calling.CallSession
	failed   chan error
}

func run(ctx context.Context, s *Settings, in io.Reader, log zerolog.Logger) error {
	client, err := haven.NewClient(s.Token(), &haven.Config{
		Core:      s.CoreConfig(printfLogger{log: log}),
		Signaling: s.SignalingConfig(log),
		Calling:   s.CallingConfig(log),
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if exp, err := havensdk.TokenExpiry(s.Token()); err == nil {
		log.Info().Time("expires", exp).Msg("Token loaded")
	}

	peers, err := calling.NewPionPeerFactory(log)
	if err != nil {
		return fmt.Errorf("create peer factory: %w", err)
	}
	deps := calling.Dependencies{
		Media: mediadev.NewMicrophone("haven", log),
		Peers: peers,
	}

	a := &app{
		settings: s,
		client:   client,
		log:      log,
		finished: make(chan calling.CallSession, 1),
		failed:   make(chan error, 1),
	}
	if dir := s.RecordDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create record dir: %w", err)
		}
		a.sink = mediadev.NewRemoteSink(dir, log)
	}

	sig := client.Signaling()
	if err := sig.Connect(ctx); err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}
	defer sig.Disconnect()

	if s.Mode() == modeCaller {
		a.caller = client.Caller(s.Self(), deps)
	} else {
		a.callee = client.Callee(s.Self(), deps)
	}
	go a.readCommands(ctx, in)

	if a.caller != nil {
		return a.runCaller(ctx)
	}
	return a.runCallee(ctx)
}

func (a *app) runCaller(ctx context.Context) error {
	c := a.caller
	c.On(calling.OrchestratorEventRinging, func(data interface{}) {
		if req, ok := data.(calling.CallRequest); ok {
			a.log.Info().Str("room", req.RoomID).Msg("Ringing, waiting for the callee")
		}
	})
	c.On(calling.OrchestratorEventCallRejected, func(data interface{}) {
		err, _ := data.(error)
		a.fail(fmt.Errorf("call rejected: %w", err))
	})
	c.On(calling.OrchestratorEventCallFailed, func(data interface{}) {
		err, _ := data.(error)
		a.fail(err)
	})
	c.On(calling.OrchestratorEventNavigateCall, a.attach)
	c.On(calling.OrchestratorEventNavigateBack, a.back)

	if err := c.Connect(); err != nil {
		return fmt.Errorf("register caller: %w", err)
	}
	c.SetBalance(a.settings.Balance())

	if _, err := c.PlaceCall(ctx, calling.Identity{ID: a.settings.Target()}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if !c.EndCall(calling.EndReasonNavigatedAway) {
			c.Cancel()
			return nil
		}
		a.waitFinished(5 * time.Second)
		return nil
	case err := <-a.failed:
		return err
	case cs := <-a.finished:
		a.printHistory(cs)
		return nil
	}
}

func (a *app) runCallee(ctx context.Context) error {
	c := a.callee
	c.On(calling.OrchestratorEventIncomingCall, func(data interface{}) {
		call, ok := data.(calling.IncomingCall)
		if !ok {
			return
		}
		a.log.Info().Str("caller", call.CallerName).Str("room", call.RoomID).Msg("Incoming call, type a to accept or r to reject")
		if a.settings.AutoAccept() {
			go a.accept(ctx)
		}
	})
	c.On(calling.OrchestratorEventAutoRejected, func(data interface{}) {
		if call, ok := data.(calling.IncomingCall); ok {
			a.log.Info().Str("caller", call.CallerName).Msg("Busy, rejected a second call")
		}
	})
	c.On(calling.OrchestratorEventCallFailed, func(data interface{}) {
		if err, ok := data.(error); ok {
			a.log.Error().Err(err).Msg("Call failed")
		}
	})
	c.On(calling.OrchestratorEventNavigateCall, a.attach)
	c.On(calling.OrchestratorEventNavigateBack, func(data interface{}) {
		if cs, ok := data.(calling.CallSession); ok {
			a.log.Info().Str("room", cs.RoomID).Int("seconds", cs.DurationSeconds).Msg("Call finished, waiting for the next one")
		}
	})

	if err := c.Connect(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Failed to load availability")
	}
	available, err := c.SetAvailability(ctx, a.settings.Available())
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	a.log.Info().Bool("available", available).Msg("Registered as callee")

	<-ctx.Done()

	c.EndCall(calling.EndReasonNavigatedAway)
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.SetAvailability(shutdown, false); err != nil {
		a.log.Warn().Err(err).Msg("Failed to clear availability")
	}
	return nil
}

// attach subscribes to a session that is about to start.
func (a *app) attach(data interface{}) {
	neg, ok := data.(calling.Negotiator)
	if !ok {
		return
	}
	log := a.log.With().Str("room", neg.RoomID()).Str("role", string(neg.Role())).Logger()

	neg.On(calling.SessionEventConnected, func(interface{}) {
		log.Info().Msg("Connected, type m to mute, s for speaker, h to hang up")
	})
	neg.On(calling.SessionEventDuration, func(data interface{}) {
		if d, ok := data.(string); ok && strings.HasSuffix(d, ":00") {
			log.Info().Str("duration", d).Msg("In call")
		}
	})
	neg.On(calling.SessionEventError, func(data interface{}) {
		if err, ok := data.(error); ok {
			log.Error().Err(err).Msg("Session error")
		}
	})
	neg.On(calling.SessionEventRemoteTrack, func(data interface{}) {
		track, ok := data.(calling.RemoteTrack)
		if !ok {
			return
		}
		log.Info().Str("track", track.ID).Str("codec", track.MimeType).Msg("Remote audio")
		if a.sink != nil {
			a.sink.Attach(neg.RoomID(), track)
		}
	})
}

func (a *app) back(data interface{}) {
	cs, ok := data.(calling.CallSession)
	if !ok {
		return
	}
	select {
	case a.finished <- cs:
	default:
	}
}

func (a *app) fail(err error) {
	if err == nil {
		err = errors.New("call failed")
	}
	select {
	case a.failed <- err:
	default:
	}
}

func (a *app) waitFinished(timeout time.Duration) {
	select {
	case <-a.finished:
	case <-time.After(timeout):
		a.log.Warn().Msg("Timed out waiting for the call to end")
	}
}

func (a *app) accept(ctx context.Context) {
	if _, err := a.callee.Accept(ctx); err != nil {
		a.log.Error().Err(err).Msg("Failed to accept call")
	}
}

func (a *app) active() calling.Negotiator {
	if a.caller != nil {
		return a.caller.Active()
	}
	if a.callee != nil {
		return a.callee.Active()
	}
	return nil
}

func (a *app) printHistory(cs calling.CallSession) {
	a.log.Info().Str("room", cs.RoomID).Str("duration", calling.FormatDuration(cs.DurationSeconds)).Msg("Call ended")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	records, err := a.client.Calling().Router().CallHistory(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to load call history")
		return
	}
	for _, r := range records {
		ev := a.log.Info().Str("room", r.RoomID).Str("status", r.Status.Label()).Int("minutes", r.DurationMinutes)
		if r.Callee != nil {
			ev = ev.Str("callee", r.Callee.Name)
		}
		ev.Msg("History")
	}
}

// readCommands handles one-letter commands typed on in.
func (a *app) readCommands(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		a.handleCommand(ctx, strings.TrimSpace(scanner.Text()))
	}
}

func (a *app) handleCommand(ctx context.Context, cmd string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch cmd {
	case "a":
		if a.callee != nil {
			go a.accept(ctx)
		}
	case "r":
		if a.callee != nil {
			if err := a.callee.Reject(); err != nil {
				a.log.Warn().Err(err).Msg("Failed to reject call")
			}
		}
	case "m", "s", "h":
		neg := a.active()
		if neg == nil {
			a.log.Info().Msg("No active call")
			return
		}
		switch cmd {
		case "m":
			a.log.Info().Bool("muted", neg.ToggleMute()).Msg("Mute toggled")
		case "s":
			a.log.Info().Bool("speaker", neg.ToggleSpeaker()).Msg("Speaker toggled")
		case "h":
			neg.End(calling.EndReasonHangup)
		}
	case "":
	default:
		a.log.Info().Str("command", cmd).Msg("Unknown command")
	}
}
