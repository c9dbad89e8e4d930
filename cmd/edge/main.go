// The edge binary runs one participant end to end: it connects to the
// relay, queues for a match and keeps renegotiating, adapting and
// reconnecting until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/adapters/capture"
	"github.com/pairline/pairline/internal/adapters/relay"
	"github.com/pairline/pairline/internal/adapters/rtc"
	"github.com/pairline/pairline/internal/app/orch"
	"github.com/pairline/pairline/internal/app/quality"
	"github.com/pairline/pairline/internal/config"
	"github.com/pairline/pairline/internal/core"
	"github.com/pairline/pairline/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var source core.CaptureSource
	if cfg.Capture == "static" {
		source = capture.NewStatic()
	} else {
		device, err := capture.NewDevice(0)
		if err != nil {
			log.Fatal().Err(err).Msg("capture init")
		}
		source = device
	}

	cred, err := rtc.NewCredentialFetcher(cfg.TURNEndpoint).Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("turn credentials unavailable, continuing with stun only")
	}
	ice := rtc.ICEServers(cfg.STUNServers, cred)
	class := domain.DeviceClass(cfg.DeviceClass)

	// The quality monitor outlives any single session; it samples whichever
	// connection is currently live.
	var current atomic.Pointer[rtc.Conn]
	probe := &rtc.LiveProbe{Current: current.Load}
	monitor := quality.NewMonitor(probe, cfg.QualityPollInterval)

	newMedia := func() (core.MediaSession, error) {
		conn, err := rtc.New(class, source, ice, cfg.MaxRecoveryAttempts)
		if err != nil {
			return nil, err
		}
		current.Store(conn)
		return conn, nil
	}

	client := relay.NewClient(relay.Options{
		URL:         cfg.RelayURL,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	})

	o := orch.New(client, newMedia, monitor, orch.Options{
		Criteria:       cfg.Criteria(),
		SkipCooldown:   cfg.SkipCooldown,
		SecurityChecks: cfg.SecurityPollChecks,
	}, orch.Callbacks{
		StateChanged: func(s orch.State) {
			log.Info().Str("state", s.String()).Msg("session state")
		},
		QueueUpdate: func(t domain.QueueTicket) {
			log.Info().Int("position", t.Position).Dur("wait", t.EstimatedWait).Msg("queue")
		},
		Recommendation: func(p core.MediaConstraintProfile) {
			switch {
			case p.RecommendDisabled:
				log.Warn().Msg("network offline, media paused recommended")
			case p.RecommendAudioOnly:
				log.Warn().Msg("constrained network, audio-only recommended")
			}
		},
		Chat: func(msg domain.ChatMessage) {
			log.Info().Str("from", string(msg.Sender)).Str("text", msg.Text).Msg("chat")
		},
		Insecure: func() {
			log.Warn().Msg("transport encryption unverified")
		},
		Error: func(err error) {
			log.Error().Err(err).Msg("session error")
		},
	})

	if err := o.Start(ctx, cfg.Credential); err != nil {
		log.Fatal().Err(err).Msg("relay connect")
	}
	o.JoinQueue()

	<-ctx.Done()
	o.Stop()
	log.Info().Msg("edge exited gracefully")
}
