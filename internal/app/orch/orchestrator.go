// Package orch sequences one chat session at a time: queue join, match,
// negotiation, quality adaptation, fallback and teardown. All session state
// lives on a single loop goroutine; signaling, media and timer callbacks
// only post events into it.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/app/quality"
	"github.com/pairline/pairline/internal/app/tune"
	"github.com/pairline/pairline/internal/core"
	"github.com/pairline/pairline/internal/domain"
)

// MediaFactory builds a fresh media session per match. Connections are
// never reused across sessions.
type MediaFactory func() (core.MediaSession, error)

// Callbacks notify the outer surface (UI, telemetry). All are optional and
// invoked from the loop goroutine.
type Callbacks struct {
	StateChanged   func(State)
	QueueUpdate    func(domain.QueueTicket)
	RemoteStream   func(kind webrtc.RTPCodecType)
	Recommendation func(profile core.MediaConstraintProfile)
	Chat           func(msg domain.ChatMessage)
	Reaction       func(r domain.Reaction)
	Insecure       func()
	Error          func(err error)
}

// Options tune the orchestrator's timing behavior.
type Options struct {
	Criteria       domain.MatchCriteria
	SkipCooldown   time.Duration
	RecoveryDelay  time.Duration
	SecurityChecks int
}

func (o *Options) defaults() {
	if o.SkipCooldown <= 0 {
		o.SkipCooldown = 2 * time.Second
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = time.Second
	}
}

// Orchestrator is the single writer of Session and ConnectionHealth
// decisions. One instance handles one participant; instances are explicitly
// constructed and disposed, never shared.
type Orchestrator struct {
	signal    core.SignalClient
	newMedia  MediaFactory
	monitor   *quality.Monitor
	optimizer *tune.Optimizer
	verifier  *tune.Verifier
	opts      Options
	cb        Callbacks

	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Loop-confined state. Never touched outside the loop goroutine.
	state      State
	session    *domain.Session
	ticket     *domain.QueueTicket
	media      core.MediaSession
	sessCancel context.CancelFunc
	recovery   *time.Timer

	deviceID domain.DeviceID
	pref     quality.Preference
	tier     core.Tier
	offered  bool
	verified bool
	lastSkip time.Time
}

func New(signal core.SignalClient, newMedia MediaFactory, monitor *quality.Monitor, opts Options, cb Callbacks) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		signal:    signal,
		newMedia:  newMedia,
		monitor:   monitor,
		optimizer: tune.NewOptimizer(),
		verifier:  tune.NewVerifier(opts.SecurityChecks),
		opts:      opts,
		cb:        cb,
		tasks:     make(chan func(), 64),
		state:     StateIdle,
		pref:      quality.DefaultPreference(),
		tier:      core.TierExcellent,
	}
}

// Start connects signaling, starts the quality monitor and runs the loop.
func (o *Orchestrator) Start(ctx context.Context, credential string) error {
	ctx, cancel := context.WithCancel(ctx)
	o.ctx = ctx
	o.cancel = cancel

	o.signal.Bind(o.signalEvents())
	if err := o.signal.Connect(ctx, credential); err != nil {
		cancel()
		return err
	}

	if o.monitor != nil {
		o.monitor.OnSample(func(s core.QualitySample) {
			o.post(func() { o.handleQuality(s) })
		})
		o.monitor.Start(ctx)
	}

	o.wg.Add(1)
	go o.run(ctx)
	log.Info().Str("module", "orch").Msg("orchestrator started")
	return nil
}

// Stop disposes the instance: session teardown, monitor stop, channel close.
// A no-op before Start.
func (o *Orchestrator) Stop() {
	if o.ctx == nil {
		return
	}
	done := make(chan struct{})
	o.post(func() {
		o.teardownSession(false)
		o.setState(StateIdle)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	if o.monitor != nil {
		o.monitor.Stop()
	}
	o.signal.Close()
	o.cancel()
	o.wg.Wait()
	log.Info().Str("module", "orch").Msg("orchestrator stopped")
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-o.tasks:
			fn()
		}
	}
}

// post hands work to the loop goroutine. Blocking is deliberate: events on
// a torn-down orchestrator are discarded via ctx. Before Start there is no
// loop, so posts are dropped.
func (o *Orchestrator) post(fn func()) {
	if o.ctx == nil {
		return
	}
	select {
	case <-o.ctx.Done():
	case o.tasks <- fn:
	}
}

func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	log.Info().Str("module", "orch").Str("from", o.state.String()).Str("to", s.String()).Msg("state")
	o.state = s
	if o.cb.StateChanged != nil {
		o.cb.StateChanged(s)
	}
}

// State reports the current state from outside the loop.
func (o *Orchestrator) State() State {
	if o.ctx == nil {
		return StateIdle
	}
	ch := make(chan State, 1)
	o.post(func() { ch <- o.state })
	select {
	case s := <-ch:
		return s
	case <-o.ctx.Done():
		return StateIdle
	}
}

// ---- user-facing controls ----

// JoinQueue moves Idle -> Searching.
func (o *Orchestrator) JoinQueue() { o.post(o.joinQueue) }

// LeaveQueue cancels the outstanding ticket.
func (o *Orchestrator) LeaveQueue() {
	o.post(func() {
		if o.state != StateSearching {
			return
		}
		o.signal.LeaveQueue()
		o.ticket = nil
		o.setState(StateIdle)
	})
}

// Skip ends the current session and immediately re-queues. Debounced: a
// second skip inside the cooldown window is ignored.
func (o *Orchestrator) Skip() { o.post(o.skip) }

// EndCall ends the session without re-queueing.
func (o *Orchestrator) EndCall() {
	o.post(func() {
		if o.session != nil {
			o.signal.SendEndCall(o.session.ID, false)
		}
		o.teardownSession(false)
		o.setState(StateIdle)
	})
}

// ToggleAudio mutes/unmutes the microphone without renegotiation.
func (o *Orchestrator) ToggleAudio(enabled bool) {
	o.post(func() {
		o.pref.Audio = enabled
		if o.media != nil {
			o.media.ToggleAudio(enabled)
		}
	})
}

// ToggleVideo mutes/unmutes the camera without renegotiation.
func (o *Orchestrator) ToggleVideo(enabled bool) {
	o.post(func() {
		o.pref.Video = enabled
		if o.media != nil {
			o.media.ToggleVideo(enabled)
		}
	})
}

// SwitchToAudioOnly stops video capture and stays in the current connection
// state. This is a first-class transition, not an error path.
func (o *Orchestrator) SwitchToAudioOnly() {
	o.post(func() {
		o.pref.Video = false
		if o.media != nil {
			o.media.StopVideo()
		}
		if o.session != nil {
			o.session.Mode = domain.ModeAudioOnly
		}
		if o.state == StateFailed {
			o.renegotiate()
		}
		log.Info().Str("module", "orch").Msg("switched to audio-only")
	})
}

// SwitchToTextOnly tears the media connection down entirely while keeping
// the signaling session alive for chat-only relay.
func (o *Orchestrator) SwitchToTextOnly() {
	o.post(func() {
		if o.media != nil {
			o.media.EndCall()
			o.media = nil
		}
		o.cancelSessionTimers()
		o.optimizer.Reset()
		if o.session != nil {
			o.session.Mode = domain.ModeTextOnly
		}
		if o.state == StateFailed || o.state == StateNegotiating || o.state == StateDegraded {
			o.setState(StateConnected)
		}
		log.Info().Str("module", "orch").Msg("switched to text-only")
	})
}

// Retry leaves Failed by rebuilding the media session and renegotiating.
func (o *Orchestrator) Retry() {
	o.post(func() {
		if o.state != StateFailed {
			return
		}
		o.renegotiate()
	})
}

// SendMessage relays a chat payload for the active session.
func (o *Orchestrator) SendMessage(text string) {
	o.post(func() {
		if o.session == nil {
			log.Warn().Str("module", "orch").Msg("message without session")
			return
		}
		o.signal.SendMessage(o.session.ID, text)
	})
}

// SendReaction relays an expression payload for the active session.
func (o *Orchestrator) SendReaction(emoji string) {
	o.post(func() {
		if o.session == nil {
			return
		}
		o.signal.SendReaction(o.session.ID, emoji)
	})
}

// ---- loop-internal handlers ----

func (o *Orchestrator) joinQueue() {
	if o.state != StateIdle {
		log.Warn().Str("module", "orch").Str("state", o.state.String()).Msg("join queue ignored")
		return
	}
	o.signal.JoinQueue(o.opts.Criteria)
	o.setState(StateSearching)
}

func (o *Orchestrator) skip() {
	now := time.Now()
	if now.Sub(o.lastSkip) < o.opts.SkipCooldown {
		log.Info().Str("module", "orch").Msg("skip debounced")
		return
	}
	o.lastSkip = now

	if o.session != nil {
		o.session.WasSkipped = true
		o.signal.SendEndCall(o.session.ID, true)
	}
	o.teardownSession(true)
	o.setState(StateIdle)
	o.joinQueue()
}

func (o *Orchestrator) handleMatched(peer domain.PeerID, sid domain.SessionID) {
	if o.session != nil {
		// Protocol violation: only one session per orchestrator. Never
		// silently overwrite live state.
		log.Warn().
			Str("module", "orch").
			Str("sid", string(sid)).
			Str("active", string(o.session.ID)).
			Msg("matched while session active, ignoring")
		return
	}
	if o.state != StateSearching {
		log.Warn().Str("module", "orch").Str("state", o.state.String()).Msg("matched outside searching, ignoring")
		return
	}

	o.ticket = nil
	mode := domain.ModeVideo
	if !o.pref.Video {
		mode = domain.ModeAudioOnly
	}
	o.session = &domain.Session{ID: sid, Peer: peer, MatchedAt: time.Now(), Mode: mode}
	o.setState(StateMatched)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("peer", string(peer)).Msg("matched")

	// Implicit offerer role: the lexically lower device offers when both
	// IDs are known, otherwise we offer. The answerer path triggers off the
	// incoming offer either way.
	if o.deviceID != "" && string(o.deviceID) > string(peer) {
		return
	}
	o.beginOffer()
}

// beginOffer is the offerer path: capture (unless text-only), offer, send.
func (o *Orchestrator) beginOffer() {
	if o.session == nil {
		return
	}
	if err := o.ensureMedia(); err != nil {
		o.failSession(err)
		return
	}
	o.setState(StateNegotiating)

	if o.session.Mode == domain.ModeTextOnly {
		// No media to negotiate: the signaling session is the session.
		o.setState(StateConnected)
		return
	}

	offer, err := o.media.CreateOffer(o.ctx)
	if err != nil {
		o.failSession(err)
		return
	}
	o.offered = true
	o.signal.SendOffer(o.session.ID, offer)
}

func (o *Orchestrator) handleOffer(sid domain.SessionID, sdp webrtc.SessionDescription, from domain.PeerID) {
	if o.session == nil || o.session.ID != sid {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("offer for unknown session")
		return
	}
	if o.offered {
		if o.deviceID != "" {
			log.Warn().Str("module", "orch").Msg("offer glare, ignoring")
			return
		}
		// Without a device id the matched tiebreak made both sides offer.
		// Yield: drop our offer and answer the peer's instead.
		log.Warn().Str("module", "orch").Msg("offer glare without device id, yielding")
		if o.media != nil {
			o.media.EndCall()
			o.media = nil
		}
		o.offered = false
	}
	if o.session.Mode == domain.ModeTextOnly {
		// Media was dropped on this side; the peer cannot know that and
		// may keep renegotiating. There is nothing to answer with.
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("offer in text-only session, ignoring")
		return
	}

	if err := o.ensureMedia(); err != nil {
		o.failSession(err)
		return
	}
	o.setState(StateNegotiating)

	answer, err := o.media.CreateAnswer(o.ctx, sdp)
	if err != nil {
		o.negotiationError(err)
		return
	}
	o.signal.SendAnswer(sid, answer)
}

func (o *Orchestrator) handleAnswer(sid domain.SessionID, sdp webrtc.SessionDescription, from domain.PeerID) {
	if o.session == nil || o.session.ID != sid || o.media == nil {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("answer for unknown session")
		return
	}
	if err := o.media.SetRemoteDescription(sdp); err != nil {
		o.negotiationError(err)
	}
}

func (o *Orchestrator) handleCandidate(sid domain.SessionID, cand webrtc.ICECandidateInit, from domain.PeerID) {
	if o.session == nil || o.session.ID != sid || o.media == nil {
		return
	}
	o.media.AddCandidate(cand)
}

// ensureMedia builds the per-session media connection and starts capture.
// Capture is skipped entirely in text-only mode.
func (o *Orchestrator) ensureMedia() error {
	if o.session == nil {
		return errors.New("no session")
	}
	if o.session.Mode == domain.ModeTextOnly {
		return nil
	}
	if o.media != nil {
		return nil
	}

	media, err := o.newMedia()
	if err != nil {
		return err
	}
	sid := o.session.ID
	media.OnLocalCandidate(func(cand webrtc.ICECandidateInit) {
		o.signal.SendCandidate(sid, cand)
	})
	media.OnHealth(func(h core.ConnectionHealth) {
		o.post(func() { o.handleHealth(h) })
	})
	media.OnRemoteStream(func(kind webrtc.RTPCodecType) {
		o.post(func() {
			if o.cb.RemoteStream != nil {
				o.cb.RemoteStream(kind)
			}
		})
	})

	profile := quality.ProfileFor(o.tier, o.pref)
	if err := media.StartCapture(o.ctx, profile); err != nil {
		media.EndCall()
		return err
	}
	o.media = media
	return nil
}

func (o *Orchestrator) handleHealth(h core.ConnectionHealth) {
	if o.media == nil || !o.state.inSession() {
		return
	}

	switch h.State {
	case core.ConnConnected:
		o.cancelRecovery()
		switch o.state {
		case StateNegotiating, StateDegraded:
			o.setState(StateConnected)
			o.optimizer.Refresh(o.media, o.tier)
			o.startVerifier()
		}
	case core.ConnDisconnected:
		if o.state == StateConnected {
			o.setState(StateDegraded)
		}
	case core.ConnFailed:
		if h.CanRecover() {
			if o.state == StateConnected || o.state == StateNegotiating {
				o.setState(StateDegraded)
			}
			o.scheduleRecovery(h.RecoveryAttempt)
		} else {
			o.cancelRecovery()
			o.setState(StateFailed)
			if o.cb.Error != nil {
				o.cb.Error(errors.New("connection failed, recovery exhausted"))
			}
		}
	}
}

// scheduleRecovery arms a one-shot ICE restart, backed off linearly by
// attempt. The timer is cancelled on teardown or explicit user action.
func (o *Orchestrator) scheduleRecovery(attempt int) {
	o.cancelRecovery()
	delay := o.opts.RecoveryDelay * time.Duration(attempt)
	if delay <= 0 {
		delay = o.opts.RecoveryDelay
	}
	o.recovery = time.AfterFunc(delay, func() {
		o.post(o.recoverConnection)
	})
	log.Info().Str("module", "orch").Int("attempt", attempt).Dur("delay", delay).Msg("recovery scheduled")
}

func (o *Orchestrator) recoverConnection() {
	if o.media == nil || o.session == nil || o.state != StateDegraded {
		return
	}
	offer, err := o.media.RestartICE(o.ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("ice restart")
		return
	}
	o.offered = true
	o.signal.SendOffer(o.session.ID, offer)
}

func (o *Orchestrator) cancelRecovery() {
	if o.recovery != nil {
		o.recovery.Stop()
		o.recovery = nil
	}
}

func (o *Orchestrator) startVerifier() {
	if o.verified || o.media == nil {
		return
	}
	o.verified = true

	ctx, cancel := context.WithCancel(o.ctx)
	prev := o.sessCancel
	o.sessCancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	media := o.media
	go o.verifier.Run(ctx, media, func() {
		o.post(func() {
			if o.cb.Insecure != nil {
				o.cb.Insecure()
			}
		})
	})
}

func (o *Orchestrator) handleQuality(s core.QualitySample) {
	o.tier = s.Tier
	profile := quality.ProfileFor(s.Tier, o.pref)

	// Surface the hint; never switch modes unilaterally.
	if (profile.RecommendAudioOnly || profile.RecommendDisabled) && o.cb.Recommendation != nil {
		o.cb.Recommendation(profile)
	}

	if o.media == nil {
		return
	}
	switch o.state {
	case StateConnected:
		o.optimizer.Refresh(o.media, s.Tier)
		if s.Tier == core.TierFair || s.Tier == core.TierPoor {
			o.setState(StateDegraded)
		}
	case StateDegraded:
		o.optimizer.Refresh(o.media, s.Tier)
		if (s.Tier == core.TierExcellent || s.Tier == core.TierGood) &&
			o.media.Health().State == core.ConnConnected {
			o.setState(StateConnected)
		}
	}
}

// renegotiate rebuilds media from scratch after Failed.
func (o *Orchestrator) renegotiate() {
	if o.session == nil {
		o.setState(StateIdle)
		return
	}
	if o.media != nil {
		o.media.EndCall()
		o.media = nil
	}
	o.cancelSessionTimers()
	o.optimizer.Reset()
	o.offered = false
	o.verified = false
	o.beginOffer()
}

func (o *Orchestrator) negotiationError(err error) {
	// Malformed or out-of-order negotiation wedges a session; ending
	// gracefully beats limping.
	log.Error().Err(err).Str("module", "orch").Msg("negotiation error, ending session")
	if o.cb.Error != nil {
		o.cb.Error(err)
	}
	if o.session != nil {
		o.signal.SendEndCall(o.session.ID, false)
	}
	o.teardownSession(false)
	o.setState(StateIdle)
}

func (o *Orchestrator) failSession(err error) {
	log.Error().Err(err).Str("module", "orch").Msg("session setup failed")
	if o.cb.Error != nil {
		o.cb.Error(err)
	}
	if o.media != nil {
		o.media.EndCall()
		o.media = nil
	}
	o.cancelSessionTimers()
	o.setState(StateFailed)
}

func (o *Orchestrator) handlePeerDisconnected(sid domain.SessionID) {
	if o.session == nil || o.session.ID != sid {
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("peer disconnected")
	o.teardownSession(false)
	o.setState(StateIdle)
	// The pairing is gone through no action of ours: rejoin automatically.
	o.joinQueue()
}

func (o *Orchestrator) handleCallEnded(sid domain.SessionID) {
	if o.session == nil || o.session.ID != sid {
		return
	}
	o.teardownSession(false)
	o.setState(StateIdle)
}

func (o *Orchestrator) cancelSessionTimers() {
	o.cancelRecovery()
	if o.sessCancel != nil {
		o.sessCancel()
		o.sessCancel = nil
	}
}

// teardownSession releases every session resource. Safe from any state;
// every failure branch funnels through here so no device or connection
// outlives its session.
func (o *Orchestrator) teardownSession(skipped bool) {
	if o.state == StateSearching {
		o.signal.LeaveQueue()
		o.ticket = nil
	}
	if o.session == nil && o.media == nil {
		return
	}
	o.setState(StateEnding)

	o.cancelSessionTimers()
	if o.media != nil {
		o.media.EndCall()
		o.media = nil
	}
	o.optimizer.Reset()
	if o.session != nil {
		o.session.WasSkipped = o.session.WasSkipped || skipped
		log.Info().
			Str("module", "orch").
			Str("sid", string(o.session.ID)).
			Bool("skipped", o.session.WasSkipped).
			Msg("session ended")
	}
	o.session = nil
	o.offered = false
	o.verified = false
}
