// Package rtc owns the peer connection object, local and remote media, and
// the negotiation procedures. Health transitions are proposed upward; the
// orchestrator decides what they mean.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairline/pairline/internal/core"
	"github.com/pairline/pairline/internal/domain"
)

// Conn implements core.MediaSession on top of a pion PeerConnection.
type Conn struct {
	api     *webrtc.API
	cfg     webrtc.Configuration
	capture core.CaptureSource

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	local     core.LocalMedia
	saved     map[*webrtc.RTPSender]webrtc.TrackLocal
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	health    core.ConnectionHealth
	closed    bool
	cancel    context.CancelFunc

	onHealth    func(core.ConnectionHealth)
	onCandidate func(webrtc.ICECandidateInit)
	onRemote    func(kind webrtc.RTPCodecType)

	lastFrame atomic.Int64 // unix nano of the last remote RTP packet
	bytesIn   atomic.Uint64
}

var _ core.MediaSession = (*Conn)(nil)

// New builds a connection manager for one session. capture may also
// implement EnginePopulator to drive codec registration.
func New(class domain.DeviceClass, capture core.CaptureSource, ice []webrtc.ICEServer, maxRecovery int) (*Conn, error) {
	var pop EnginePopulator
	if p, ok := capture.(EnginePopulator); ok {
		pop = p
	}
	api, err := newAPI(class, pop)
	if err != nil {
		return nil, err
	}
	if maxRecovery <= 0 {
		maxRecovery = 3
	}
	return &Conn{
		api:     api,
		cfg:     webrtc.Configuration{ICEServers: ice},
		capture: capture,
		saved:   make(map[*webrtc.RTPSender]webrtc.TrackLocal),
		health:  core.ConnectionHealth{State: core.ConnNew, MaxAttempts: maxRecovery},
	}, nil
}

func (c *Conn) OnHealth(fn func(core.ConnectionHealth)) {
	c.mu.Lock()
	c.onHealth = fn
	c.mu.Unlock()
}

func (c *Conn) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Conn) OnRemoteStream(fn func(kind webrtc.RTPCodecType)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

func (c *Conn) Health() core.ConnectionHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *Conn) HasLocalMedia() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local != nil
}

// StartCapture acquires devices for the given profile. Any prior capture is
// stopped first: the same camera cannot be opened twice, and a discarded
// unstopped track leaks the hardware lock.
func (c *Conn) StartCapture(ctx context.Context, profile core.MediaConstraintProfile) error {
	c.mu.Lock()
	old := c.local
	c.local = nil
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	media, err := c.capture.Open(ctx, profile)
	if err != nil {
		var ce *core.CaptureError
		if errors.As(err, &ce) {
			return err
		}
		return core.NewCaptureError(core.ErrCaptureUnknown, err.Error())
	}

	c.mu.Lock()
	c.local = media
	pc := c.pc
	c.mu.Unlock()

	// Mid-session replacement: swap tracks into existing senders without
	// renegotiation where kinds line up.
	if pc != nil {
		c.replaceSenderTracks(media)
	}

	log.Info().Str("module", "rtc").Int("tracks", len(media.Tracks())).Msg("capture started")
	return nil
}

func (c *Conn) replaceSenderTracks(media core.LocalMedia) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKind := map[webrtc.RTPCodecType]webrtc.TrackLocal{}
	for _, t := range media.Tracks() {
		byKind[t.Kind()] = t
	}
	for sender, old := range c.saved {
		repl, ok := byKind[old.Kind()]
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(repl); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("replace track")
			continue
		}
		c.saved[sender] = repl
	}
}

// ensurePC lazily creates the underlying connection and wires its callbacks.
// Caller must hold c.mu.
func (c *Conn) ensurePC() error {
	if c.pc != nil {
		return nil
	}
	pc, err := c.api.NewPeerConnection(c.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNegotiation, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		c.proposeHealth(s)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		c.mu.Lock()
		fn := c.onRemote
		c.mu.Unlock()
		if fn != nil {
			fn(track.Kind())
		}
		go c.drainTrack(ctx, track)
	})

	c.pc = pc
	c.setStateLocked(core.ConnConnecting)
	return nil
}

// drainTrack keeps the receiver read loop running for the lifetime of the
// connection, tracking freshness for the quality probe.
func (c *Conn) drainTrack(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("remote track read")
			}
			return
		}
		c.notePacket(pkt)
	}
}

func (c *Conn) notePacket(pkt *rtp.Packet) {
	c.lastFrame.Store(time.Now().UnixNano())
	c.bytesIn.Add(uint64(len(pkt.Payload)))
}

// LastFrameAge reports time since the last remote RTP packet, or false when
// nothing has arrived yet.
func (c *Conn) LastFrameAge() (time.Duration, bool) {
	ns := c.lastFrame.Load()
	if ns == 0 {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}

func (c *Conn) attachLocalTracksLocked() error {
	attached := map[webrtc.TrackLocal]bool{}
	for _, t := range c.saved {
		attached[t] = true
	}
	for _, track := range c.local.Tracks() {
		if attached[track] {
			continue
		}
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("%w: add track: %v", core.ErrNegotiation, err)
		}
		c.saved[sender] = track
	}
	return nil
}

// CreateOffer requires capture already started: the offer must describe the
// local tracks it will carry.
func (c *Conn) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return webrtc.SessionDescription{}, core.ErrNoLocalStream
	}
	if err := c.ensurePC(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.attachLocalTracksLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer: %v", core.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local: %v", core.ErrNegotiation, err)
	}
	return offer, nil
}

// CreateAnswer is the answerer path: attach tracks, apply the remote offer,
// generate and set the local answer.
func (c *Conn) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return webrtc.SessionDescription{}, core.ErrNoLocalStream
	}
	if err := c.ensurePC(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.attachLocalTracksLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := c.setRemoteLocked(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer: %v", core.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local: %v", core.ErrNegotiation, err)
	}
	return answer, nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		return core.ErrNoConnection
	}
	return c.setRemoteLocked(desc)
}

// setRemoteLocked applies the description and flushes candidates buffered
// before it existed, in arrival order.
func (c *Conn) setRemoteLocked(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote: %v", core.ErrNegotiation, err)
	}
	c.remoteSet = true

	pending := c.pending
	c.pending = nil
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			// Duplicate/stale candidates are expected noise, not failures.
			log.Warn().Err(err).Str("module", "rtc").Msg("flush buffered candidate")
		}
	}
	if len(pending) > 0 {
		log.Info().Str("module", "rtc").Int("count", len(pending)).Msg("flushed buffered candidates")
	}
	return nil
}

// AddCandidate buffers until a remote description exists, then applies
// immediately. Never fails.
func (c *Conn) AddCandidate(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.pc == nil || !c.remoteSet {
		c.pending = append(c.pending, cand)
		return
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("add candidate")
	}
}

// RestartICE produces a recovery offer. The orchestrator sends it through
// signaling like any other offer.
func (c *Conn) RestartICE(ctx context.Context) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		return webrtc.SessionDescription{}, core.ErrNoConnection
	}
	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: ice restart: %v", core.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local: %v", core.ErrNegotiation, err)
	}
	c.remoteSet = false
	return offer, nil
}

func (c *Conn) setTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sender, track := range c.saved {
		if track.Kind() != kind {
			continue
		}
		var err error
		if enabled {
			err = sender.ReplaceTrack(track)
		} else {
			err = sender.ReplaceTrack(nil)
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("kind", kind.String()).Bool("enabled", enabled).Msg("toggle track")
		}
	}
}

// ToggleAudio mutes or unmutes without renegotiation.
func (c *Conn) ToggleAudio(enabled bool) { c.setTrackEnabled(webrtc.RTPCodecTypeAudio, enabled) }

// ToggleVideo mutes or unmutes without renegotiation.
func (c *Conn) ToggleVideo(enabled bool) { c.setTrackEnabled(webrtc.RTPCodecTypeVideo, enabled) }

// StopVideo releases the camera entirely while audio keeps flowing: the
// audio-only fallback.
func (c *Conn) StopVideo() {
	c.setTrackEnabled(webrtc.RTPCodecTypeVideo, false)
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local != nil {
		local.StopVideo()
	}
	log.Info().Str("module", "rtc").Msg("video capture stopped")
}

// ApplyCaps signals the peer's video senders a maximum estimated bitrate
// (REMB) and requests a fresh keyframe so the change takes hold quickly.
func (c *Conn) ApplyCaps(caps core.EncodingCaps) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}

	var ssrcs []uint32
	for _, rcv := range pc.GetReceivers() {
		if tr := rcv.Track(); tr != nil && tr.Kind() == webrtc.RTPCodecTypeVideo {
			ssrcs = append(ssrcs, uint32(tr.SSRC()))
		}
	}
	if len(ssrcs) == 0 {
		return
	}

	pkts := []rtcp.Packet{
		&rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: float32(caps.MaxBitrateBps), SSRCs: ssrcs},
	}
	for _, ssrc := range ssrcs {
		pkts = append(pkts, &rtcp.PictureLossIndication{MediaSSRC: ssrc})
	}
	if err := pc.WriteRTCP(pkts); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("write RTCP caps")
		return
	}
	log.Info().
		Str("module", "rtc").
		Uint64("max_bitrate_bps", caps.MaxBitrateBps).
		Float64("max_framerate", caps.MaxFrameRate).
		Msg("encoding caps applied")
}

// SecureTransport inspects the DTLS transport. known is false while the
// state cannot be observed yet.
func (c *Conn) SecureTransport() (secure, known bool) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return false, false
	}
	sctp := pc.SCTP()
	if sctp == nil {
		return false, false
	}
	transport := sctp.Transport()
	if transport == nil {
		return false, false
	}
	state := transport.State()
	return state == webrtc.DTLSTransportStateConnected, state != webrtc.DTLSTransportStateNew
}

func (c *Conn) proposeHealth(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		c.health.State = core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		c.health.State = core.ConnConnected
		c.health.RecoveryAttempt = 0
	case webrtc.PeerConnectionStateDisconnected:
		c.health.State = core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		c.health.State = core.ConnFailed
		c.health.RecoveryAttempt++
	case webrtc.PeerConnectionStateClosed:
		c.health.State = core.ConnClosed
	default:
		c.mu.Unlock()
		return
	}
	health := c.health
	fn := c.onHealth
	c.mu.Unlock()
	if fn != nil {
		fn(health)
	}
}

// setStateLocked updates health without notifying; used for transitions the
// orchestrator initiated itself.
func (c *Conn) setStateLocked(s core.ConnState) {
	c.health.State = s
}

// EndCall is the single teardown path: stop every local track, stop
// receivers, close the connection, reset health to closed. Idempotent and
// safe from any state.
func (c *Conn) EndCall() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pc := c.pc
	local := c.local
	cancel := c.cancel
	c.pc = nil
	c.local = nil
	c.cancel = nil
	c.pending = nil
	c.remoteSet = false
	c.saved = make(map[*webrtc.RTPSender]webrtc.TrackLocal)
	c.health.State = core.ConnClosed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if local != nil {
		local.Close()
	}
	if pc != nil {
		for _, rcv := range pc.GetReceivers() {
			if err := rcv.Stop(); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("stop receiver")
			}
		}
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Msg("connection closed")
		}
	}
}
