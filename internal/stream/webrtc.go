package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/cuemap/internal/audio"
)

const (
	opusBitrate   = 128000
	maxOpusPacket = 4000
)

// peer is one browser listening to the audition over WebRTC.
type peer struct {
	id       string
	conn     *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	listener *Listener
	once     sync.Once
}

// WebRTCHandler answers SDP offers and sends the preview to each peer as
// Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	config      webrtc.Configuration
	logger      zerolog.Logger

	mu    sync.Mutex
	peers map[string]*peer
}

func NewWebRTCHandler(b *Broadcaster, logger zerolog.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		logger:      logger,
		peers:       make(map[string]*peer),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		h.hangUp(p)
	}
}

// HandlePreflight answers the CORS preflight for browser clients served from
// another origin.
func (h *WebRTCHandler) HandlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// HandleOffer reads a JSON session description and replies with the answer
// once ICE gathering is complete.
func (h *WebRTCHandler) HandleOffer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	p, answer, err := h.negotiate(offer)
	if err != nil {
		h.logger.Warn().Err(err).Msg("webrtc negotiation failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.peers[p.id] = p
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Info().Str("peer", p.id).Int("peers", n).Msg("webrtc peer connected")

	go h.send(p)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*peer, *webrtc.SessionDescription, error) {
	conn, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		return nil, nil, fmt.Errorf("peer connection: %w", err)
	}
	fail := func(step string, err error) (*peer, *webrtc.SessionDescription, error) {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audition",
		"cuemap",
	)
	if err != nil {
		return fail("audio track", err)
	}
	if _, err := conn.AddTrack(track); err != nil {
		return fail("add track", err)
	}
	if err := conn.SetRemoteDescription(offer); err != nil {
		return fail("remote description", err)
	}
	answer, err := conn.CreateAnswer(nil)
	if err != nil {
		return fail("answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(conn)
	if err := conn.SetLocalDescription(answer); err != nil {
		return fail("local description", err)
	}
	<-gathered

	p := &peer{
		id:       uuid.NewString(),
		conn:     conn,
		track:    track,
		listener: h.broadcaster.Subscribe(),
	}
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			h.hangUp(p)
		}
	})
	return p, conn.LocalDescription(), nil
}

// hangUp detaches p from the broadcaster and closes its connection. Safe to
// call from several goroutines.
func (h *WebRTCHandler) hangUp(p *peer) {
	p.once.Do(func() {
		h.broadcaster.Unsubscribe(p.listener)
		_ = p.conn.Close()
		h.mu.Lock()
		delete(h.peers, p.id)
		n := len(h.peers)
		h.mu.Unlock()
		h.logger.Info().Str("peer", p.id).Int("peers", n).Msg("webrtc peer disconnected")
	})
}

// send encodes every broadcast frame as one Opus packet and writes it to
// the peer's track until the listener is dropped.
func (h *WebRTCHandler) send(p *peer) {
	defer h.hangUp(p)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.logger.Error().Err(err).Msg("opus encoder")
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		h.logger.Warn().Err(err).Msg("opus bitrate")
	}

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-p.listener.Done():
			return
		case frame, ok := <-p.listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				h.logger.Debug().Err(err).Msg("opus encode, dropping frame")
				continue
			}
			sample := media.Sample{Data: packet[:n], Duration: audio.FrameDuration}
			if err := p.track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}
