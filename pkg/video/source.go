package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/teslashibe/go-envision/pkg/camera"
)

// Config holds connection settings for a webrtcsink producer.
type Config struct {
	// SignallingURL is the websocket endpoint, e.g. ws://192.168.68.80:8443.
	SignallingURL string

	// Producer selects a producer by its meta "name"; empty takes the first.
	Producer string

	// ConnectTimeout bounds Connect until the first video packet arrives.
	ConnectTimeout time.Duration

	// ICEServers for NAT traversal. Empty is fine on a LAN.
	ICEServers []webrtc.ICEServer

	Decoder Decoder
	Logger  *slog.Logger
}

// DefaultConfig returns settings for a producer on host at the standard port.
func DefaultConfig(host string) Config {
	return Config{
		SignallingURL:  fmt.Sprintf("ws://%s:8443", host),
		Producer:       "reachymini",
		ConnectTimeout: 15 * time.Second,
		Decoder:        FFmpeg{},
		Logger:         slog.Default(),
	}
}

// Source is a camera.FrameSource backed by a live WebRTC stream.
type Source struct {
	cfg    Config
	logger *slog.Logger

	sig *signaller
	pc  *webrtc.PeerConnection
	gop gopBuffer

	firstPacket chan struct{}
	firstOnce   sync.Once
	closed      atomic.Bool
	wg          sync.WaitGroup
}

// Connect establishes signalling and the peer connection, and waits for the
// first video packet.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Decoder == nil {
		cfg.Decoder = FFmpeg{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}

	s := &Source{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "video.webrtc"),
		firstPacket: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.Close()
		return nil, err
	}

	select {
	case <-s.firstPacket:
		s.logger.Info("video connected", "producer", cfg.Producer)
		return s, nil
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("waiting for video: %w", ctx.Err())
	}
}

func (s *Source) connect(ctx context.Context) error {
	var err error
	s.sig, err = dialSignaller(ctx, s.cfg.SignallingURL)
	if err != nil {
		return err
	}

	producerID, err := s.sig.handshake(s.cfg.Producer)
	if err != nil {
		return err
	}
	s.logger.Debug("producer found", "peer_id", s.sig.peerID, "producer_id", producerID)

	s.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}

	if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add transceiver: %w", err)
	}

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Debug("track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		s.wg.Add(1)
		go s.readTrack(track)
	})

	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.sig.sendICE(c.ToJSON()); err != nil {
			s.logger.Warn("send ICE candidate failed", "error", err)
		}
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("connection state", "state", state.String())
	})

	if err := s.sig.send(signalMessage{Type: "startSession", PeerID: producerID}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	s.wg.Add(1)
	go s.handleSignalling()
	return nil
}

func (s *Source) handleSignalling() {
	defer s.wg.Done()

	for !s.closed.Load() {
		msg, err := s.sig.recv(0)
		if err != nil {
			if !s.closed.Load() {
				s.logger.Warn("signalling error", "error", err)
			}
			return
		}

		switch msg.Type {
		case "sessionStarted":
			s.sig.setSessionID(msg.SessionID)
		case "peer":
			if err := s.handlePeer(msg); err != nil {
				s.logger.Warn("peer message failed", "error", err)
			}
		case "endSession":
			s.logger.Info("producer ended session")
			return
		}
	}
}

func (s *Source) handlePeer(msg signalMessage) error {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := s.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return s.sig.sendSDP(answer)
	}

	if msg.ICE != nil {
		return s.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		})
	}
	return nil
}

func (s *Source) readTrack(track *webrtc.TrackRemote) {
	defer s.wg.Done()

	for !s.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.firstOnce.Do(func() { close(s.firstPacket) })

		if err := s.gop.push(pkt); err != nil {
			s.logger.Debug("depacketize failed", "error", err)
		}
	}
}

// Capture decodes the newest picture of the stream.
func (s *Source) Capture(ctx context.Context) (*camera.Frame, error) {
	if s.closed.Load() {
		return nil, camera.ErrClosed
	}

	stream, frames := s.gop.snapshot()
	if stream == nil {
		return nil, camera.ErrNoFrame
	}

	start := time.Now()
	jpg, err := s.cfg.Decoder.DecodeLast(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("decode video: %w", err)
	}
	s.logger.Debug("frame decoded",
		"gop_frames", frames,
		"gop_bytes", len(stream),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return camera.DecodeBytes(jpg)
}

// Close tears down the session. Safe to call more than once.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	var errs []error
	if s.pc != nil {
		errs = append(errs, s.pc.Close())
	}
	if s.sig != nil {
		errs = append(errs, s.sig.close())
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

var _ camera.FrameSource = (*Source)(nil)
