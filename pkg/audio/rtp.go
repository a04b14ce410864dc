package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-envision/pkg/tts"
)

// RTP stream parameters, matching an rtpopusdepay receiver.
const (
	OpusPayloadType = 96
	opusClockRate   = 48000
	frameDuration   = 20 * time.Millisecond
	rtpMTU          = 1200
	maxOpusPacket   = 4000
)

// RTPSink encodes PCM16 to Opus and streams it as RTP over UDP in real time.
// The receiver is typically
//
//	udpsrc port=5000 caps=application/x-rtp,encoding-name=OPUS ! rtpopusdepay ! opusdec ! autoaudiosink
type RTPSink struct {
	conn   net.Conn
	logger *slog.Logger

	mu         sync.Mutex
	packetizer rtp.Packetizer
	encoders   map[int]*opus.Encoder
}

// NewRTPSink dials addr (host:port) over UDP.
func NewRTPSink(addr string, logger *slog.Logger) (*RTPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("audio: dial %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPSink{
		conn:   conn,
		logger: logger.With("component", "audio.rtp", "addr", addr),
		packetizer: rtp.NewPacketizer(rtpMTU, OpusPayloadType, rand.Uint32(),
			&codecs.OpusPayloader{}, rtp.NewRandomSequencer(), opusClockRate),
		encoders: make(map[int]*opus.Encoder),
	}, nil
}

// Play sends audio paced at 20ms per packet. Utterances are serialized.
func (s *RTPSink) Play(ctx context.Context, audio *tts.AudioResult) error {
	if !audio.Format.IsPCM() {
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, audio.Format.Encoding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rate := audio.Format.SampleRate
	pcm := Int16s(audio.Audio)
	if !opusRate(rate) {
		pcm = Resample(pcm, rate, opusClockRate)
		rate = opusClockRate
	}

	enc, err := s.encoder(rate)
	if err != nil {
		return err
	}

	frameSamples := rate * int(frameDuration/time.Millisecond) / 1000
	clockSamples := uint32(opusClockRate * int(frameDuration/time.Millisecond) / 1000)
	buf := make([]byte, maxOpusPacket)
	frame := make([]int16, frameSamples)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	sent := 0
	for off := 0; off < len(pcm); off += frameSamples {
		// Last frame is zero padded.
		n := copy(frame, pcm[off:])
		clear(frame[n:])

		size, err := enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("audio: opus encode: %w", err)
		}

		for _, pkt := range s.packetizer.Packetize(buf[:size], clockSamples) {
			raw, err := pkt.Marshal()
			if err != nil {
				return fmt.Errorf("audio: marshal rtp: %w", err)
			}
			if _, err := s.conn.Write(raw); err != nil {
				return fmt.Errorf("audio: send rtp: %w", err)
			}
		}
		sent++

		if off+frameSamples < len(pcm) {
			select {
			case <-ctx.Done():
				s.logger.Debug("playback cancelled", "frames_sent", sent)
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	s.logger.Debug("played", "frames", sent, "sample_rate", rate)
	return nil
}

// Close closes the UDP socket.
func (s *RTPSink) Close() error {
	return s.conn.Close()
}

func (s *RTPSink) encoder(rate int) (*opus.Encoder, error) {
	if enc, ok := s.encoders[rate]; ok {
		return enc, nil
	}
	enc, err := opus.NewEncoder(rate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encoder: %w", err)
	}
	s.encoders[rate] = enc
	return enc, nil
}

var _ Sink = (*RTPSink)(nil)
