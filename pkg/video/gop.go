package video

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// H.264 NAL unit types we care about.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSPS   = 7
	nalPPS   = 8
)

// maxGOPBytes bounds the buffered group of pictures. A stream with no
// keyframe for that long is dropped until the next IDR.
const maxGOPBytes = 8 << 20

// gopBuffer keeps an Annex-B byte stream that starts at the most recent
// keyframe, so the newest picture can always be decoded.
type gopBuffer struct {
	mu sync.Mutex

	depacketizer codecs.H264Packet
	sps, pps     []byte

	gop      []byte
	keyframe bool
	frames   int
}

// push feeds one RTP packet.
func (g *gopBuffer) push(pkt *rtp.Packet) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	annexB, err := g.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		return err
	}
	// Fragmented NAL units come back empty until the last fragment.
	if len(annexB) == 0 {
		return nil
	}

	for _, nal := range splitAnnexB(annexB) {
		g.pushNAL(nal)
	}
	return nil
}

// pushNAL appends one NAL unit (without start code).
func (g *gopBuffer) pushNAL(nal []byte) {
	if len(nal) == 0 {
		return
	}

	switch nal[0] & 0x1F {
	case nalSPS:
		g.sps = append(g.sps[:0], nal...)
		return
	case nalPPS:
		g.pps = append(g.pps[:0], nal...)
		return
	case nalIDR:
		if g.sps == nil || g.pps == nil {
			return
		}
		g.gop = g.gop[:0]
		g.gop = appendNAL(g.gop, g.sps)
		g.gop = appendNAL(g.gop, g.pps)
		g.keyframe = true
		g.frames = 1
	case nalSlice:
		if !g.keyframe {
			return
		}
		g.frames++
	default:
		if !g.keyframe {
			return
		}
	}

	g.gop = appendNAL(g.gop, nal)
	if len(g.gop) > maxGOPBytes {
		g.gop = g.gop[:0]
		g.keyframe = false
		g.frames = 0
	}
}

// snapshot copies the current decodable stream, or nil before the first keyframe.
func (g *gopBuffer) snapshot() ([]byte, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.keyframe {
		return nil, 0
	}
	return append([]byte(nil), g.gop...), g.frames
}

var startCode = []byte{0, 0, 0, 1}

func appendNAL(dst, nal []byte) []byte {
	dst = append(dst, startCode...)
	return append(dst, nal...)
}

// splitAnnexB splits a start-code delimited stream into NAL units.
func splitAnnexB(b []byte) [][]byte {
	var nals [][]byte
	start := -1
	i := 0
	for i+2 < len(b) {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if start >= 0 {
				nals = append(nals, trimTrailingZeros(b[start:i]))
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(b) {
		nals = append(nals, b[start:])
	}
	return nals
}

func trimTrailingZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}
