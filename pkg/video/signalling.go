// Package video receives a camera stream over WebRTC and serves still frames
// from it.
//
// The remote side is a GStreamer webrtcsink producer (as on Reachy Mini or any
// Pi running gst-plugins-rs). Signalling runs over a websocket, media is H.264
// over RTP, and frames are decoded on demand by ffmpeg.
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage covers every message of the webrtcsink signalling protocol.
type signalMessage struct {
	Type      string     `json:"type"`
	PeerID    string     `json:"peerId,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Producers []producer `json:"producers,omitempty"`
	SDP       *sdpBody   `json:"sdp,omitempty"`
	ICE       *iceBody   `json:"ice,omitempty"`
}

type producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpBody struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type iceBody struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// signaller wraps the websocket. Writes are serialized; reads happen on one goroutine.
type signaller struct {
	ws *websocket.Conn
	mu sync.Mutex

	peerID  string
	session atomic.Value // string
}

func dialSignaller(ctx context.Context, url string) (*signaller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling connect: %w", err)
	}
	return &signaller{ws: ws}, nil
}

func (s *signaller) send(msg signalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(msg)
}

// recv reads one message, waiting at most timeout (0 = forever).
func (s *signaller) recv(timeout time.Duration) (signalMessage, error) {
	var msg signalMessage
	if timeout > 0 {
		s.ws.SetReadDeadline(time.Now().Add(timeout))
		defer s.ws.SetReadDeadline(time.Time{})
	}
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode signalling message: %w", err)
	}
	return msg, nil
}

// handshake waits for welcome, lists producers and picks one by meta name.
// An empty name selects the first producer.
func (s *signaller) handshake(name string) (string, error) {
	welcome, err := s.recv(10 * time.Second)
	if err != nil {
		return "", fmt.Errorf("welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		return "", fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	s.peerID = welcome.PeerID

	if err := s.send(signalMessage{Type: "list"}); err != nil {
		return "", fmt.Errorf("list producers: %w", err)
	}
	list, err := s.recv(5 * time.Second)
	if err != nil {
		return "", fmt.Errorf("list producers: %w", err)
	}

	return pickProducer(list.Producers, name)
}

func pickProducer(producers []producer, name string) (string, error) {
	for _, p := range producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	if name == "" {
		return "", fmt.Errorf("no producers available")
	}
	return "", fmt.Errorf("producer %q not found in %d producers", name, len(producers))
}

func (s *signaller) sessionID() string {
	id, _ := s.session.Load().(string)
	return id
}

func (s *signaller) setSessionID(id string) {
	s.session.Store(id)
}

func (s *signaller) sendSDP(desc webrtc.SessionDescription) error {
	return s.send(signalMessage{
		Type:      "peer",
		SessionID: s.sessionID(),
		SDP:       &sdpBody{Type: desc.Type.String(), SDP: desc.SDP},
	})
}

func (s *signaller) sendICE(c webrtc.ICECandidateInit) error {
	id := s.sessionID()
	if id == "" {
		// Candidates gathered before sessionStarted are carried in the SDP.
		return nil
	}
	return s.send(signalMessage{
		Type:      "peer",
		SessionID: id,
		ICE:       &iceBody{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex},
	})
}

func (s *signaller) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.ws.Close()
}
