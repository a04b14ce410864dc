package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-envision/pkg/camera"
)

var (
	sps   = []byte{0x67, 0x42, 0x00, 0x1f}
	pps   = []byte{0x68, 0xce, 0x3c, 0x80}
	idr   = []byte{0x65, 0x88, 0x84, 0x21}
	slice = []byte{0x41, 0x9a, 0x02, 0x11}
)

func packet(payload []byte) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96}, Payload: payload}
}

func TestGOPBuffer(t *testing.T) {
	var g gopBuffer

	require.NoError(t, g.push(packet(slice)))
	stream, _ := g.snapshot()
	assert.Nil(t, stream, "slices before any keyframe are dropped")

	require.NoError(t, g.push(packet(idr)))
	stream, _ = g.snapshot()
	assert.Nil(t, stream, "IDR without parameter sets is not decodable")

	for _, nal := range [][]byte{sps, pps, idr, slice, slice} {
		require.NoError(t, g.push(packet(nal)))
	}
	stream, frames := g.snapshot()
	require.NotNil(t, stream)
	assert.Equal(t, 3, frames)
	assert.Equal(t, [][]byte{sps, pps, idr, slice, slice}, splitAnnexB(stream))

	// A new keyframe restarts the group.
	require.NoError(t, g.push(packet(idr)))
	stream, frames = g.snapshot()
	assert.Equal(t, 1, frames)
	assert.Equal(t, [][]byte{sps, pps, idr}, splitAnnexB(stream))
}

func TestSplitAnnexB(t *testing.T) {
	b := []byte{0, 0, 0, 1, 0x67, 1, 0, 0, 1, 0x68, 2, 0, 0, 0, 1, 0x65}
	assert.Equal(t, [][]byte{{0x67, 1}, {0x68, 2}, {0x65}}, splitAnnexB(b))
	assert.Nil(t, splitAnnexB([]byte{1, 2, 3}))
}

func jpegOf(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestLastJPEG(t *testing.T) {
	first, second := jpegOf(t, 8, 8), jpegOf(t, 16, 4)
	stream := append(append([]byte{}, first...), second...)

	assert.Equal(t, second, lastJPEG(stream))
	assert.Nil(t, lastJPEG([]byte("no markers")))
}

type fakeDecoder struct {
	out   []byte
	err   error
	input []byte
}

func (d *fakeDecoder) DecodeLast(_ context.Context, h264 []byte) ([]byte, error) {
	d.input = h264
	return d.out, d.err
}

func TestSourceCapture(t *testing.T) {
	dec := &fakeDecoder{out: jpegOf(t, 32, 24)}
	s := &Source{cfg: Config{Decoder: dec}, logger: DefaultConfig("x").Logger}

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, camera.ErrNoFrame)

	for _, nal := range [][]byte{sps, pps, idr} {
		require.NoError(t, s.gop.push(packet(nal)))
	}

	f, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, camera.FormatJPEG, f.Format)
	assert.Equal(t, 32, f.Width)
	assert.NotEmpty(t, dec.input)

	dec.err = errors.New("ffmpeg: no picture decoded")
	_, err = s.Capture(context.Background())
	assert.ErrorContains(t, err, "no picture decoded")

	require.NoError(t, s.Close())
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, camera.ErrClosed)
}

func TestPickProducer(t *testing.T) {
	ps := []producer{
		{ID: "a", Meta: map[string]string{"name": "doorbell"}},
		{ID: "b", Meta: map[string]string{"name": "reachymini"}},
	}

	id, err := pickProducer(ps, "reachymini")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	id, err = pickProducer(ps, "")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	_, err = pickProducer(ps, "garage")
	assert.Error(t, err)

	_, err = pickProducer(nil, "")
	assert.Error(t, err)
}

func TestSignallerHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ws.WriteJSON(signalMessage{Type: "welcome", PeerID: "me-123"})

		var req signalMessage
		if err := ws.ReadJSON(&req); err != nil || req.Type != "list" {
			return
		}
		ws.WriteJSON(signalMessage{Type: "list", Producers: []producer{
			{ID: "cam-1", Meta: map[string]string{"name": "reachymini"}},
		}})
		ws.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sig, err := dialSignaller(context.Background(), url)
	require.NoError(t, err)
	defer sig.close()

	id, err := sig.handshake("reachymini")
	require.NoError(t, err)
	assert.Equal(t, "cam-1", id)
	assert.Equal(t, "me-123", sig.peerID)

	assert.Equal(t, "", sig.sessionID())
	sig.setSessionID("s-1")
	assert.Equal(t, "s-1", sig.sessionID())
}
