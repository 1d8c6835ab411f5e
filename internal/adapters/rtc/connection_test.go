package rtc

import (
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Bounce/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMimeType(t *testing.T) {
	m, err := MimeType("h264")
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeH264, m)

	m, err = MimeType("VP8")
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeVP8, m)

	_, err = MimeType("mjpeg")
	assert.Error(t, err)
}

func TestAnswerToBrowserLikeOffer(t *testing.T) {
	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()
	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(offer))

	server, err := NewPeerFactory(DefaultWebRTCConfig(), "H264")("sid-1")
	require.NoError(t, err)
	defer server.Close()

	states := make(chan webrtc.PeerConnectionState, 8)
	server.OnConnectionStateChange(func(s webrtc.PeerConnectionState) { states <- s })

	require.NoError(t, server.SetRemoteDescription(offer))
	answer, err := server.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "m=video")
	assert.True(t, strings.Contains(answer.SDP, "H264/90000"))

	require.NoError(t, server.VideoTrack().WriteSample(media.Sample{Data: []byte{0, 0, 0, 1}, Duration: time.Second / 30}))
}

func TestToI420Planes(t *testing.T) {
	f := domain.NewFrame(4, 2)
	out, err := ToI420(f)
	require.NoError(t, err)
	require.Len(t, out, 4*2+2*2*1)
	for _, y := range out[:8] {
		assert.Equal(t, byte(16), y)
	}
	for _, c := range out[8:] {
		assert.Equal(t, byte(128), c)
	}

	for i := 1; i < len(f.Data); i += domain.BytesPerPixel {
		f.Data[i] = 255
	}
	out, err = ToI420(f)
	require.NoError(t, err)
	assert.Equal(t, byte(144), out[0])
	assert.Equal(t, byte(54), out[8])
	assert.Equal(t, byte(34), out[10])
}

func TestToI420OddSize(t *testing.T) {
	out, err := ToI420(domain.NewFrame(3, 3))
	require.NoError(t, err)
	assert.Len(t, out, 9+2*4)

	_, err = ToI420(domain.Frame{Width: 2, Height: 2})
	assert.Error(t, err)
}
