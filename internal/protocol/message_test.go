package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Bounce/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOffer(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"offer","sdp":"v=0\r\n"}`))
	require.NoError(t, err)
	assert.Equal(t, KindOffer, msg.Kind)
	assert.Equal(t, "v=0\r\n", msg.SDP)
}

func TestDecodeOfferWithoutSDP(t *testing.T) {
	_, err := Decode([]byte(`{"type":"offer"}`))
	require.ErrorIs(t, err, core.ErrMalformedMessage)
}

func TestDecodeCandidateForms(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ice-candidate","candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`))
	require.NoError(t, err)
	assert.Equal(t, KindICECandidate, msg.Kind)
	assert.Equal(t, "candidate:1 1 udp 1 127.0.0.1 5000 typ host", msg.Candidate.Candidate)
	assert.Nil(t, msg.Candidate.SDPMid)

	msg, err = Decode([]byte(`{"type":"ice-candidate","candidate":{"candidate":"candidate:2 1 udp 1 ::1 5001 typ host","sdpMid":"0","sdpMLineIndex":0}}`))
	require.NoError(t, err)
	assert.Equal(t, "candidate:2 1 udp 1 ::1 5001 typ host", msg.Candidate.Candidate)
	require.NotNil(t, msg.Candidate.SDPMid)
	assert.Equal(t, "0", *msg.Candidate.SDPMid)
	require.NotNil(t, msg.Candidate.SDPMLineIndex)
	assert.Equal(t, uint16(0), *msg.Candidate.SDPMLineIndex)

	_, err = Decode([]byte(`{"type":"ice-candidate"}`))
	require.ErrorIs(t, err, core.ErrMalformedMessage)
}

func TestDecodeCoords(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"coords","x":100,"y":100.5}`))
	require.NoError(t, err)
	assert.Equal(t, KindCoords, msg.Kind)
	assert.Equal(t, 100.0, msg.X)
	assert.Equal(t, 100.5, msg.Y)

	_, err = Decode([]byte(`{"type":"coords","x":1}`))
	require.ErrorIs(t, err, core.ErrMalformedMessage)
}

func TestDecodeUnknownAndGarbage(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, msg.Kind)
	assert.Equal(t, "hello", msg.Type)

	_, err = Decode([]byte(`{"type":`))
	require.ErrorIs(t, err, core.ErrMalformedMessage)

	_, err = Decode([]byte(`[1,2]`))
	require.ErrorIs(t, err, core.ErrMalformedMessage)
}

func TestEncodeErrorUsesShortField(t *testing.T) {
	b, err := EncodeError(5)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "error", out["type"])
	assert.Equal(t, 5.0, out["e"])

	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, KindError, msg.Kind)
	assert.Equal(t, 5.0, msg.Value)
}
