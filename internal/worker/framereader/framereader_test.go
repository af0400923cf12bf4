package framereader

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFullHeader(msgType byte, length int) []byte {
	hdr := make([]byte, 12)
	hdr[0] = 0x03 // fmt=00 in top two bits, rest arbitrary
	hdr[7] = msgType
	hdr[4] = byte(length >> 16)
	hdr[5] = byte(length >> 8)
	hdr[6] = byte(length)
	return hdr
}

func TestReadMessageSingleChunk(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 100)
	frame := append(buildFullHeader(0x14, len(body)), body...)

	r := New(bytes.NewReader(frame))
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(0x14), msg.MessageType)
	assert.Equal(t, body, msg.Body)
}

func TestReadMessageMultiChunkWithContinuationMarker(t *testing.T) {
	body := bytes.Repeat([]byte{0xCD}, 300) // 128 + 1(marker) + 128 + 1(marker) + 44
	var frame bytes.Buffer
	frame.Write(buildFullHeader(0x11, len(body)))
	frame.Write(body[:128])
	frame.WriteByte(continuationMarker)
	frame.Write(body[128:256])
	frame.WriteByte(continuationMarker)
	frame.Write(body[256:])

	r := New(&frame)
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, body, msg.Body)
}

func TestReadMessageSkipsUnrecognisedHeaderByte(t *testing.T) {
	var frame bytes.Buffer
	frame.WriteByte(0xFF) // top two bits = 11, headerOther, ignored
	body := []byte("hi")
	frame.Write(buildFullHeader(0x14, len(body)))
	frame.Write(body)

	r := New(&frame)
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(msg.Body))
}
