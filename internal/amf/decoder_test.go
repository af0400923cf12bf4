package amf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAMF0Number(t *testing.T) {
	enc := NewEncoder()
	enc.w.writeByte(amf0Number)
	enc.w.writeF64BE(42.5)

	d := NewDecoder(enc.Bytes())
	out, err := d.DecodeAMF0()
	require.NoError(t, err)
	assert.Equal(t, "42.5", out)
}

func TestDecodeAMF0StringEscaping(t *testing.T) {
	enc := NewEncoder()
	enc.w.writeByte(amf0String)
	enc.w.writeU16BE(uint16(len("line\nbreak")))
	enc.w.writeBytes([]byte("line\nbreak"))

	d := NewDecoder(enc.Bytes())
	out, err := d.DecodeAMF0()
	require.NoError(t, err)
	assert.Equal(t, `"line\nbreak"`, out)
}

func TestDecodeAMF0DelegatesToAMF3(t *testing.T) {
	// AMF0 marker 0x11 must delegate to AMF3 decoding (Correction 1).
	enc := NewEncoder()
	enc.w.writeByte(amf0AMF3Start)
	enc.WriteInt(7)

	d := NewDecoder(enc.Bytes())
	out, err := d.DecodeAMF0()
	require.NoError(t, err)
	assert.Equal(t, "7", out)
}

func TestDecodeAMF3IntSignExtension(t *testing.T) {
	enc := NewEncoder()
	enc.WriteInt(-1)
	d := NewDecoder(enc.Bytes())
	out, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, "-1", out)
}

func TestDecodeAMF3StringBackReference(t *testing.T) {
	enc := NewEncoder()
	enc.WriteString("Honux")
	enc.WriteString("Honux")
	d := NewDecoder(enc.Bytes())

	first, err := d.DecodeAMF3()
	require.NoError(t, err)
	second, err := d.DecodeAMF3()
	require.NoError(t, err)

	assert.Equal(t, `"Honux"`, first)
	assert.Equal(t, first, second)
	assert.Len(t, d.stringRefs, 1, "second occurrence must resolve via back-reference, not grow the table")
}

func TestDecodeAMF3DenseArrayRoundTrip(t *testing.T) {
	enc := NewEncoder()
	enc.WriteDenseArray([][]byte{
		Encode(func(e *Encoder) { e.WriteInt(1) }),
		Encode(func(e *Encoder) { e.WriteInt(2) }),
		Encode(func(e *Encoder) { e.WriteInt(3) }),
	})
	d := NewDecoder(enc.Bytes())
	out, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", out)
}

func TestDecodeAMF3ObjectDynamic(t *testing.T) {
	enc := NewEncoder()
	enc.WriteObject("", []string{"summonerId"}, [][]byte{
		Encode(func(e *Encoder) { e.WriteInt(99) }),
	})
	d := NewDecoder(enc.Bytes())
	out, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `{"summonerId":99}`, out)
}

func TestDecodeAMF3ByteArray(t *testing.T) {
	// Hand-build: marker, U29 handle (len=3, inline), 3 raw bytes.
	var r writer
	r.writeByte(amf3ByteArray)
	r.writeU29((3 << 1) | 1)
	r.writeBytes([]byte{1, 2, 255})

	d := NewDecoder(r.buf)
	out, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, "[1,2,255]", out)
}

func TestDecodeDSAAllFlagsClear(t *testing.T) {
	// DSA object with both flag bytes zero: body/destination/headers/
	// timeStamp/timeToLive must all render as null with no stray commas.
	var w writer
	w.writeByte(amf3Object)
	w.writeU29(0x07) // inline ref, traits inline, externalizable=1, dynamic=0, memberCount=0
	w.writeU29((3 << 1) | 1)
	w.writeBytes([]byte("DSA"))
	w.writeByte(0x00) // flag group 1, no continuation
	w.writeByte(0x00) // flag group 2 (AsyncMessage correlationId group)

	d := NewDecoder(w.buf)
	out, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `{"body":null,"destination":null,"headers":null,"timeStamp":null,"timeToLive":null}`, out)
}

func TestAddHeadersChunksAt128Bytes(t *testing.T) {
	body := make([]byte, 300)
	for i := range body {
		body[i] = byte(i)
	}
	framed := AddHeaders(body, 0x11, 0)

	require.True(t, len(framed) > 12)
	assert.Equal(t, byte(0x03), framed[0])
	// 300 bytes => chunks of 128,128,44 with a 0xC3 marker before the 2nd and 3rd.
	assert.Equal(t, byte(0xC3), framed[12+128])
	assert.Equal(t, byte(0xC3), framed[12+128+1+128])
}
