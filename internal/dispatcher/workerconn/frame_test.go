package workerconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFrameLayout(t *testing.T) {
	payload := EncodeNumeric(42)
	frame, err := BuildFrame(FrameNumeric, 7, "summonerService", "getSummonerByName", payload)
	require.NoError(t, err)

	assert.Equal(t, FrameNumeric, frame[0])
	assert.Equal(t, byte(len("summonerService")), frame[5])
	destEnd := 6 + len("summonerService")
	assert.Equal(t, byte(0x00), frame[destEnd], "destination must be null-terminated")
	opLenPos := destEnd + 1
	assert.Equal(t, byte(len("getSummonerByName")), frame[opLenPos])
}

func TestBuildFrameRejectsOversizeRecord(t *testing.T) {
	huge := make([]byte, 2000)
	_, err := BuildFrame(FrameGeneric, 1, "d", "o", huge)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestEncodeGenericStringLengthIncludesTerminator(t *testing.T) {
	buf := EncodeGeneric([]GenericArg{Numeric(5), String("CLASSIC")})
	assert.Equal(t, byte(2), buf[0]) // count
	assert.Equal(t, genericTagNumeric, buf[1])
	numEnd := 2 + 4
	assert.Equal(t, genericTagString, buf[numEnd])
	assert.Equal(t, byte(len("CLASSIC")+1), buf[numEnd+1])
}

func TestChunkSplitsAtBoundary(t *testing.T) {
	frame := make([]byte, writeChunkBytes+10)
	pieces := chunk(frame)
	require.Len(t, pieces, 2)
	assert.Len(t, pieces[0], writeChunkBytes)
	assert.Len(t, pieces[1], 10)
}
