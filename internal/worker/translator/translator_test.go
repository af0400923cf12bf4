package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honux/lolbuff/internal/amf"
)

func TestCorrelationInsertAndTake(t *testing.T) {
	c := NewCorrelation()
	c.Insert(5, 99)

	taskID, ok := c.Take(5)
	require.True(t, ok)
	assert.Equal(t, uint32(99), taskID)

	_, ok = c.Take(5)
	assert.False(t, ok, "Take should remove the entry")
}

func TestRandomMessageIDShapesLikeAGUID(t *testing.T) {
	id := RandomMessageID()
	assert.Len(t, id, 36)
	assert.Equal(t, byte('-'), id[8])
	assert.Equal(t, byte('-'), id[13])
	assert.Equal(t, byte('-'), id[18])
	assert.Equal(t, byte('-'), id[23])
}

func TestNumericBodyRoundTripsThroughDecoder(t *testing.T) {
	body := NumericBody(42)
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, "[42]", got)
}

func TestStringBodyRoundTripsThroughDecoder(t *testing.T) {
	body := StringBody("Honux")
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `["Honux"]`, got)
}

func TestDecodeInvokeReplyExtractsInvokeIDAndForwardsResult(t *testing.T) {
	// The decoder reads four sequential AMF0 values off one buffer; build
	// them by hand as AMF0 markers, mirroring what the upstream "invoke"
	// reply actually carries.
	var buf []byte
	buf = append(buf, 0x01, 0x01) // AMF0 bool true ("result")
	buf = append(buf, amf0DoubleWithMarker(7)...)
	buf = append(buf, amf0DoubleWithMarker(0)...) // unused
	buf = append(buf, 0x02, 0x00, 2, 'o', 'k')

	reply, err := DecodeInvokeReply(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reply.InvokeID)
	assert.Equal(t, `{"result":true,"code":200,"data":"ok"}`, reply.ResultJSON)
}
