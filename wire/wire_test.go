package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeaderAndPadding(t *testing.T) {
	data, fds, err := Encode(2, 0, uint32(7), "wl_compositor", uint32(5))
	require.NoError(t, err)
	assert.Empty(t, fds)
	// header + name + (len word + "wl_compositor\x00" padded to 16) + version
	assert.Len(t, data, 8+4+4+16+4)
	assert.Equal(t, byte(len(data)), data[6])
	assert.Equal(t, []byte{2, 0, 0, 0}, data[0:4])
}

func TestDecoderBuffersPartialMessages(t *testing.T) {
	first, _, err := Encode(3, 1, int32(-5), FixedFromFloat(1.5), "hi", []byte{1, 2, 3})
	require.NoError(t, err)
	second, _, err := Encode(4, 2, uint32(9))
	require.NoError(t, err)
	stream := append(first, second...)

	var d Decoder
	d.Feed(stream[:5], nil)
	_, ok, err := d.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	d.Feed(stream[5:len(first)+3], nil)
	msg, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(3), msg.Sender)
	assert.Equal(t, uint16(1), msg.Opcode)
	args := msg.Args()
	assert.Equal(t, int32(-5), args.Int())
	assert.Equal(t, 1.5, args.Fixed().Float())
	assert.Equal(t, "hi", args.String())
	assert.Equal(t, []byte{1, 2, 3}, args.Array())
	require.NoError(t, args.Err())

	_, ok, _ = d.Next()
	assert.False(t, ok)
	d.Feed(stream[len(first)+3:], nil)
	msg, ok, err = d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(9), msg.Args().Uint())
}

func TestReaderReportsShortMessages(t *testing.T) {
	data, _, err := Encode(1, 0, uint32(1))
	require.NoError(t, err)
	var d Decoder
	d.Feed(data, nil)
	msg, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	args := msg.Args()
	args.Uint()
	args.Uint()
	assert.ErrorIs(t, args.Err(), ErrShortMessage)
	args.Fd()
	assert.ErrorIs(t, args.Err(), ErrShortMessage)
}

func TestFdsTravelOverSocketPair(t *testing.T) {
	a, b, err := Pair()
	require.NoError(t, err)
	ca, err := FileConn(a)
	require.NoError(t, err)
	cb, err := FileConn(b)
	require.NoError(t, err)
	a.Close()
	b.Close()
	defer ca.Close()
	defer cb.Close()

	r, w, err := Pair()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, ca.Send(5, 0, uint32(10), Fd(int(w.Fd())), uint32(11)))
	data, fds, err := cb.ReadBatch()
	require.NoError(t, err)
	require.Len(t, fds, 1)

	var d Decoder
	d.Feed(data, fds)
	msg, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	args := msg.Args()
	assert.Equal(t, uint32(10), args.Uint())
	fd := args.Fd()
	assert.GreaterOrEqual(t, fd, 0)
	assert.Equal(t, uint32(11), args.Uint())
	require.NoError(t, args.Err())
	closeFds([]int{fd})
}

func TestFixedRoundTrip(t *testing.T) {
	assert.Equal(t, 100, FixedFromInt(100).Int())
	assert.InDelta(t, -3.25, FixedFromFloat(-3.25).Float(), 1e-9)
}
