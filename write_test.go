package blkchan

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blkchan/go-blkchan/internal/wire"
)

func TestUnknownUniqueHasNoSideEffects(t *testing.T) {
	c := newTestChannel(t, nil)
	req := submitWrite(t, c, 0, []byte{1, 2, 3, 4})
	before := c.InFlight()

	_, err := c.WriteMessage(completionMsg(0xdead, 0, nil))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNotFound))
	assert.Equal(t, before, c.InFlight())
	assert.False(t, req.finalized())
	assert.Equal(t, uint64(1), c.Metrics().UnknownUnique.Load())
}

func TestStatusOutOfRangeRejected(t *testing.T) {
	c := newTestChannel(t, nil)
	req := submitWrite(t, c, 0, []byte{1})

	for _, status := range []int32{1, 42, -wire.MaxStatusMagnitude, -5000} {
		_, err := c.WriteMessage(completionMsg(req.Unique(), status, nil))
		require.Error(t, err, "status %d", status)
		assert.True(t, IsCode(err, ErrCodeInvalidMessage), "status %d", status)
	}
	assert.False(t, req.finalized())

	// Boundary values inside the range are fine.
	_, err := c.WriteMessage(completionMsg(req.Unique(), -wire.MaxStatusMagnitude+1, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(-wire.MaxStatusMagnitude+1), req.Status)
}

func TestMessageLengthMismatchRejected(t *testing.T) {
	c := newTestChannel(t, nil)

	msg := completionMsg(1, 0, nil)
	wire.PutRespHeader(msg, &wire.RespHeader{Len: uint32(len(msg) + 8), Status: 0, Unique: 1})
	_, err := c.WriteMessage(msg)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidMessage))

	_, err = c.WriteMessage(make([]byte, wire.RespHeaderSize-1))
	assert.Error(t, err)
}

func TestReadCompletionScatter(t *testing.T) {
	c := newTestChannel(t, nil)

	seg1 := make([]byte, 8)
	seg2 := make([]byte, 8)
	req := NewRequest(wire.OpRead, 0, 16)
	req.Data = [][]byte{seg1, seg2}
	done := make(chan struct{})
	req.End = func(*Request) { close(done) }
	require.NoError(t, c.Submit(req))

	buf := make([]byte, 256)
	_, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xaa}, 8)
	payload = append(payload, bytes.Repeat([]byte{0xbb}, 8)...)
	_, err = c.WriteMessage(completionMsg(req.Unique(), 0, payload))
	require.NoError(t, err)
	<-done

	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 8), seg1)
	assert.Equal(t, bytes.Repeat([]byte{0xbb}, 8), seg2)
}

func TestTruncatedReadPayloadLeavesRequestInFlight(t *testing.T) {
	c := newTestChannel(t, nil)

	req := NewRequest(wire.OpRead, 0, 16)
	req.Data = [][]byte{make([]byte, 16)}
	require.NoError(t, c.Submit(req))

	buf := make([]byte, 256)
	_, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	_, err = c.WriteMessage(completionMsg(req.Unique(), 0, make([]byte, 8)))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCopyFault))
	assert.False(t, req.finalized())
	assert.Equal(t, 1, c.InFlight())

	// A full retry still lands.
	_, err = c.WriteMessage(completionMsg(req.Unique(), 0, make([]byte, 16)))
	require.NoError(t, err)
	assert.True(t, req.finalized())
}

func TestFailedReadCompletionSkipsScatter(t *testing.T) {
	c := newTestChannel(t, nil)

	seg := make([]byte, 8)
	req := NewRequest(wire.OpRead, 0, 8)
	req.Data = [][]byte{seg}
	require.NoError(t, c.Submit(req))

	buf := make([]byte, 256)
	_, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	_, err = c.WriteMessage(completionMsg(req.Unique(), StatusIOError, nil))
	require.NoError(t, err)
	assert.Equal(t, StatusIOError, req.Status)
	assert.True(t, wire.IsZeroes(seg), "error completion must not touch data segments")
}

func TestControlDispatch(t *testing.T) {
	notifier := NewMockNotifier()
	c := newTestChannel(t, func(_ *Params, o *Options) {
		o.Notifier = notifier
	})

	addPayload := make([]byte, wire.DeviceAddOutSize)
	wire.PutDeviceAddOut(addPayload, &wire.DeviceAddOut{DevID: 9, Size: 1 << 30, QueueDepth: 64, DiscardSize: 4096})
	_, err := c.WriteMessage(wire.EncodeControl(wire.CtrlDeviceAdd, addPayload))
	require.NoError(t, err)

	sizePayload := make([]byte, wire.SizeChangeOutSize)
	wire.PutSizeChangeOut(sizePayload, &wire.SizeChangeOut{DevID: 9, NewSize: 2 << 30})
	_, err = c.WriteMessage(wire.EncodeControl(wire.CtrlSizeChange, sizePayload))
	require.NoError(t, err)

	removePayload := make([]byte, wire.DeviceRemoveOutSize)
	wire.PutDeviceRemoveOut(removePayload, &wire.DeviceRemoveOut{DevID: 9, Force: 1})
	_, err = c.WriteMessage(wire.EncodeControl(wire.CtrlDeviceRemove, removePayload))
	require.NoError(t, err)

	added := notifier.Added()
	require.Len(t, added, 1)
	assert.Equal(t, uint64(9), added[0].DevID)
	assert.Equal(t, uint64(1<<30), added[0].Size)

	resized := notifier.Resized()
	require.Len(t, resized, 1)
	assert.Equal(t, uint64(2<<30), resized[0].NewSize)

	removed := notifier.Removed()
	require.Len(t, removed, 1)
	assert.Equal(t, uint32(1), removed[0].Force)
}

func TestUnknownControlCodeRejected(t *testing.T) {
	c := newTestChannel(t, nil)

	_, err := c.WriteMessage(wire.EncodeControl(77, nil))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidMessage))
}

func TestControlWithoutNotifierIsAccepted(t *testing.T) {
	c := newTestChannel(t, nil)

	payload := make([]byte, wire.DeviceAddOutSize)
	wire.PutDeviceAddOut(payload, &wire.DeviceAddOut{DevID: 1, Size: 4096})
	n, err := c.WriteMessage(wire.EncodeControl(wire.CtrlDeviceAdd, payload))
	require.NoError(t, err)
	assert.Equal(t, wire.RespHeaderSize+wire.DeviceAddOutSize, n)
}

func dataFetchMsg(unique, offset uint64, destLen int) []byte {
	payload := make([]byte, wire.DataFetchOutSize+destLen)
	wire.PutDataFetchOut(payload, &wire.DataFetchOut{Unique: unique, Offset: offset})
	return wire.EncodeControl(wire.CtrlDataFetch, payload)
}

func TestDataFetchServesLazyPayload(t *testing.T) {
	c := newTestChannel(t, nil)

	payload := bytes.Repeat([]byte{0xcd}, 1024)
	req := NewRequest(wire.OpWrite, 8192, 1024) // block-aligned offset
	req.Flags = wire.FlagLazyPayload
	req.Payload = payload
	require.NoError(t, c.Submit(req))

	buf := make([]byte, 256)
	_, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	// Fetch the payload in two chunks at different offsets.
	msg := dataFetchMsg(req.Unique(), 0, 512)
	_, err = c.WriteMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, payload[:512], msg[wire.RespHeaderSize+wire.DataFetchOutSize:])

	msg = dataFetchMsg(req.Unique(), 512, 512)
	_, err = c.WriteMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, payload[512:], msg[wire.RespHeaderSize+wire.DataFetchOutSize:])

	// Then the write completes normally.
	_, err = c.WriteMessage(completionMsg(req.Unique(), 0, nil))
	require.NoError(t, err)
	assert.True(t, req.finalized())
}

func TestDataFetchSubBlockAlignment(t *testing.T) {
	c := newTestChannel(t, nil)

	payload := bytes.Repeat([]byte{0xee}, 256)
	req := NewRequest(wire.OpWrite, 8192+100, 256) // 100 bytes into a block
	req.Flags = wire.FlagLazyPayload
	req.Payload = payload
	require.NoError(t, c.Submit(req))

	buf := make([]byte, 256)
	_, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	msg := dataFetchMsg(req.Unique(), 0, 512)
	_, err = c.WriteMessage(msg)
	require.NoError(t, err)

	dst := msg[wire.RespHeaderSize+wire.DataFetchOutSize:]
	assert.True(t, wire.IsZeroes(dst[:100]), "bytes before the alignment offset stay untouched")
	assert.Equal(t, payload, dst[100:100+256])
}

func TestDataFetchErrors(t *testing.T) {
	c := newTestChannel(t, nil)

	// Unknown identifier
	_, err := c.WriteMessage(dataFetchMsg(0xdead, 0, 64))
	assert.True(t, IsCode(err, ErrCodeNotFound))

	// Non-write request
	read := NewRequest(wire.OpRead, 0, 64)
	read.Data = [][]byte{make([]byte, 64)}
	require.NoError(t, c.Submit(read))
	_, err = c.WriteMessage(dataFetchMsg(read.Unique(), 0, 64))
	assert.True(t, IsCode(err, ErrCodeInvalidMessage))

	// Missing destination
	w := NewRequest(wire.OpWrite, 0, 64)
	w.Flags = wire.FlagLazyPayload
	w.Payload = make([]byte, 64)
	require.NoError(t, c.Submit(w))
	_, err = c.WriteMessage(dataFetchMsg(w.Unique(), 0, 0))
	assert.True(t, IsCode(err, ErrCodeCopyFault))

	// Offset beyond the payload
	_, err = c.WriteMessage(dataFetchMsg(w.Unique(), 128, 64))
	assert.True(t, IsCode(err, ErrCodeInvalidMessage))
}
