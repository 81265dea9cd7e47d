package blkchan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blkchan/go-blkchan/internal/wire"
)

// delivered is one request parsed back out of a read batch.
type delivered struct {
	hdr     *wire.ReqHeader
	payload []byte
}

// parseBatch splits a serialized batch into its requests.
func parseBatch(t *testing.T, buf []byte) []delivered {
	t.Helper()
	var out []delivered
	for len(buf) > 0 {
		hdr, err := wire.ParseReqHeader(buf)
		require.NoError(t, err)
		require.GreaterOrEqual(t, int(hdr.Len), wire.ReqHeaderSize)
		require.LessOrEqual(t, int(hdr.Len), len(buf))
		out = append(out, delivered{
			hdr:     hdr,
			payload: buf[wire.ReqHeaderSize:hdr.Len],
		})
		buf = buf[hdr.Len:]
	}
	return out
}

// completionMsg builds a consumer completion message.
func completionMsg(unique uint64, status int32, data []byte) []byte {
	msg := make([]byte, wire.RespHeaderSize+len(data))
	wire.PutRespHeader(msg, &wire.RespHeader{
		Len:    uint32(len(msg)),
		Status: status,
		Unique: unique,
	})
	copy(msg[wire.RespHeaderSize:], data)
	return msg
}

func newTestChannel(t *testing.T, mod func(*Params, *Options)) *Channel {
	t.Helper()
	params := DefaultParams()
	params.MaxOutstanding = 64
	opts := &Options{}
	if mod != nil {
		mod(&params, opts)
	}
	c, err := NewChannel(params, opts)
	require.NoError(t, err)
	return c
}

func TestNewChannelValidation(t *testing.T) {
	_, err := NewChannel(Params{MaxOutstanding: 0}, nil)
	assert.Error(t, err)

	c, err := NewChannel(DefaultParams(), nil)
	require.NoError(t, err)
	assert.True(t, c.IsConnected())
}

func TestSubmitReadComplete(t *testing.T) {
	c := newTestChannel(t, nil)

	payload := []byte("0123456789abcdef")
	req := NewRequest(wire.OpWrite, 4096, uint32(len(payload)))
	req.Payload = payload
	done := make(chan int32, 1)
	req.End = func(r *Request) { done <- r.Status }

	require.NoError(t, c.Submit(req))
	assert.NotZero(t, req.Unique())
	assert.Equal(t, 1, c.InFlight())

	buf := make([]byte, 1024)
	n, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	batch := parseBatch(t, buf[:n])
	require.Len(t, batch, 1)
	assert.Equal(t, uint32(wire.OpWrite), batch[0].hdr.Opcode)
	assert.Equal(t, req.Unique(), batch[0].hdr.Unique)
	assert.Equal(t, uint64(4096), batch[0].hdr.Offset)
	assert.Equal(t, payload, batch[0].payload)

	written, err := c.WriteMessage(completionMsg(req.Unique(), 0, nil))
	require.NoError(t, err)
	assert.Equal(t, wire.RespHeaderSize, written)

	select {
	case status := <-done:
		assert.Equal(t, int32(0), status)
	case <-time.After(time.Second):
		t.Fatal("completion callback never ran")
	}
	assert.Equal(t, 0, c.InFlight())
}

func TestSubmitDisconnectedFailsFast(t *testing.T) {
	c := newTestChannel(t, nil)
	c.Abort()

	req := NewRequest(wire.OpFlush, 0, 0)
	var status int32
	req.End = func(r *Request) { status = r.Status }

	err := c.Submit(req)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNotConnected))
	assert.Equal(t, StatusNotConnected, status, "rejected request must be finalized with a connection error")
	assert.Equal(t, 0, c.InFlight())
}

func TestDegradedSubmitQueues(t *testing.T) {
	c := newTestChannel(t, func(p *Params, _ *Options) {
		p.AllowDegraded = true
	})
	c.Release()
	assert.False(t, c.IsConnected())

	req := NewRequest(wire.OpFlush, 0, 0)
	require.NoError(t, c.Submit(req), "degraded mode accepts submissions while down")
	assert.Equal(t, 1, c.InFlight())

	require.NoError(t, c.Reopen())

	buf := make([]byte, 256)
	n, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)
	batch := parseBatch(t, buf[:n])
	require.Len(t, batch, 1)
	assert.Equal(t, req.Unique(), batch[0].hdr.Unique)
}

func TestCompletionRunsExactlyOnce(t *testing.T) {
	c := newTestChannel(t, nil)

	req := NewRequest(wire.OpFlush, 0, 0)
	calls := 0
	req.End = func(*Request) { calls++ }
	require.NoError(t, c.Submit(req))

	buf := make([]byte, 256)
	_, err := c.ReadRequests(context.Background(), buf)
	require.NoError(t, err)

	_, err = c.WriteMessage(completionMsg(req.Unique(), 0, nil))
	require.NoError(t, err)

	// The identifier was recycled at finalize; a duplicate completion must
	// miss the slot table.
	_, err = c.WriteMessage(completionMsg(req.Unique(), 0, nil))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNotFound))
	assert.Equal(t, 1, calls)
}

func TestUniqueIdentifiersDiffer(t *testing.T) {
	c := newTestChannel(t, nil)

	seen := map[uint64]bool{}
	for i := 0; i < 32; i++ {
		req := NewRequest(wire.OpFlush, 0, 0)
		require.NoError(t, c.Submit(req))
		require.NotZero(t, req.Unique())
		require.False(t, seen[req.Unique()], "identifier %d reused while in flight", req.Unique())
		seen[req.Unique()] = true
	}
}
