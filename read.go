package blkchan

import (
	"context"

	"github.com/blkchan/go-blkchan/internal/wire"
)

// ReadRequests blocks until at least one request is pending, then serializes
// as many queued requests as fit into buf and returns the byte count. A
// request that fails to serialize is finalized with an I/O error status and
// the batch continues; a request too large for buf stays queued for a later
// call with a bigger buffer.
//
// Returns ErrChannelDown when the connection goes down while waiting and
// ErrInterrupted when ctx is cancelled, in both cases with the queue
// untouched.
func (c *Channel) ReadRequests(ctx context.Context, buf []byte) (int, error) {
	if len(buf) < wire.ReqHeaderSize {
		return 0, NewError("READ", ErrCodeInvalidMessage, "read buffer too small for a header")
	}
	for {
		if err := c.waitPending(ctx); err != nil {
			return 0, err
		}
		copied, count := c.drainInto(buf)
		if copied == 0 {
			if c.q.Pending() {
				return 0, NewError("READ", ErrCodeInvalidMessage, "request larger than read buffer")
			}
			// Everything pending was already finalized; wait again.
			continue
		}
		c.observer.ObserveReadBatch(count, copied)
		return copied, nil
	}
}

// TryReadRequests is the non-blocking variant: it returns ErrWouldBlock when
// nothing is deliverable on a connected channel.
func (c *Channel) TryReadRequests(buf []byte) (int, error) {
	if len(buf) < wire.ReqHeaderSize {
		return 0, NewError("READ", ErrCodeInvalidMessage, "read buffer too small for a header")
	}
	if !c.IsConnected() {
		return 0, NewError("READ", ErrCodeChannelDown, "")
	}
	if !c.q.Pending() {
		return 0, NewError("READ", ErrCodeWouldBlock, "")
	}
	copied, count := c.drainInto(buf)
	if copied == 0 {
		if c.q.Pending() {
			return 0, NewError("READ", ErrCodeInvalidMessage, "request larger than read buffer")
		}
		return 0, NewError("READ", ErrCodeWouldBlock, "")
	}
	c.observer.ObserveReadBatch(count, copied)
	return copied, nil
}

// waitPending blocks until a request is deliverable. The connection check
// comes first so a wait on a dead channel fails with channel-down rather
// than interrupted.
func (c *Channel) waitPending(ctx context.Context) error {
	for {
		c.mu.Lock()
		connected := c.connected
		dead := c.dead
		c.mu.Unlock()

		if !connected {
			return NewError("READ", ErrCodeChannelDown, "")
		}
		if c.q.Pending() {
			return nil
		}

		select {
		case <-ctx.Done():
			return NewError("READ", ErrCodeInterrupted, "")
		case <-c.notify:
		case <-dead:
		}
	}
}

// drainInto dequeues and serializes requests until the ring drains or the
// next request does not fit. Returns bytes copied and requests delivered.
func (c *Channel) drainInto(buf []byte) (int, int) {
	copied, count := 0, 0
	for {
		e, ok := c.q.Peek()
		if !ok {
			break
		}
		req := e.(*Request)

		// An abort finalizes requests in place; their ring entries are
		// dropped here, the dequeue-side analog of unlinking them.
		if req.finalized() {
			c.q.Advance()
			continue
		}

		if c.hook != nil && !req.hooked {
			req.hooked = true
			c.hook(req)
		}

		need := req.wireLen()
		if need > len(buf)-copied {
			break
		}
		c.q.Advance()

		if err := c.serializeRequest(req, buf[copied:copied+need]); err != nil {
			c.logger.Error("request serialization failed",
				"unique", req.unique, "op", req.opName(), "error", err)
			c.finalize(req, StatusIOError)
			continue
		}
		copied += need
		count++
	}
	return copied, count
}

// serializeRequest writes one request into dst, which is exactly wireLen
// bytes.
func (c *Channel) serializeRequest(req *Request, dst []byte) error {
	if req.inlinePayload() && int(req.Size) != len(req.Payload) {
		return NewRequestError("READ", req.unique, ErrCodeIOError, "payload length does not match request size")
	}
	wire.PutReqHeader(dst, &wire.ReqHeader{
		Len:    uint32(len(dst)),
		Opcode: req.Opcode,
		Unique: req.unique,
		Offset: req.Offset,
		Size:   req.Size,
		Flags:  req.Flags,
	})
	if req.inlinePayload() {
		copy(dst[wire.ReqHeaderSize:], req.Payload)
	}
	return nil
}
