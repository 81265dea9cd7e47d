package blkchan

import (
	"github.com/blkchan/go-blkchan/internal/wire"
)

// WriteMessage applies one consumer message: either a completion for an
// in-flight request or, when the header's Unique is zero, a control message
// whose code rides in the Status field. Returns the number of bytes
// consumed, which on success is always len(buf).
//
// A malformed message is rejected without touching any request. A completion
// for an unknown identifier returns ErrNotFound and has no side effects. A
// read completion whose payload does not cover the request's data segments
// returns ErrCopyFault and leaves the request in flight.
//
// A data-fetch control message is answered in place: the bytes of buf after
// the DataFetchOut struct are overwritten with the requested payload chunk.
func (c *Channel) WriteMessage(buf []byte) (int, error) {
	hdr, err := wire.ParseRespHeader(buf)
	if err != nil {
		c.metrics.RecordInvalidMessage()
		return 0, WrapError("WRITE", err)
	}
	if int(hdr.Len) != len(buf) {
		c.metrics.RecordInvalidMessage()
		return 0, NewError("WRITE", ErrCodeInvalidMessage, "message length mismatch")
	}

	if hdr.Unique == 0 {
		if err := c.handleControl(hdr.Status, buf[wire.RespHeaderSize:]); err != nil {
			return 0, err
		}
		c.observer.ObserveMessage(len(buf))
		return len(buf), nil
	}

	if hdr.Status > 0 || hdr.Status <= -wire.MaxStatusMagnitude {
		c.metrics.RecordInvalidMessage()
		return 0, NewRequestError("WRITE", hdr.Unique, ErrCodeInvalidMessage, "completion status out of range")
	}

	req := c.slots.Lookup(hdr.Unique)
	if req == nil {
		c.metrics.RecordUnknownUnique()
		c.logger.Warn("completion for unknown request", "unique", hdr.Unique)
		return 0, NewRequestError("WRITE", hdr.Unique, ErrCodeNotFound, "")
	}

	if req.Opcode == wire.OpRead && hdr.Status == 0 {
		if err := scatterReadData(req, buf[wire.RespHeaderSize:]); err != nil {
			return 0, err
		}
	}

	c.finalize(req, hdr.Status)
	c.observer.ObserveMessage(len(buf))
	return len(buf), nil
}

// scatterReadData copies a read completion's payload into the request's data
// segments in order. The payload must cover every segment; trailing bytes
// past the segments are ignored so consumers may pad to block size.
func scatterReadData(req *Request, data []byte) error {
	for _, seg := range req.Data {
		n := copy(seg, data)
		if n < len(seg) {
			return NewRequestError("WRITE", req.unique, ErrCodeCopyFault, "read payload truncated")
		}
		data = data[n:]
	}
	return nil
}

// handleControl dispatches a control message by code.
func (c *Channel) handleControl(code int32, body []byte) error {
	switch code {
	case wire.CtrlDataFetch:
		return c.handleDataFetch(body)

	case wire.CtrlDeviceAdd:
		out, err := wire.ParseDeviceAddOut(body)
		if err != nil {
			c.metrics.RecordInvalidMessage()
			return WrapError("NOTIFY", err)
		}
		c.logger.Info("device added", "dev_id", out.DevID, "size", out.Size)
		if c.notifier != nil {
			if err := c.notifier.DeviceAdded(*out); err != nil {
				return WrapError("NOTIFY", err)
			}
		}
		return nil

	case wire.CtrlDeviceRemove:
		out, err := wire.ParseDeviceRemoveOut(body)
		if err != nil {
			c.metrics.RecordInvalidMessage()
			return WrapError("NOTIFY", err)
		}
		c.logger.Info("device removed", "dev_id", out.DevID, "force", out.Force)
		if c.notifier != nil {
			if err := c.notifier.DeviceRemoved(*out); err != nil {
				return WrapError("NOTIFY", err)
			}
		}
		return nil

	case wire.CtrlSizeChange:
		out, err := wire.ParseSizeChangeOut(body)
		if err != nil {
			c.metrics.RecordInvalidMessage()
			return WrapError("NOTIFY", err)
		}
		c.logger.Info("device resized", "dev_id", out.DevID, "new_size", out.NewSize)
		if c.notifier != nil {
			if err := c.notifier.DeviceSizeChanged(*out); err != nil {
				return WrapError("NOTIFY", err)
			}
		}
		return nil

	default:
		c.metrics.RecordInvalidMessage()
		return NewError("WRITE", ErrCodeInvalidMessage, "unknown control code")
	}
}

// handleDataFetch serves a chunk of a lazy write payload. The destination is
// the message tail after the DataFetchOut struct, advanced by the request's
// sub-block alignment; the copy stops early when either side runs out.
func (c *Channel) handleDataFetch(body []byte) error {
	out, err := wire.ParseDataFetchOut(body)
	if err != nil {
		c.metrics.RecordInvalidMessage()
		return WrapError("WRITE", err)
	}

	req := c.slots.Lookup(out.Unique)
	if req == nil {
		c.metrics.RecordUnknownUnique()
		return NewRequestError("WRITE", out.Unique, ErrCodeNotFound, "")
	}
	if req.Opcode != wire.OpWrite && req.Opcode != wire.OpWriteSame {
		return NewRequestError("WRITE", out.Unique, ErrCodeInvalidMessage, "data fetch on a non-write request")
	}

	dst := body[wire.DataFetchOutSize:]
	if len(dst) == 0 {
		return NewRequestError("WRITE", out.Unique, ErrCodeCopyFault, "data fetch without destination")
	}

	align := int(req.Offset & wire.LogicalBlockMask)
	if align >= len(dst) {
		return nil
	}
	dst = dst[align:]

	if out.Offset > uint64(len(req.Payload)) {
		return NewRequestError("WRITE", out.Unique, ErrCodeInvalidMessage, "data fetch offset beyond payload")
	}
	copy(dst, req.Payload[out.Offset:])
	return nil
}
