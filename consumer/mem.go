// Package consumer provides reference consumer-half implementations of the
// channel protocol.
package consumer

import (
	"errors"
	"io"
	"sync"
	"syscall"

	"github.com/blkchan/go-blkchan/internal/logging"
	"github.com/blkchan/go-blkchan/internal/wire"
)

// MemDisk is a RAM-backed consumer: it services the request stream against
// an in-memory byte array and answers with completion messages.
type MemDisk struct {
	devID  uint64
	logger *logging.Logger

	mu   sync.RWMutex
	data []byte
}

// NewMemDisk creates a memory disk of the specified size.
func NewMemDisk(devID uint64, size int64) *MemDisk {
	return &MemDisk{
		devID:  devID,
		logger: logging.Default().WithChannel("memdisk"),
		data:   make([]byte, size),
	}
}

// Size returns the disk size in bytes.
func (m *MemDisk) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// ReadAt copies disk contents into p, short at the device end.
func (m *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[off:])
	return n, nil
}

// WriteAt copies p onto the disk.
func (m *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off >= int64(len(m.data)) {
		return 0, errors.New("write beyond end of device")
	}
	n := copy(m.data[off:], p)
	return n, nil
}

// Discard zeroes the given range, clamped to the device end.
func (m *MemDisk) Discard(off, length int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off >= int64(len(m.data)) {
		return
	}
	end := off + length
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	for i := off; i < end; i++ {
		m.data[i] = 0
	}
}

// Announce sends the device-add control message for this disk.
func (m *MemDisk) Announce(w io.Writer) error {
	payload := make([]byte, wire.DeviceAddOutSize)
	wire.PutDeviceAddOut(payload, &wire.DeviceAddOut{
		DevID:       m.devID,
		Size:        uint64(m.Size()),
		QueueDepth:  128,
		DiscardSize: 4096,
	})
	_, err := w.Write(wire.EncodeControl(wire.CtrlDeviceAdd, payload))
	return err
}

// Serve reads requests from rw and writes back completions until the stream
// closes. Batched requests arrive as concatenated messages, so one
// header-then-payload read per iteration handles any batch size.
func (m *MemDisk) Serve(rw io.ReadWriter) error {
	hdr := make([]byte, wire.ReqHeaderSize)
	for {
		if _, err := io.ReadFull(rw, hdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		req, err := wire.ParseReqHeader(hdr)
		if err != nil {
			return err
		}
		if req.Len < wire.ReqHeaderSize {
			return errors.New("request length out of range")
		}

		payload := make([]byte, req.Len-wire.ReqHeaderSize)
		if _, err := io.ReadFull(rw, payload); err != nil {
			return err
		}

		resp := m.handle(req, payload)
		if _, err := rw.Write(resp); err != nil {
			return err
		}
	}
}

// handle services one request and builds its completion message.
func (m *MemDisk) handle(req *wire.ReqHeader, payload []byte) []byte {
	var (
		status int32
		data   []byte
	)

	switch req.Opcode {
	case wire.OpRead:
		data = make([]byte, req.Size)
		n, _ := m.ReadAt(data, int64(req.Offset))
		if n < int(req.Size) {
			status = -int32(syscall.EIO)
			data = nil
		}

	case wire.OpWrite:
		switch {
		case req.Flags&wire.FlagLazyPayload != 0:
			// Lazy payloads need a side channel; a stream consumer
			// only sees inline data.
			status = -int32(syscall.EOPNOTSUPP)
		case uint32(len(payload)) != req.Size:
			status = -int32(syscall.EINVAL)
		default:
			if _, err := m.WriteAt(payload, int64(req.Offset)); err != nil {
				status = -int32(syscall.EIO)
			}
		}

	case wire.OpWriteSame:
		if len(payload) == 0 {
			status = -int32(syscall.EINVAL)
			break
		}
		block := make([]byte, req.Size)
		for off := 0; off < len(block); off += len(payload) {
			copy(block[off:], payload)
		}
		if _, err := m.WriteAt(block, int64(req.Offset)); err != nil {
			status = -int32(syscall.EIO)
		}

	case wire.OpDiscard, wire.OpWriteZeros:
		m.Discard(int64(req.Offset), int64(req.Size))

	case wire.OpFlush:
		// Nothing to persist.

	default:
		m.logger.Warn("unknown opcode", "opcode", req.Opcode, "unique", req.Unique)
		status = -int32(syscall.EINVAL)
	}

	resp := make([]byte, wire.RespHeaderSize+len(data))
	wire.PutRespHeader(resp, &wire.RespHeader{
		Len:    uint32(len(resp)),
		Status: status,
		Unique: req.Unique,
	})
	copy(resp[wire.RespHeaderSize:], data)
	return resp
}
