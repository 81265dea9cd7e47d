package blkchan

import (
	"context"
	"errors"
	"io"

	"github.com/blkchan/go-blkchan/internal/constants"
	"github.com/blkchan/go-blkchan/internal/logging"
	"github.com/blkchan/go-blkchan/internal/wire"
)

// PumpConfig tunes a Pump.
type PumpConfig struct {
	// BufferSize is the serialization buffer handed to each ReadRequests
	// call. Defaults to 1MB.
	BufferSize uint32

	Logger *logging.Logger
}

// Pump drives a Channel over a byte stream: one goroutine batches requests
// out to rw, another reassembles length-prefixed consumer messages and
// applies them. It is the consumer-side transport for channels whose
// consumer lives behind a socketpair, pipe or TCP connection.
type Pump struct {
	ch      *Channel
	rw      io.ReadWriter
	bufSize uint32
	logger  *logging.Logger
}

// NewPump creates a pump for ch over rw.
func NewPump(ch *Channel, rw io.ReadWriter, cfg *PumpConfig) *Pump {
	if cfg == nil {
		cfg = &PumpConfig{}
	}
	bufSize := cfg.BufferSize
	if bufSize == 0 {
		bufSize = constants.DefaultReadBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Pump{
		ch:      ch,
		rw:      rw,
		bufSize: bufSize,
		logger:  logger,
	}
}

// Run pumps both directions until the stream closes, the channel goes down,
// or ctx is cancelled. The inbound loop blocks in rw.Read, so unblocking a
// cancelled Run requires closing the stream.
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- p.outbound(ctx) }()
	go func() { errc <- p.inbound() }()

	err := <-errc
	cancel()
	return err
}

// outbound batches requests into pooled buffers and writes them to the
// stream.
func (p *Pump) outbound(ctx context.Context) error {
	for {
		buf := GetBuffer(p.bufSize)
		n, err := p.ch.ReadRequests(ctx, buf)
		if err != nil {
			PutBuffer(buf)
			if IsCode(err, ErrCodeInterrupted) || IsCode(err, ErrCodeChannelDown) {
				return nil
			}
			return err
		}

		_, werr := p.rw.Write(buf[:n])
		PutBuffer(buf)
		if werr != nil {
			p.logger.Error("outbound write failed", "error", werr)
			p.ch.Release()
			return WrapError("PUMP", werr)
		}
	}
}

// inbound reassembles one length-prefixed message at a time and applies it.
// EOF means the consumer went away and releases the channel; a message the
// channel rejects is logged and skipped, matching a consumer that ignores a
// failed write.
func (p *Pump) inbound() error {
	hdr := make([]byte, wire.RespHeaderSize)
	for {
		if _, err := io.ReadFull(p.rw, hdr); err != nil {
			p.ch.Release()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return WrapError("PUMP", err)
		}

		h, err := wire.ParseRespHeader(hdr)
		if err != nil {
			p.ch.Release()
			return WrapError("PUMP", err)
		}
		if h.Len < wire.RespHeaderSize || h.Len > constants.MaxMessageSize {
			p.ch.Release()
			return NewError("PUMP", ErrCodeInvalidMessage, "message length out of range")
		}

		msg := GetBuffer(h.Len)
		copy(msg, hdr)
		if _, err := io.ReadFull(p.rw, msg[wire.RespHeaderSize:]); err != nil {
			PutBuffer(msg)
			p.ch.Release()
			return WrapError("PUMP", err)
		}

		if _, err := p.ch.WriteMessage(msg); err != nil {
			p.logger.Warn("consumer message rejected", "error", err)
		}
		PutBuffer(msg)
	}
}
