package blkchan

import (
	"sync/atomic"
	"time"

	"github.com/blkchan/go-blkchan/internal/wire"
)

// CompletionFunc is called exactly once when a request is finalized, with
// Status already set. It runs on the goroutine that finalizes the request,
// which may be a submitter, the consumer, or an aborter.
type CompletionFunc func(*Request)

// Request is one block I/O request traveling producer → consumer. The
// submitter fills the public fields; Submit assigns the identifier and the
// ring assigns the delivery sequence.
type Request struct {
	Opcode uint32
	Flags  uint32
	Offset uint64
	Size   uint32

	// Payload is the write data. It is serialized inline unless
	// FlagLazyPayload is set, in which case the consumer pulls it with a
	// data-fetch control message.
	Payload []byte

	// Data receives a read completion's payload, scattered across the
	// segments in order.
	Data [][]byte

	// End is the completion callback.
	End CompletionFunc

	// Status is the completion status, valid once End has run.
	Status int32

	unique    uint64
	sequence  uint64
	submitted time.Time
	hooked    bool
	done      atomic.Bool
}

// NewRequest creates a request for the given operation.
func NewRequest(opcode uint32, offset uint64, size uint32) *Request {
	return &Request{
		Opcode: opcode,
		Offset: offset,
		Size:   size,
	}
}

// Unique returns the request identifier, valid after Submit.
func (r *Request) Unique() uint64 {
	return r.unique
}

// Sequence returns the delivery sequence stamped at enqueue time.
func (r *Request) Sequence() uint64 {
	return r.sequence
}

// SetSequence is called by the ring when the request is enqueued.
func (r *Request) SetSequence(seq uint64) {
	r.sequence = seq
}

func (r *Request) finalized() bool {
	return r.done.Load()
}

// inlinePayload reports whether the payload rides inside the serialized
// request.
func (r *Request) inlinePayload() bool {
	if r.Flags&wire.FlagLazyPayload != 0 {
		return false
	}
	switch r.Opcode {
	case wire.OpWrite, wire.OpWriteSame:
		return len(r.Payload) > 0
	}
	return false
}

// wireLen returns the serialized size of the request.
func (r *Request) wireLen() int {
	n := wire.ReqHeaderSize
	if r.inlinePayload() {
		n += len(r.Payload)
	}
	return n
}

// opName returns the opcode's log name.
func (r *Request) opName() string {
	switch r.Opcode {
	case wire.OpRead:
		return "READ"
	case wire.OpWrite:
		return "WRITE"
	case wire.OpDiscard:
		return "DISCARD"
	case wire.OpFlush:
		return "FLUSH"
	case wire.OpWriteSame:
		return "WRITE_SAME"
	case wire.OpWriteZeros:
		return "WRITE_ZEROS"
	default:
		return "UNKNOWN"
	}
}
