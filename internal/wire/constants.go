// Package wire defines the channel message formats shared by the producer
// and consumer halves: fixed-size little-endian headers, control payloads,
// and the opcode/flag/status constants.
package wire

// Request opcodes (producer → consumer)
const (
	OpRead       = 1
	OpWrite      = 2
	OpDiscard    = 3
	OpFlush      = 4
	OpWriteSame  = 5
	OpWriteZeros = 6
)

// Request flags
const (
	// FlagSync requests write-through semantics for this request
	FlagSync = 1 << 0

	// FlagLazyPayload marks a write whose payload is not serialized inline;
	// the consumer fetches it with a CtrlDataFetch control message
	FlagLazyPayload = 1 << 1
)

// Control message codes. A consumer message with Unique == 0 is a control
// message and carries one of these in the Status field.
const (
	CtrlDataFetch    = 1
	CtrlDeviceAdd    = 2
	CtrlDeviceRemove = 3
	CtrlSizeChange   = 4
)

// Header and payload sizes in bytes
const (
	ReqHeaderSize  = 32
	RespHeaderSize = 16

	DataFetchOutSize    = 16
	DeviceAddOutSize    = 24
	DeviceRemoveOutSize = 16
	SizeChangeOutSize   = 16
)

// MaxStatusMagnitude bounds completion status values: a completion status
// must lie in (-MaxStatusMagnitude, 0], anything else is malformed.
const MaxStatusMagnitude = 1000

// Logical block geometry used for sub-block payload alignment
const (
	LogicalBlockSize  = 512
	LogicalBlockShift = 9
	LogicalBlockMask  = LogicalBlockSize - 1
)
