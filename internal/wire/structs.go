package wire

import "unsafe"

// ReqHeader prefixes every outbound request. Len counts the full message
// including the header itself; Size is the I/O length in bytes, which for an
// inline write equals the trailing payload length.
type ReqHeader struct {
	Len    uint32
	Opcode uint32
	Unique uint64
	Offset uint64
	Size   uint32
	Flags  uint32
}

// RespHeader prefixes every inbound consumer message. Unique == 0 marks a
// control message with Status carrying the control code; otherwise the
// message completes the request identified by Unique.
type RespHeader struct {
	Len    uint32
	Status int32
	Unique uint64
}

// DataFetchOut asks for a chunk of a lazy write payload. The destination is
// the remainder of the same message after this struct.
type DataFetchOut struct {
	Unique uint64
	Offset uint64
}

// DeviceAddOut announces a device attach.
type DeviceAddOut struct {
	DevID       uint64
	Size        uint64
	QueueDepth  uint32
	DiscardSize uint32
}

// DeviceRemoveOut announces a device detach.
type DeviceRemoveOut struct {
	DevID uint64
	Force uint32
	Pad   uint32
}

// SizeChangeOut announces an online resize.
type SizeChangeOut struct {
	DevID   uint64
	NewSize uint64
}

// Compile-time layout checks against the wire sizes
var (
	_ [ReqHeaderSize]byte      = [unsafe.Sizeof(ReqHeader{})]byte{}
	_ [RespHeaderSize]byte     = [unsafe.Sizeof(RespHeader{})]byte{}
	_ [DataFetchOutSize]byte   = [unsafe.Sizeof(DataFetchOut{})]byte{}
	_ [DeviceAddOutSize]byte   = [unsafe.Sizeof(DeviceAddOut{})]byte{}
	_ [DeviceRemoveOutSize]byte = [unsafe.Sizeof(DeviceRemoveOut{})]byte{}
	_ [SizeChangeOutSize]byte  = [unsafe.Sizeof(SizeChangeOut{})]byte{}
)
