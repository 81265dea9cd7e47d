package wire

import (
	"encoding/binary"
	"fmt"
)

// All wire traffic is little-endian with fixed-size structs, so the codec is
// hand-rolled offset-by-offset rather than reflective.

// PutReqHeader marshals h into b, which must hold ReqHeaderSize bytes.
func PutReqHeader(b []byte, h *ReqHeader) {
	binary.LittleEndian.PutUint32(b[0:4], h.Len)
	binary.LittleEndian.PutUint32(b[4:8], h.Opcode)
	binary.LittleEndian.PutUint64(b[8:16], h.Unique)
	binary.LittleEndian.PutUint64(b[16:24], h.Offset)
	binary.LittleEndian.PutUint32(b[24:28], h.Size)
	binary.LittleEndian.PutUint32(b[28:32], h.Flags)
}

// ParseReqHeader unmarshals a request header from b.
func ParseReqHeader(b []byte) (*ReqHeader, error) {
	if len(b) < ReqHeaderSize {
		return nil, fmt.Errorf("request header truncated: %d bytes", len(b))
	}
	return &ReqHeader{
		Len:    binary.LittleEndian.Uint32(b[0:4]),
		Opcode: binary.LittleEndian.Uint32(b[4:8]),
		Unique: binary.LittleEndian.Uint64(b[8:16]),
		Offset: binary.LittleEndian.Uint64(b[16:24]),
		Size:   binary.LittleEndian.Uint32(b[24:28]),
		Flags:  binary.LittleEndian.Uint32(b[28:32]),
	}, nil
}

// PutRespHeader marshals h into b, which must hold RespHeaderSize bytes.
func PutRespHeader(b []byte, h *RespHeader) {
	binary.LittleEndian.PutUint32(b[0:4], h.Len)
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.Status))
	binary.LittleEndian.PutUint64(b[8:16], h.Unique)
}

// ParseRespHeader unmarshals a consumer message header from b.
func ParseRespHeader(b []byte) (*RespHeader, error) {
	if len(b) < RespHeaderSize {
		return nil, fmt.Errorf("message header truncated: %d bytes", len(b))
	}
	return &RespHeader{
		Len:    binary.LittleEndian.Uint32(b[0:4]),
		Status: int32(binary.LittleEndian.Uint32(b[4:8])),
		Unique: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// PutDataFetchOut marshals d into b, which must hold DataFetchOutSize bytes.
func PutDataFetchOut(b []byte, d *DataFetchOut) {
	binary.LittleEndian.PutUint64(b[0:8], d.Unique)
	binary.LittleEndian.PutUint64(b[8:16], d.Offset)
}

// ParseDataFetchOut unmarshals a data-fetch payload from b.
func ParseDataFetchOut(b []byte) (*DataFetchOut, error) {
	if len(b) < DataFetchOutSize {
		return nil, fmt.Errorf("data-fetch payload truncated: %d bytes", len(b))
	}
	return &DataFetchOut{
		Unique: binary.LittleEndian.Uint64(b[0:8]),
		Offset: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// PutDeviceAddOut marshals d into b, which must hold DeviceAddOutSize bytes.
func PutDeviceAddOut(b []byte, d *DeviceAddOut) {
	binary.LittleEndian.PutUint64(b[0:8], d.DevID)
	binary.LittleEndian.PutUint64(b[8:16], d.Size)
	binary.LittleEndian.PutUint32(b[16:20], d.QueueDepth)
	binary.LittleEndian.PutUint32(b[20:24], d.DiscardSize)
}

// ParseDeviceAddOut unmarshals a device-add payload from b.
func ParseDeviceAddOut(b []byte) (*DeviceAddOut, error) {
	if len(b) < DeviceAddOutSize {
		return nil, fmt.Errorf("device-add payload truncated: %d bytes", len(b))
	}
	return &DeviceAddOut{
		DevID:       binary.LittleEndian.Uint64(b[0:8]),
		Size:        binary.LittleEndian.Uint64(b[8:16]),
		QueueDepth:  binary.LittleEndian.Uint32(b[16:20]),
		DiscardSize: binary.LittleEndian.Uint32(b[20:24]),
	}, nil
}

// PutDeviceRemoveOut marshals d into b, which must hold DeviceRemoveOutSize
// bytes.
func PutDeviceRemoveOut(b []byte, d *DeviceRemoveOut) {
	binary.LittleEndian.PutUint64(b[0:8], d.DevID)
	binary.LittleEndian.PutUint32(b[8:12], d.Force)
	binary.LittleEndian.PutUint32(b[12:16], d.Pad)
}

// ParseDeviceRemoveOut unmarshals a device-remove payload from b.
func ParseDeviceRemoveOut(b []byte) (*DeviceRemoveOut, error) {
	if len(b) < DeviceRemoveOutSize {
		return nil, fmt.Errorf("device-remove payload truncated: %d bytes", len(b))
	}
	return &DeviceRemoveOut{
		DevID: binary.LittleEndian.Uint64(b[0:8]),
		Force: binary.LittleEndian.Uint32(b[8:12]),
		Pad:   binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// PutSizeChangeOut marshals d into b, which must hold SizeChangeOutSize bytes.
func PutSizeChangeOut(b []byte, d *SizeChangeOut) {
	binary.LittleEndian.PutUint64(b[0:8], d.DevID)
	binary.LittleEndian.PutUint64(b[8:16], d.NewSize)
}

// ParseSizeChangeOut unmarshals a size-change payload from b.
func ParseSizeChangeOut(b []byte) (*SizeChangeOut, error) {
	if len(b) < SizeChangeOutSize {
		return nil, fmt.Errorf("size-change payload truncated: %d bytes", len(b))
	}
	return &SizeChangeOut{
		DevID:   binary.LittleEndian.Uint64(b[0:8]),
		NewSize: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// EncodeControl builds a complete control message: RespHeader with Unique 0
// and Status set to code, followed by the already-marshaled payload.
func EncodeControl(code int32, payload []byte) []byte {
	msg := make([]byte, RespHeaderSize+len(payload))
	PutRespHeader(msg, &RespHeader{
		Len:    uint32(len(msg)),
		Status: code,
		Unique: 0,
	})
	copy(msg[RespHeaderSize:], payload)
	return msg
}

// IsZeroes reports whether b contains only zero bytes. It compares
// word-at-a-time so scanning a full write payload stays cheap.
func IsZeroes(b []byte) bool {
	i := 0
	for ; i+8 <= len(b); i += 8 {
		if binary.LittleEndian.Uint64(b[i:i+8]) != 0 {
			return false
		}
	}
	for ; i < len(b); i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}
