package protocol

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrVarIntTooLong is returned when a varint spans more than five bytes.
	ErrVarIntTooLong = errors.New("varint too long")

	// ErrMalformedPacket is returned when a packet does not decode.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrPacketTooLarge is returned when a frame exceeds its limit.
	ErrPacketTooLarge = errors.New("packet too large")
)

const maxVarIntBytes = 5

// VarIntSize returns the encoded size of v in bytes.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// AppendVarInt appends the varint encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// ReadVarInt reads one varint from r.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarIntTooLong
}

// DecodeVarInt decodes a varint from the front of b, returning the value
// and the number of bytes consumed.
func DecodeVarInt(b []byte) (int32, int, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("%w: truncated varint", ErrMalformedPacket)
		}
		result |= uint32(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooLong
}
