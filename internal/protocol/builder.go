package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/text/encoding/unicode"
)

// PacketBuilder constructs wire packets. Offsets handed out by Len are
// positions inside the body, before any framing is applied.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	b.buf.Write(binary.BigEndian.AppendUint16(nil, v))
	return b
}

// WriteInt64 writes an int64 in big-endian order.
func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	b.buf.Write(binary.BigEndian.AppendUint64(nil, uint64(v)))
	return b
}

// WriteVarInt writes a varint.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	var scratch [maxVarIntBytes]byte
	b.buf.Write(AppendVarInt(scratch[:0], v))
	return b
}

// WriteString writes a varint-length-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(int32(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteRaw writes s verbatim.
func (b *PacketBuilder) WriteRaw(s string) *PacketBuilder {
	b.buf.WriteString(s)
	return b
}

// WriteJSONString writes s as a quoted JSON string.
func (b *PacketBuilder) WriteJSONString(s string) *PacketBuilder {
	b.buf.WriteString(QuoteJSON(s))
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns a copy of the constructed bytes.
func (b *PacketBuilder) Build() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// BuildFramed wraps the body as [varint length][body].
func (b *PacketBuilder) BuildFramed() ([]byte, error) {
	data := b.buf.Bytes()
	if len(data) > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, len(data), MaxFrameLength)
	}
	out := make([]byte, 0, VarIntSize(int32(len(data)))+len(data))
	out = AppendVarInt(out, int32(len(data)))
	return append(out, data...), nil
}

// Len returns the current size of the body being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Pre-built packet constructors ----

// BuildStatusPong encodes the reply to a status ping.
// Format: [length:1=9][id:1=0x01][payload:8]
func BuildStatusPong(payload int64) []byte {
	b := NewPacketBuilder()
	b.WriteVarInt(PktStatusPong)
	b.WriteInt64(payload)
	out, _ := b.BuildFramed()
	return out
}

// BuildLoginDisconnect encodes a login-state disconnect carrying a JSON
// text component.
func BuildLoginDisconnect(reasonJSON string) ([]byte, error) {
	b := NewPacketBuilder()
	b.WriteVarInt(PktLoginDisconnect)
	b.WriteString(reasonJSON)
	return b.BuildFramed()
}

// BuildHandshake encodes a handshake packet, used by the probe client.
func BuildHandshake(h Handshake) ([]byte, error) {
	b := NewPacketBuilder()
	b.WriteVarInt(PktHandshake)
	b.WriteVarInt(h.Protocol)
	b.WriteString(h.Host)
	b.WriteUint16(h.Port)
	b.WriteVarInt(h.NextState)
	return b.BuildFramed()
}

// BuildStatusRequest encodes an empty status request.
func BuildStatusRequest() []byte {
	return []byte{0x01, byte(PktStatusRequest)}
}

// BuildStatusPing encodes a status ping with the given payload.
func BuildStatusPing(payload int64) []byte {
	b := NewPacketBuilder()
	b.WriteVarInt(PktStatusPing)
	b.WriteInt64(payload)
	out, _ := b.BuildFramed()
	return out
}

// BuildLegacyKick encodes s as a legacy disconnect: 0xFF, the UTF-16
// char count as a big-endian u16, then the UTF-16BE chars.
func BuildLegacyKick(s string) ([]byte, error) {
	encoded, err := EncodeUTF16BE(s)
	if err != nil {
		return nil, err
	}
	chars := len(encoded) / 2
	if chars > MaxLegacyChars {
		return nil, fmt.Errorf("%w: %d chars (max %d)", ErrPacketTooLarge, chars, MaxLegacyChars)
	}
	b := NewPacketBuilder()
	b.WriteByte(LegacyKickMarker)
	b.WriteUint16(uint16(chars))
	b.WriteBytes(encoded)
	return b.Build(), nil
}

// EncodeUTF16BE encodes s as UTF-16BE without a byte order mark.
func EncodeUTF16BE(s string) ([]byte, error) {
	out, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode utf-16: %w", err)
	}
	return out, nil
}

// DecodeUTF16BE decodes UTF-16BE bytes.
func DecodeUTF16BE(b []byte) (string, error) {
	out, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode utf-16: %w", err)
	}
	return string(out), nil
}

// QuoteJSON returns s as a JSON string literal.
func QuoteJSON(s string) string {
	out, err := json.Marshal(s)
	if err != nil {
		// strings always marshal
		return strconv.Quote(s)
	}
	return string(out)
}

// JoinHostPort formats a declared host and port as host:port.
func JoinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
