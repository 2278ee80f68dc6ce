package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// LegacyVersion identifies which pre-netty client sent a legacy ping.
type LegacyVersion int

const (
	// LegacyNone marks a request that arrived over the framed protocol.
	LegacyNone LegacyVersion = iota
	// Legacy13 is the bare 0xFE ping of 1.3 and older.
	Legacy13
	// Legacy14 is 0xFE 0x01, sent by 1.4 and 1.5.
	Legacy14
	// Legacy16 is 0xFE 0x01 0xFA followed by MC|PingHost, sent by 1.6.
	Legacy16
)

// String returns the client generation the version stands for.
func (v LegacyVersion) String() string {
	switch v {
	case Legacy13:
		return "1.3"
	case Legacy14:
		return "1.4"
	case Legacy16:
		return "1.6"
	default:
		return "none"
	}
}

// LegacyPing is a decoded legacy ping request.
type LegacyPing struct {
	Version  LegacyVersion
	Protocol byte
	Host     string
	Port     uint16
}

// VirtualHost returns the declared address, empty before 1.6.
func (p LegacyPing) VirtualHost() string {
	if p.Version != Legacy16 || p.Host == "" {
		return ""
	}
	return JoinHostPort(p.Host, p.Port)
}

// IsLegacyPing reports whether the first byte of a connection starts a
// legacy ping.
func IsLegacyPing(first byte) bool {
	return first == LegacyPingMarker
}

// IsLegacyHandshake reports whether the first byte of a connection starts
// a pre-netty login handshake.
func IsLegacyHandshake(first byte) bool {
	return first == LegacyHandshakeMarker
}

// MoreFunc reports whether more input arrives within a short grace period.
// It is consulted only when nothing is buffered.
type MoreFunc func() bool

// ReadLegacyPing decodes a legacy ping. The generation is told apart by
// where the client stops writing: 1.3 sends 0xFE alone, 1.4 adds 0x01, 1.6
// follows with a MC|PingHost plugin message. When the buffer runs dry
// after a marker, more decides whether the rest is still in flight. A nil
// more treats an empty buffer as the end of the ping.
func ReadLegacyPing(r *bufio.Reader, more MoreFunc) (LegacyPing, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read legacy marker: %w", err)
	}
	if marker != LegacyPingMarker {
		return LegacyPing{}, fmt.Errorf("%w: legacy marker 0x%02X", ErrMalformedPacket, marker)
	}
	if !hasMore(r, more) {
		return LegacyPing{Version: Legacy13}, nil
	}

	payload, err := r.ReadByte()
	if err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read legacy payload: %w", err)
	}
	if payload != LegacyPingPayload {
		return LegacyPing{}, fmt.Errorf("%w: legacy payload 0x%02X", ErrMalformedPacket, payload)
	}
	if !hasMore(r, more) {
		return LegacyPing{Version: Legacy14}, nil
	}

	return readPingHost(r)
}

func hasMore(r *bufio.Reader, more MoreFunc) bool {
	if r.Buffered() > 0 {
		return true
	}
	return more != nil && more()
}

// readPingHost decodes the 1.6 plugin message.
// Format: [0xFA][channel:u16+utf16][len:u16][protocol:1][host:u16+utf16][port:i32]
func readPingHost(r *bufio.Reader) (LegacyPing, error) {
	id, err := r.ReadByte()
	if err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read plugin message id: %w", err)
	}
	if id != LegacyPluginMessage {
		return LegacyPing{}, fmt.Errorf("%w: plugin message id 0x%02X", ErrMalformedPacket, id)
	}

	channel, err := readLegacyString(r)
	if err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read plugin channel: %w", err)
	}
	if channel != LegacyPingHostChannel {
		return LegacyPing{}, fmt.Errorf("%w: unexpected channel %q", ErrMalformedPacket, channel)
	}

	var dataLength uint16
	if err := binary.Read(r, binary.BigEndian, &dataLength); err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read plugin data length: %w", err)
	}

	protocol, err := r.ReadByte()
	if err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read legacy protocol: %w", err)
	}

	host, err := readLegacyString(r)
	if err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read legacy host: %w", err)
	}

	var port int32
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return LegacyPing{}, fmt.Errorf("failed to read legacy port: %w", err)
	}
	if port < 0 || port > 0xFFFF {
		return LegacyPing{}, fmt.Errorf("%w: legacy port %d", ErrMalformedPacket, port)
	}

	return LegacyPing{
		Version:  Legacy16,
		Protocol: protocol,
		Host:     CleanVirtualHost(host),
		Port:     uint16(port),
	}, nil
}

// readLegacyString reads a u16 char count followed by UTF-16BE chars.
func readLegacyString(r io.Reader) (string, error) {
	var chars uint16
	if err := binary.Read(r, binary.BigEndian, &chars); err != nil {
		return "", err
	}
	if int(chars) > MaxHostLength {
		return "", fmt.Errorf("%w: legacy string of %d chars", ErrMalformedPacket, chars)
	}
	buf := make([]byte, int(chars)*2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return DecodeUTF16BE(buf)
}

// BuildLegacyPing encodes a legacy ping, used by tests and the probe
// client.
func BuildLegacyPing(p LegacyPing) ([]byte, error) {
	switch p.Version {
	case Legacy13:
		return []byte{LegacyPingMarker}, nil
	case Legacy14:
		return []byte{LegacyPingMarker, LegacyPingPayload}, nil
	case Legacy16:
	default:
		return nil, fmt.Errorf("%w: legacy version %d", ErrMalformedPacket, p.Version)
	}

	channel, err := EncodeUTF16BE(LegacyPingHostChannel)
	if err != nil {
		return nil, err
	}
	host, err := EncodeUTF16BE(p.Host)
	if err != nil {
		return nil, err
	}

	b := NewPacketBuilder()
	b.WriteByte(LegacyPingMarker).WriteByte(LegacyPingPayload).WriteByte(LegacyPluginMessage)
	b.WriteUint16(uint16(len(channel) / 2)).WriteBytes(channel)
	b.WriteUint16(uint16(7 + len(host)))
	b.WriteByte(p.Protocol)
	b.WriteUint16(uint16(len(host) / 2)).WriteBytes(host)
	b.WriteBytes(binary.BigEndian.AppendUint32(nil, uint32(p.Port)))
	return b.Build(), nil
}
