package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// ReadFrame reads a single varint-framed packet from a reader.
// Frame format: [varint length][varint id][payload...]
func ReadFrame(r *bufio.Reader, maxLength int) (Frame, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame length: %w", err)
	}
	if length <= 0 {
		return Frame{}, fmt.Errorf("%w: frame length %d", ErrMalformedPacket, length)
	}
	if int(length) > maxLength {
		return Frame{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, length, maxLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("failed to read frame body (%d bytes): %w", length, err)
	}

	id, n, err := DecodeVarInt(body)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read packet id: %w", err)
	}
	return Frame{ID: id, Payload: body[n:]}, nil
}

// WriteFrame writes an already-framed packet to a writer.
func WriteFrame(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}

// DecodeHandshake parses the payload of a handshake packet.
// Format: [protocol:varint][host:string][port:u16][next_state:varint]
func DecodeHandshake(payload []byte) (Handshake, error) {
	r := bytes.NewReader(payload)

	protocol, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, fmt.Errorf("failed to parse handshake protocol: %w", err)
	}

	host, err := readString(r, MaxHostLength*4)
	if err != nil {
		return Handshake{}, fmt.Errorf("failed to parse handshake host: %w", err)
	}

	var port uint16
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return Handshake{}, fmt.Errorf("failed to parse handshake port: %w", err)
	}

	next, err := ReadVarInt(r)
	if err != nil {
		return Handshake{}, fmt.Errorf("failed to parse handshake next state: %w", err)
	}

	return Handshake{
		Protocol:  protocol,
		Host:      CleanVirtualHost(host),
		Port:      port,
		NextState: next,
	}, nil
}

// DecodeStatusPing parses the payload of a status ping.
func DecodeStatusPing(payload []byte) (int64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("%w: status ping payload is %d bytes", ErrMalformedPacket, len(payload))
	}
	return int64(binary.BigEndian.Uint64(payload)), nil
}

// DecodeStatusResponse parses the JSON document out of a status response
// payload.
func DecodeStatusResponse(payload []byte) (string, error) {
	return readString(bytes.NewReader(payload), MaxFrameLength)
}

// CleanVirtualHost strips forwarding markers that some clients and mods
// append after a NUL byte, and the trailing dot of a fully-qualified name.
func CleanVirtualHost(host string) string {
	if i := strings.IndexByte(host, 0); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}

// readString reads a varint-length-prefixed UTF-8 string.
func readString(r *bytes.Reader, maxLength int) (string, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if length < 0 || int(length) > maxLength {
		return "", fmt.Errorf("%w: string length %d", ErrMalformedPacket, length)
	}
	if int(length) > r.Len() {
		return "", fmt.Errorf("%w: string overruns packet", ErrMalformedPacket)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
