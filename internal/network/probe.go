package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/protocol"
)

// ProbeResult is the outcome of one status round trip.
type ProbeResult struct {
	// Status is the JSON document of the status response.
	Status string `json:"status"`
	// Latency is the ping round trip, zero when no pong arrived.
	Latency time.Duration `json:"latency_ns"`
	// Pong is false when the server closed without answering the ping,
	// which is what a responder in maintenance does.
	Pong bool `json:"pong"`
}

// Probe performs a status exchange against addr the way a client with
// protocolNumber would.
func Probe(ctx context.Context, addr string, protocolNumber int, timeout time.Duration) (ProbeResult, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	if protocolNumber == motd.NoProtocol {
		protocolNumber = motd.MaximumProtocol
	}

	conn, err := dial(ctx, addr, timeout)
	if err != nil {
		return ProbeResult{}, err
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	handshake, err := protocol.BuildHandshake(protocol.Handshake{
		Protocol:  int32(protocolNumber),
		Host:      host,
		Port:      uint16(port),
		NextState: protocol.NextStateStatus,
	})
	if err != nil {
		return ProbeResult{}, err
	}
	if _, err := conn.Write(append(handshake, protocol.BuildStatusRequest()...)); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to send status request: %w", err)
	}

	frame, err := protocol.ReadFrame(r, protocol.MaxFrameLength)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to read status response: %w", err)
	}
	if frame.ID != protocol.PktStatusResponse {
		return ProbeResult{}, fmt.Errorf("%w: status response id 0x%02X", protocol.ErrMalformedPacket, frame.ID)
	}
	status, err := protocol.DecodeStatusResponse(frame.Payload)
	if err != nil {
		return ProbeResult{}, err
	}
	result := ProbeResult{Status: status}

	sent := time.Now()
	token := sent.UnixNano()
	if _, err := conn.Write(protocol.BuildStatusPing(token)); err != nil {
		return result, nil
	}
	frame, err = protocol.ReadFrame(r, protocol.MaxHandshakeFrame)
	if err != nil {
		// Closed without a pong.
		return result, nil
	}
	if frame.ID != protocol.PktStatusPong {
		return result, fmt.Errorf("%w: pong id 0x%02X", protocol.ErrMalformedPacket, frame.ID)
	}
	echoed, err := protocol.DecodeStatusPing(frame.Payload)
	if err != nil {
		return result, err
	}
	if echoed != token {
		return result, fmt.Errorf("%w: pong payload %d, sent %d", protocol.ErrMalformedPacket, echoed, token)
	}
	result.Latency = time.Since(sent)
	result.Pong = true
	return result, nil
}

// ProbeLegacy sends a legacy ping and returns the decoded reply string.
func ProbeLegacy(ctx context.Context, addr string, version protocol.LegacyVersion, timeout time.Duration) (string, error) {
	ping := protocol.LegacyPing{Version: version}
	if version == protocol.Legacy16 {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return "", fmt.Errorf("invalid address %q: %w", addr, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return "", fmt.Errorf("invalid port in %q: %w", addr, err)
		}
		ping.Protocol = 78
		ping.Host = host
		ping.Port = uint16(port)
	}
	request, err := protocol.BuildLegacyPing(ping)
	if err != nil {
		return "", err
	}

	conn, err := dial(ctx, addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write(request); err != nil {
		return "", fmt.Errorf("failed to send legacy ping: %w", err)
	}
	return readLegacyKick(bufio.NewReader(conn))
}

func readLegacyKick(r io.Reader) (string, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", fmt.Errorf("failed to read legacy reply: %w", err)
	}
	if header[0] != protocol.LegacyKickMarker {
		return "", fmt.Errorf("%w: legacy reply marker 0x%02X", protocol.ErrMalformedPacket, header[0])
	}
	chars := binary.BigEndian.Uint16(header[1:])
	body := make([]byte, int(chars)*2)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", fmt.Errorf("failed to read legacy reply body: %w", err)
	}
	return protocol.DecodeUTF16BE(body)
}

func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	return conn, nil
}
