// Package protocol implements the wire codecs for the server-list ping
// protocol: the varint-framed handshake and status packets used by modern
// clients, and the single-message legacy pings sent by clients that predate
// the framed protocol. Multi-byte integers are big-endian.
package protocol

// Connection states a handshake may request.
const (
	NextStateStatus   int32 = 1
	NextStateLogin    int32 = 2
	NextStateTransfer int32 = 3
)

// Packet IDs in the handshake and status states.
const (
	PktHandshake       int32 = 0x00
	PktStatusRequest   int32 = 0x00
	PktStatusResponse  int32 = 0x00
	PktStatusPing      int32 = 0x01
	PktStatusPong      int32 = 0x01
	PktLoginDisconnect int32 = 0x00
)

// Legacy single-byte markers.
const (
	LegacyPingMarker      byte = 0xFE // legacy server list ping
	LegacyPingPayload     byte = 0x01 // 1.4+ ping payload byte
	LegacyPluginMessage   byte = 0xFA // 1.6 MC|PingHost plugin message
	LegacyHandshakeMarker byte = 0x02 // pre-netty login handshake
	LegacyKickMarker      byte = 0xFF // legacy disconnect, carries ping replies
)

// LegacyPingHostChannel names the plugin channel of a 1.6 ping.
const LegacyPingHostChannel = "MC|PingHost"

// Size limits.
const (
	// MaxFrameLength is the largest frame a 3-byte varint can describe.
	MaxFrameLength = 1<<21 - 1

	// MaxHandshakeFrame bounds inbound frames before the status state.
	MaxHandshakeFrame = 1024

	// MaxLegacyChars is the largest char count a legacy kick can carry.
	MaxLegacyChars = 1<<15 - 1

	// MaxHostLength bounds the declared server address.
	MaxHostLength = 255
)

// Handshake is the first framed packet a modern client sends.
type Handshake struct {
	Protocol  int32
	Host      string
	Port      uint16
	NextState int32
}

// VirtualHost returns the declared address as host:port.
func (h Handshake) VirtualHost() string {
	return JoinHostPort(h.Host, h.Port)
}

// Frame is one decoded varint-framed packet.
type Frame struct {
	ID      int32
	Payload []byte
}
