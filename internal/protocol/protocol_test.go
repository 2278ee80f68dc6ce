package protocol

import (
	"bufio"
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt(t *testing.T) {
	cases := []struct {
		value int32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xFF, 0x01}},
		{25565, []byte{0xDD, 0xC7, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{-1, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
	}
	for _, tc := range cases {
		encoded := AppendVarInt(nil, tc.value)
		assert.Equal(t, tc.bytes, encoded, "encode %d", tc.value)
		assert.Equal(t, len(tc.bytes), VarIntSize(tc.value))

		decoded, n, err := DecodeVarInt(encoded)
		require.NoError(t, err)
		assert.Equal(t, tc.value, decoded)
		assert.Equal(t, len(encoded), n)

		read, err := ReadVarInt(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, tc.value, read)
	}
}

func TestVarIntTooLong(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	assert.ErrorIs(t, err, ErrVarIntTooLong)

	_, _, err = DecodeVarInt([]byte{0x80})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestHandshakeRoundTrip(t *testing.T) {
	want := Handshake{Protocol: 767, Host: "play.example.net", Port: 25565, NextState: NextStateStatus}
	data, err := BuildHandshake(want)
	require.NoError(t, err)

	frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(data)), MaxHandshakeFrame)
	require.NoError(t, err)
	assert.Equal(t, PktHandshake, frame.ID)

	got, err := DecodeHandshake(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "play.example.net:25565", got.VirtualHost())
}

func TestCleanVirtualHost(t *testing.T) {
	assert.Equal(t, "play.example.net", CleanVirtualHost("Play.Example.NET."))
	assert.Equal(t, "play.example.net", CleanVirtualHost("play.example.net\x00FML2\x00"))
	assert.Equal(t, "", CleanVirtualHost(""))
}

func TestReadFrameLimits(t *testing.T) {
	big := AppendVarInt(nil, MaxHandshakeFrame+1)
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(big)), MaxHandshakeFrame)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader([]byte{0x00})), MaxHandshakeFrame)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestStatusPingAndPong(t *testing.T) {
	ping := BuildStatusPing(0x0102030405060708)
	frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(ping)), MaxHandshakeFrame)
	require.NoError(t, err)
	assert.Equal(t, PktStatusPing, frame.ID)

	payload, err := DecodeStatusPing(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(0x0102030405060708), payload)

	pong := BuildStatusPong(payload)
	assert.Equal(t, []byte{0x09, 0x01, 1, 2, 3, 4, 5, 6, 7, 8}, pong)

	_, err = DecodeStatusPing([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestLegacyPingVersions(t *testing.T) {
	for _, v := range []LegacyVersion{Legacy13, Legacy14} {
		data, err := BuildLegacyPing(LegacyPing{Version: v})
		require.NoError(t, err)
		got, err := ReadLegacyPing(bufio.NewReader(bytes.NewReader(data)), nil)
		require.NoError(t, err)
		assert.Equal(t, v, got.Version)
		assert.Empty(t, got.VirtualHost())
	}

	data, err := BuildLegacyPing(LegacyPing{Version: Legacy16, Protocol: 78, Host: "Lobby.Example.net", Port: 25565})
	require.NoError(t, err)
	got, err := ReadLegacyPing(bufio.NewReader(bytes.NewReader(data)), nil)
	require.NoError(t, err)
	assert.Equal(t, Legacy16, got.Version)
	assert.Equal(t, byte(78), got.Protocol)
	assert.Equal(t, "lobby.example.net:25565", got.VirtualHost())
}

func TestLegacyPingSplitAcrossReads(t *testing.T) {
	data, err := BuildLegacyPing(LegacyPing{Version: Legacy16, Protocol: 78, Host: "play.example.net", Port: 25565})
	require.NoError(t, err)

	r := bufio.NewReader(iotest.OneByteReader(bytes.NewReader(data)))
	got, err := ReadLegacyPing(r, nil)
	require.NoError(t, err)
	assert.Equal(t, Legacy13, got.Version, "an empty buffer ends the ping without a wait")

	r = bufio.NewReader(iotest.OneByteReader(bytes.NewReader(data)))
	peek := func() bool {
		_, err := r.Peek(1)
		return err == nil
	}
	got, err = ReadLegacyPing(r, peek)
	require.NoError(t, err)
	assert.Equal(t, Legacy16, got.Version)
	assert.Equal(t, "play.example.net:25565", got.VirtualHost())

	short, err := BuildLegacyPing(LegacyPing{Version: Legacy14})
	require.NoError(t, err)
	r = bufio.NewReader(iotest.OneByteReader(bytes.NewReader(short)))
	got, err = ReadLegacyPing(r, peek)
	require.NoError(t, err)
	assert.Equal(t, Legacy14, got.Version)
}

func TestLegacyPingRejectsWrongChannel(t *testing.T) {
	channel, err := EncodeUTF16BE("MC|Brand")
	require.NoError(t, err)

	b := NewPacketBuilder()
	b.WriteByte(LegacyPingMarker).WriteByte(LegacyPingPayload).WriteByte(LegacyPluginMessage)
	b.WriteUint16(uint16(len(channel) / 2)).WriteBytes(channel)

	_, err = ReadLegacyPing(bufio.NewReader(bytes.NewReader(b.Build())), nil)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestLegacyKick(t *testing.T) {
	data, err := BuildLegacyKick("§1\x00127")
	require.NoError(t, err)
	assert.Equal(t, LegacyKickMarker, data[0])
	assert.Equal(t, []byte{0x00, 0x06}, data[1:3])
	assert.Equal(t, []byte{0x00, 0xA7, 0x00, '1', 0x00, 0x00, 0x00, '1', 0x00, '2', 0x00, '7'}, data[3:])

	decoded, err := DecodeUTF16BE(data[3:])
	require.NoError(t, err)
	assert.Equal(t, "§1\x00127", decoded)
}

func TestLoginDisconnect(t *testing.T) {
	data, err := BuildLoginDisconnect(`{"text":"bye"}`)
	require.NoError(t, err)

	frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(data)), MaxFrameLength)
	require.NoError(t, err)
	assert.Equal(t, PktLoginDisconnect, frame.ID)

	reason, err := DecodeStatusResponse(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"bye"}`, reason)
}

func TestQuoteJSON(t *testing.T) {
	assert.Equal(t, `"a\"b"`, QuoteJSON(`a"b`))
	assert.Equal(t, `"§aGreen"`, QuoteJSON("§aGreen"))
}
