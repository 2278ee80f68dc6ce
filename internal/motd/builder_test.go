package motd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTextV1(t *testing.T) {
	c := Content{VersionName: "Elytrium", Description: "&aHello §lthere{NL}second line"}
	p, err := Build(EraTextV1, c, testRenderer())
	require.NoError(t, err)

	assert.Equal(t, "Hello there§00000§00000", decodeLegacy(t, p.Bytes))
	assert.Equal(t, NoField, p.ProtocolOffset)

	size := len(p.Bytes)
	require.NoError(t, PatchField(p.Bytes, p.MaxOffset, textOccupancyField, 100))
	require.NoError(t, PatchField(p.Bytes, p.OnlineOffset, textOccupancyField, 10))
	assert.Equal(t, "Hello there§00100§00010", decodeLegacy(t, p.Bytes))
	assert.Len(t, p.Bytes, size)
}

func TestBuildTextV2(t *testing.T) {
	c := Content{VersionName: "&cProxy", Description: "&aHello{NL}ignored"}
	p, err := Build(EraTextV2, c, testRenderer())
	require.NoError(t, err)

	assert.Equal(t, "§1\x00127\x00§cProxy\x00§aHello\x0000000\x0000000", decodeLegacy(t, p.Bytes))
	assert.Equal(t, NoField, p.ProtocolOffset)

	require.NoError(t, PatchField(p.Bytes, p.MaxOffset, textOccupancyField, 4444))
	require.NoError(t, PatchField(p.Bytes, p.OnlineOffset, textOccupancyField, 7))
	assert.Equal(t, "§1\x00127\x00§cProxy\x00§aHello\x0004444\x0000007", decodeLegacy(t, p.Bytes))
}

func TestBuildBinary(t *testing.T) {
	c := Content{
		VersionName: "Elytrium",
		Description: "&6Welcome",
		Favicon:     FaviconPrefix + "AAAA",
		Information: []string{"&aline one", "line \"two\""},
	}
	p, err := Build(EraBinaryV2, c, testRenderer())
	require.NoError(t, err)

	doc := decodeStatus(t, p.Bytes)
	assert.Equal(t, 0, doc.Players.Max)
	assert.Equal(t, 0, doc.Players.Online)
	assert.Equal(t, PlaceholderProtocol, doc.Version.Protocol)
	assert.Equal(t, "Elytrium", doc.Version.Name)
	assert.JSONEq(t, `{"text":"Welcome","color":"gold"}`, string(doc.Description))
	assert.Equal(t, c.Favicon, doc.Favicon)
	require.Len(t, doc.Players.Sample, 2)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", doc.Players.Sample[0].ID)
	assert.Equal(t, "§aline one", doc.Players.Sample[0].Name)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", doc.Players.Sample[1].ID)
	assert.Equal(t, `line "two"`, doc.Players.Sample[1].Name)

	assert.Equal(t, byte(','), p.Bytes[p.MaxOffset+binaryOccupancyField.Span()])
	assert.Equal(t, byte(','), p.Bytes[p.OnlineOffset+binaryOccupancyField.Span()])
	assert.Equal(t, byte('}'), p.Bytes[p.ProtocolOffset+protocolField.Span()])

	size := len(p.Bytes)
	require.NoError(t, PatchField(p.Bytes, p.MaxOffset, binaryOccupancyField, 100))
	require.NoError(t, PatchField(p.Bytes, p.OnlineOffset, binaryOccupancyField, 10))
	require.NoError(t, PatchField(p.Bytes, p.ProtocolOffset, protocolField, 767))
	assert.Len(t, p.Bytes, size)

	doc = decodeStatus(t, p.Bytes)
	assert.Equal(t, 100, doc.Players.Max)
	assert.Equal(t, 10, doc.Players.Online)
	assert.Equal(t, 767, doc.Version.Protocol)
}

func TestBuildBinaryLayout(t *testing.T) {
	p, err := Build(EraBinaryV1, Content{VersionName: "v"}, testRenderer())
	require.NoError(t, err)

	doc, err := p.Document()
	require.NoError(t, err)
	assert.Equal(t,
		`{"players":{"max":       0,"online":       0,"sample":[]},"description":{"text":""},"version":{"name":"v","protocol":        1}}`,
		string(doc))
}

func TestBuildBinaryErasDifferOnlyInDescription(t *testing.T) {
	c := Content{VersionName: "v", Description: "&#ff4040warm"}

	v1, err := Build(EraBinaryV1, c, testRenderer())
	require.NoError(t, err)
	v2, err := Build(EraBinaryV2, c, testRenderer())
	require.NoError(t, err)

	assert.JSONEq(t, `{"text":"warm","color":"red"}`, string(decodeStatus(t, v1.Bytes).Description))
	assert.JSONEq(t, `{"text":"warm","color":"#ff4040"}`, string(decodeStatus(t, v2.Bytes).Description))
}

func TestBuildBinarySampleCap(t *testing.T) {
	lines := make([]string, 15)
	for i := range lines {
		lines[i] = "line"
	}
	p, err := Build(EraBinaryV2, Content{Information: lines}, testRenderer())
	require.NoError(t, err)

	doc := decodeStatus(t, p.Bytes)
	require.Len(t, doc.Players.Sample, MaxSampleEntries)
	assert.Equal(t, "00000000-0000-0000-0000-000000000009", doc.Players.Sample[9].ID)
}

func TestBuildBinaryLongFrame(t *testing.T) {
	// A description past 16 KiB needs a 3-byte outer varint; offsets must
	// shift with it.
	c := Content{Description: strings.Repeat("a", 20000)}
	p, err := Build(EraBinaryV2, c, testRenderer())
	require.NoError(t, err)

	require.NoError(t, PatchField(p.Bytes, p.MaxOffset, binaryOccupancyField, 12))
	require.NoError(t, PatchField(p.Bytes, p.OnlineOffset, binaryOccupancyField, 34))
	doc := decodeStatus(t, p.Bytes)
	assert.Equal(t, 12, doc.Players.Max)
	assert.Equal(t, 34, doc.Players.Online)
}

func TestBuildContentTooLarge(t *testing.T) {
	huge := Content{Description: strings.Repeat("x", 1<<21)}
	_, err := Build(EraBinaryV2, huge, testRenderer())
	assert.ErrorIs(t, err, ErrContentTooLarge)

	long := Content{Description: strings.Repeat("x", 40000)}
	_, err = Build(EraTextV1, long, testRenderer())
	assert.ErrorIs(t, err, ErrContentTooLarge)
	_, err = Build(EraTextV2, long, testRenderer())
	assert.ErrorIs(t, err, ErrContentTooLarge)
}

func TestLegacyErasHaveNoProtocolField(t *testing.T) {
	for _, era := range Eras() {
		p, err := Build(era, Content{VersionName: "v", Description: "d"}, testRenderer())
		require.NoError(t, err)
		if era.IsBinary() {
			assert.NotEqual(t, NoField, p.ProtocolOffset, era.String())
			assert.True(t, era.HasProtocolField())
		} else {
			assert.Equal(t, NoField, p.ProtocolOffset, era.String())
			assert.False(t, era.HasProtocolField())
		}
	}
}
