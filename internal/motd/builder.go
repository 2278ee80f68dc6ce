package motd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/energizer-project/pingcache/internal/protocol"
)

// NoField marks a field offset the era does not carry.
const NoField = -1

// MaxSampleEntries caps the hover list of a binary status response.
const MaxSampleEntries = 10

// legacyProtocolMarker fills the protocol slot of a TextV2 reply. Legacy
// clients never match it, so they show the version name.
const legacyProtocolMarker = "127"

// legacyKickHeader is the marker byte plus the u16 char count.
const legacyKickHeader = 3

// TextRenderer converts configured markup into the forms each era shows.
type TextRenderer interface {
	// Plain strips all formatting.
	Plain(markup string) string
	// Legacy returns section-sign formatted text.
	Legacy(markup string) string
	// JSON returns a text component; modern selects the 1.16+ encoding.
	JSON(markup string, modern bool) (string, error)
}

// Content is one combination of display values.
type Content struct {
	VersionName string
	Description string
	Favicon     string
	Information []string
}

// Packet is a fully serialized response and the offsets of its mutable
// fields.
type Packet struct {
	Era            Era
	Bytes          []byte
	MaxOffset      int
	OnlineOffset   int
	ProtocolOffset int
}

// Build serializes c for era.
func Build(era Era, c Content, r TextRenderer) (*Packet, error) {
	switch era {
	case EraTextV1:
		return buildTextV1(c, r)
	case EraTextV2:
		return buildTextV2(c, r)
	case EraBinaryV1, EraBinaryV2:
		return buildBinary(era, c, r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedVersion, era)
	}
}

// buildTextV1 lays out "description§max§online" as a legacy kick.
func buildTextV1(c Content, r TextRenderer) (*Packet, error) {
	description := strings.ReplaceAll(firstLine(r.Plain(c.Description)), "§", "")
	prefix := description + "§"
	return buildLegacy(EraTextV1, prefix, "§")
}

// buildTextV2 lays out the 1.4+ fields "§1", protocol, version name,
// description, max and online joined by NUL characters.
func buildTextV2(c Content, r TextRenderer) (*Packet, error) {
	fields := []string{
		"§1",
		legacyProtocolMarker,
		stripNUL(r.Legacy(c.VersionName)),
		stripNUL(firstLine(r.Legacy(c.Description))),
	}
	prefix := strings.Join(fields, "\x00") + "\x00"
	return buildLegacy(EraTextV2, prefix, "\x00")
}

func buildLegacy(era Era, prefix, separator string) (*Packet, error) {
	zeros := strings.Repeat("0", TextOccupancyWidth)
	data, err := protocol.BuildLegacyKick(prefix + zeros + separator + zeros)
	if err != nil {
		if errors.Is(err, protocol.ErrPacketTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrContentTooLarge, err)
		}
		return nil, err
	}

	encodedPrefix, err := protocol.EncodeUTF16BE(prefix)
	if err != nil {
		return nil, err
	}
	encodedSeparator, err := protocol.EncodeUTF16BE(separator)
	if err != nil {
		return nil, err
	}
	maxOffset := legacyKickHeader + len(encodedPrefix)
	return &Packet{
		Era:            era,
		Bytes:          data,
		MaxOffset:      maxOffset,
		OnlineOffset:   maxOffset + textOccupancyField.Span() + len(encodedSeparator),
		ProtocolOffset: NoField,
	}, nil
}

// buildBinary composes the JSON status document and frames it as
// [varint length][0x00][varint json length][json].
func buildBinary(era Era, c Content, r TextRenderer) (*Packet, error) {
	description, err := r.JSON(c.Description, behaviors[era].modern)
	if err != nil {
		return nil, fmt.Errorf("failed to render description: %w", err)
	}

	b := protocol.NewPacketBuilder()
	b.WriteRaw(`{"players":{"max":`)
	maxAt := b.Len()
	b.WriteRaw(blankField(binaryOccupancyField))
	b.WriteRaw(`,"online":`)
	onlineAt := b.Len()
	b.WriteRaw(blankField(binaryOccupancyField))
	b.WriteRaw(`,"sample":[`)
	for i, line := range sampleLines(c.Information) {
		if i > 0 {
			b.WriteRaw(",")
		}
		b.WriteRaw(`{"id":"`).WriteRaw(sampleID(i)).WriteRaw(`","name":`)
		b.WriteJSONString(r.Legacy(line)).WriteRaw("}")
	}
	b.WriteRaw(`]},"description":`).WriteRaw(description)
	b.WriteRaw(`,"version":{"name":`).WriteJSONString(r.Legacy(c.VersionName))
	b.WriteRaw(`,"protocol":`)
	protocolAt := b.Len()
	b.WriteRaw(blankField(protocolField)).WriteRaw("}")
	if c.Favicon != "" {
		b.WriteRaw(`,"favicon":`).WriteJSONString(c.Favicon)
	}
	b.WriteRaw("}")
	payload := b.Build()

	inner := int32(len(payload))
	outer := 1 + protocol.VarIntSize(inner) + len(payload)
	if outer > protocol.MaxFrameLength {
		return nil, fmt.Errorf("%w: %d-byte status frame (max %d)", ErrContentTooLarge, outer, protocol.MaxFrameLength)
	}

	data := make([]byte, 0, protocol.VarIntSize(int32(outer))+outer)
	data = protocol.AppendVarInt(data, int32(outer))
	data = append(data, byte(protocol.PktStatusResponse))
	data = protocol.AppendVarInt(data, inner)
	prefix := len(data)
	data = append(data, payload...)

	p := &Packet{
		Era:            era,
		Bytes:          data,
		MaxOffset:      prefix + maxAt,
		OnlineOffset:   prefix + onlineAt,
		ProtocolOffset: prefix + protocolAt,
	}
	if err := p.initFields(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Packet) initFields() error {
	l := p.Era.OccupancyLayout()
	if err := PatchField(p.Bytes, p.MaxOffset, l, 0); err != nil {
		return err
	}
	if err := PatchField(p.Bytes, p.OnlineOffset, l, 0); err != nil {
		return err
	}
	return PatchField(p.Bytes, p.ProtocolOffset, protocolField, PlaceholderProtocol)
}

// Document returns the JSON document of a binary packet.
func (p *Packet) Document() (json.RawMessage, error) {
	if !p.Era.IsBinary() {
		return nil, fmt.Errorf("%s packets carry no JSON document", p.Era)
	}
	_, n, err := protocol.DecodeVarInt(p.Bytes)
	if err != nil {
		return nil, err
	}
	doc, err := protocol.DecodeStatusResponse(p.Bytes[n+1:])
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

func blankField(l FieldLayout) string {
	return strings.Repeat(string(l.Fill), l.Width)
}

func sampleLines(lines []string) []string {
	if len(lines) > MaxSampleEntries {
		return lines[:MaxSampleEntries]
	}
	return lines
}

func sampleID(i int) string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
