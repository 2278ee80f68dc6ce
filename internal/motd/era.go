// Package motd holds the precomputed ping response cache. Every distinct
// pairing of protocol era and configured content is serialized once into
// a Holder; afterwards only the occupancy digits and the protocol number
// are patched in place, and readers receive private copies without taking
// a lock.
package motd

import (
	"fmt"
	"strings"

	"github.com/energizer-project/pingcache/internal/protocol"
)

// Era is a family of protocol versions that share one wire layout.
type Era int

const (
	// EraTextV1 is the 1.3 legacy ping reply: description and counts.
	EraTextV1 Era = iota
	// EraTextV2 is the 1.4 to 1.6 legacy reply with version fields.
	EraTextV2
	// EraBinaryV1 is the framed JSON status with pre-1.16 text components.
	EraBinaryV1
	// EraBinaryV2 is the framed JSON status with 1.16+ text components.
	EraBinaryV2

	eraCount
)

// Protocol numbers bounding the era table.
const (
	// MinimumProtocol is 1.7.2, the first framed protocol.
	MinimumProtocol = 4
	// Protocol1_16 is the first version with hex text colors.
	Protocol1_16 = 735
	// MaximumProtocol is the newest version this cache serves (1.21.7/1.21.8).
	MaximumProtocol = 772

	// PlaceholderProtocol is written when the client protocol is hidden.
	// Clients show the version name of an incompatible server instead of
	// the ping bars.
	PlaceholderProtocol = 1
)

// NoProtocol marks a request that did not declare a numeric protocol.
const NoProtocol = -1

type eraBehavior struct {
	name      string
	occupancy FieldLayout
	protocol  FieldLayout
	binary    bool
	modern    bool
}

var behaviors = [eraCount]eraBehavior{
	EraTextV1:   {name: "text-v1", occupancy: textOccupancyField},
	EraTextV2:   {name: "text-v2", occupancy: textOccupancyField},
	EraBinaryV1: {name: "binary-v1", occupancy: binaryOccupancyField, protocol: protocolField, binary: true},
	EraBinaryV2: {name: "binary-v2", occupancy: binaryOccupancyField, protocol: protocolField, binary: true, modern: true},
}

// String returns the era's short name.
func (e Era) String() string {
	if e < 0 || e >= eraCount {
		return fmt.Sprintf("era(%d)", int(e))
	}
	return behaviors[e].name
}

// IsBinary reports whether the era uses the framed JSON layout.
func (e Era) IsBinary() bool {
	return behaviors[e].binary
}

// HasProtocolField reports whether responses of this era carry a
// patchable protocol number.
func (e Era) HasProtocolField() bool {
	return behaviors[e].protocol.Width > 0
}

// OccupancyLayout returns the layout of the max and online fields.
func (e Era) OccupancyLayout() FieldLayout {
	return behaviors[e].occupancy
}

// Eras lists every era in order.
func Eras() []Era {
	return []Era{EraTextV1, EraTextV2, EraBinaryV1, EraBinaryV2}
}

// EraSet is a bitmask of eras a generator builds.
type EraSet uint8

// Common era sets.
var (
	AllEras    = EraSetOf(EraTextV1, EraTextV2, EraBinaryV1, EraBinaryV2)
	BinaryEras = EraSetOf(EraBinaryV1, EraBinaryV2)
	// DomainEras leaves out TextV1: the 1.3 ping declares no host.
	DomainEras = EraSetOf(EraTextV2, EraBinaryV1, EraBinaryV2)
)

// EraSetOf builds a set from eras.
func EraSetOf(eras ...Era) EraSet {
	var s EraSet
	for _, e := range eras {
		s |= 1 << e
	}
	return s
}

// Has reports whether e is in the set.
func (s EraSet) Has(e Era) bool {
	return e >= 0 && e < eraCount && s&(1<<e) != 0
}

// Eras lists the members in order.
func (s EraSet) Eras() []Era {
	var out []Era
	for _, e := range Eras() {
		if s.Has(e) {
			out = append(out, e)
		}
	}
	return out
}

// String lists the members by name.
func (s EraSet) String() string {
	names := make([]string, 0, eraCount)
	for _, e := range s.Eras() {
		names = append(names, e.String())
	}
	return "[" + strings.Join(names, " ") + "]"
}

type eraRange struct {
	from, to int
	era      Era
}

// protocolEras must cover [MinimumProtocol, MaximumProtocol] without gaps.
var protocolEras = []eraRange{
	{from: MinimumProtocol, to: Protocol1_16 - 1, era: EraBinaryV1},
	{from: Protocol1_16, to: MaximumProtocol, era: EraBinaryV2},
}

func init() {
	if err := checkEraTable(protocolEras); err != nil {
		panic(err)
	}
}

func checkEraTable(table []eraRange) error {
	next := MinimumProtocol
	for _, r := range table {
		if r.from != next || r.to < r.from {
			return fmt.Errorf("%w: era table broken at protocol %d", ErrUnresolvedVersion, next)
		}
		next = r.to + 1
	}
	if next != MaximumProtocol+1 {
		return fmt.Errorf("%w: era table ends at %d, want %d", ErrUnresolvedVersion, next-1, MaximumProtocol)
	}
	return nil
}

// SupportedProtocol reports whether p has an era mapping.
func SupportedProtocol(p int) bool {
	return p >= MinimumProtocol && p <= MaximumProtocol
}

// EraForProtocol maps a numeric protocol version to its era.
func EraForProtocol(p int) (Era, error) {
	for _, r := range protocolEras {
		if p >= r.from && p <= r.to {
			return r.era, nil
		}
	}
	return 0, fmt.Errorf("%w: protocol %d", ErrUnresolvedVersion, p)
}

// EraForLegacy maps a legacy ping generation to its era.
func EraForLegacy(v protocol.LegacyVersion) (Era, error) {
	switch v {
	case protocol.Legacy13:
		return EraTextV1, nil
	case protocol.Legacy14, protocol.Legacy16:
		return EraTextV2, nil
	default:
		return 0, fmt.Errorf("%w: legacy version %s", ErrUnresolvedVersion, v)
	}
}
