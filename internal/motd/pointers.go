package motd

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// VersionRange is an inclusive span of protocol numbers.
type VersionRange struct {
	From int
	To   int
}

// maxRangeProtocol bounds range keys so a typo cannot expand into a
// billion-entry table.
const maxRangeProtocol = MaximumProtocol

// ParseVersionRange parses "A" or "A-B".
func ParseVersionRange(key string) (VersionRange, error) {
	key = strings.TrimSpace(key)
	from, to, isRange := strings.Cut(key, "-")

	a, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return VersionRange{}, fmt.Errorf("%w: %q", ErrInvalidVersionRange, key)
	}
	b := a
	if isRange {
		if b, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
			return VersionRange{}, fmt.Errorf("%w: %q", ErrInvalidVersionRange, key)
		}
	}
	if a < 0 || b < a {
		return VersionRange{}, fmt.Errorf("%w: %q is empty or negative", ErrInvalidVersionRange, key)
	}
	if b > maxRangeProtocol {
		return VersionRange{}, fmt.Errorf("%w: %q ends past protocol %d", ErrInvalidVersionRange, key, maxRangeProtocol)
	}
	return VersionRange{From: a, To: b}, nil
}

// VersionOverrides maps version range keys to replacement lists per field.
type VersionOverrides struct {
	Descriptions map[string][]string
	Favicons     map[string][]string
	Information  map[string][]string
}

// Empty reports whether no override is configured.
func (o VersionOverrides) Empty() bool {
	return len(o.Descriptions) == 0 && len(o.Favicons) == 0 && len(o.Information) == 0
}

// PointerGroup is one set of protocols that resolve to identical content.
type PointerGroup struct {
	Index     int
	Protocols []int
	Source    Source
}

// PointerTable maps protocol numbers to generator indices. Index 0 is the
// default generator.
type PointerTable struct {
	index  map[int]int
	groups []PointerGroup
}

type protocolContent struct {
	descriptions []string
	favicons     []string
	information  []string
	set          [3]bool
}

// BuildPointerTable expands every override key to single protocols,
// unions the per-field lists, and groups protocols whose combined content
// is identical. Fields a protocol does not override take the default
// lists; protocols whose content equals the default map to index 0.
func BuildPointerTable(defaults Source, o VersionOverrides) (*PointerTable, error) {
	perProtocol := make(map[int]*protocolContent)
	fields := []map[string][]string{o.Descriptions, o.Favicons, o.Information}
	for field, m := range fields {
		keys, ranges, err := sortedRanges(m)
		if err != nil {
			return nil, err
		}
		for i, key := range keys {
			r := ranges[i]
			for p := r.From; p <= r.To; p++ {
				pc := perProtocol[p]
				if pc == nil {
					pc = &protocolContent{}
					perProtocol[p] = pc
				}
				pc.add(field, m[key])
			}
		}
	}

	protocols := make([]int, 0, len(perProtocol))
	for p := range perProtocol {
		protocols = append(protocols, p)
	}
	sort.Ints(protocols)

	t := &PointerTable{index: make(map[int]int, len(protocols))}
	byKey := make(map[uint64][]int)
	for _, p := range protocols {
		src := perProtocol[p].resolve(defaults)
		if sameSource(src, defaults) {
			continue
		}

		key := contentKey(src)
		found := -1
		for _, gi := range byKey[key] {
			if sameSource(t.groups[gi].Source, src) {
				found = gi
				break
			}
		}
		if found < 0 {
			found = len(t.groups)
			t.groups = append(t.groups, PointerGroup{Index: found + 1, Source: src})
			byKey[key] = append(byKey[key], found)
		}
		t.groups[found].Protocols = append(t.groups[found].Protocols, p)
		t.index[p] = t.groups[found].Index
	}
	return t, nil
}

func sortedRanges(m map[string][]string) ([]string, []VersionRange, error) {
	keys := make([]string, 0, len(m))
	parsed := make(map[string]VersionRange, len(m))
	for key := range m {
		r, err := ParseVersionRange(key)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		parsed[key] = r
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := parsed[keys[i]], parsed[keys[j]]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return keys[i] < keys[j]
	})
	ranges := make([]VersionRange, len(keys))
	for i, key := range keys {
		ranges[i] = parsed[key]
	}
	return keys, ranges, nil
}

func (pc *protocolContent) add(field int, values []string) {
	switch field {
	case 0:
		pc.descriptions = append(pc.descriptions, values...)
	case 1:
		pc.favicons = append(pc.favicons, values...)
	case 2:
		pc.information = append(pc.information, values...)
	}
	pc.set[field] = true
}

func (pc *protocolContent) resolve(defaults Source) Source {
	src := Source{
		VersionName:  defaults.VersionName,
		Descriptions: defaults.Descriptions,
		Favicons:     defaults.Favicons,
		Information:  defaults.Information,
	}
	if pc.set[0] {
		src.Descriptions = pc.descriptions
	}
	if pc.set[1] {
		src.Favicons = pc.favicons
	}
	if pc.set[2] {
		src.Information = pc.information
	}
	return src
}

func sameSource(a, b Source) bool {
	return a.VersionName == b.VersionName &&
		slices.Equal(a.Descriptions, b.Descriptions) &&
		slices.Equal(a.Favicons, b.Favicons) &&
		slices.Equal(a.Information, b.Information)
}

// contentKey hashes the lists with length prefixes, so ["ab"] and
// ["a","b"] never collide by concatenation.
func contentKey(src Source) uint64 {
	var buf []byte
	for _, list := range [][]string{src.Descriptions, src.Favicons, src.Information} {
		buf = binary.AppendUvarint(buf, uint64(len(list)))
		for _, s := range list {
			buf = binary.AppendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
		}
	}
	return xxh3.Hash(buf)
}

// Lookup returns the generator index for protocol p.
func (t *PointerTable) Lookup(p int) int {
	if i, ok := t.index[p]; ok {
		return i
	}
	return 0
}

// Groups returns the non-default groups in index order.
func (t *PointerTable) Groups() []PointerGroup {
	return t.groups
}
