package motd

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/energizer-project/pingcache/internal/protocol"
)

// SetConfig is the content of one holder set: the default content, its
// per-version overrides and per-domain replacements.
type SetConfig struct {
	Default  Source
	Versions VersionOverrides
	Domains  map[string]Source
	// ShowProtocol writes the client's protocol into responses. When off,
	// clients see PlaceholderProtocol and display the version name.
	ShowProtocol bool
}

// HolderSet indexes the generators of one configuration.
type HolderSet struct {
	name         string
	generators   []*Generator
	pointers     *PointerTable
	domains      map[string]*Generator
	showProtocol bool
}

// BuildHolderSet runs a full generation pass. Generator 0 builds every
// era; version override generators build only the binary eras, since
// legacy pings carry no protocol number; domain generators skip TextV1,
// whose ping carries no host.
func BuildHolderSet(name string, cfg SetConfig, deps BuildDeps) (*HolderSet, error) {
	pointers, err := BuildPointerTable(cfg.Default, cfg.Versions)
	if err != nil {
		return nil, err
	}

	s := &HolderSet{
		name:         name,
		pointers:     pointers,
		domains:      make(map[string]*Generator, len(cfg.Domains)),
		showProtocol: cfg.ShowProtocol,
	}

	def, err := NewGenerator(name+"/default", cfg.Default, AllEras, deps)
	if err != nil {
		return nil, err
	}
	s.generators = append(s.generators, def)

	for _, group := range pointers.Groups() {
		g, err := NewGenerator(fmt.Sprintf("%s/versions-%d", name, group.Index), group.Source, BinaryEras, deps)
		if err != nil {
			s.Dispose()
			return nil, err
		}
		s.generators = append(s.generators, g)
	}

	for host, src := range cfg.Domains {
		g, err := NewGenerator(name+"/domain-"+host, src, DomainEras, deps)
		if err != nil {
			s.Dispose()
			return nil, err
		}
		s.domains[NormalizeDomain(host)] = g
	}

	deps.Logger.Debug().
		Str("set", name).
		Int("generators", len(s.generators)).
		Int("domains", len(s.domains)).
		Int("holders", s.HolderCount()).
		Msg("holder set built")
	return s, nil
}

// NormalizeDomain lowercases a host:port or host key.
func NormalizeDomain(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Request is what the handshake gate learned about a client.
type Request struct {
	// Protocol is the declared protocol number, or NoProtocol for legacy
	// pings.
	Protocol int
	// Legacy is the legacy ping generation, LegacyNone for framed clients.
	Legacy protocol.LegacyVersion
	// VirtualHost is the declared host:port, empty when unknown.
	VirtualHost string
}

// Resolution describes how a request was resolved.
type Resolution struct {
	Holder *Holder
	Era    Era
	// Protocol is the protocol used for content and written into the
	// response, after substitution.
	Protocol    int
	Substituted bool
	Domain      string
	Index       int
}

// Resolve picks the holder for a request: domain override first, then the
// protocol pointer table. Protocols outside the era table are served as
// MaximumProtocol.
func (s *HolderSet) Resolve(req Request) (Resolution, error) {
	res := Resolution{Protocol: req.Protocol}

	if req.Legacy != protocol.LegacyNone {
		era, err := EraForLegacy(req.Legacy)
		if err != nil {
			return res, err
		}
		res.Era = era
		res.Protocol = NoProtocol
		return s.pick(res, s.generators[0], req.VirtualHost)
	}

	if !SupportedProtocol(res.Protocol) {
		res.Protocol = MaximumProtocol
		res.Substituted = true
	}
	era, err := EraForProtocol(res.Protocol)
	if err != nil {
		return res, err
	}
	res.Era = era
	res.Index = s.pointers.Lookup(res.Protocol)
	return s.pick(res, s.generators[res.Index], req.VirtualHost)
}

func (s *HolderSet) pick(res Resolution, fallback *Generator, virtualHost string) (Resolution, error) {
	g := fallback
	if domain, dg := s.domain(virtualHost); dg != nil && dg.Eras().Has(res.Era) {
		g = dg
		res.Domain = domain
		res.Index = 0
	}
	res.Holder = g.Next(res.Era)
	if res.Holder == nil {
		return res, fmt.Errorf("%w: generator %s has no %s holder", ErrUnresolvedVersion, g.Name(), res.Era)
	}
	return res, nil
}

// domain matches host:port first, then the bare host.
func (s *HolderSet) domain(virtualHost string) (string, *Generator) {
	if virtualHost == "" || len(s.domains) == 0 {
		return "", nil
	}
	key := NormalizeDomain(virtualHost)
	if g, ok := s.domains[key]; ok {
		return key, g
	}
	if host, _, err := net.SplitHostPort(key); err == nil {
		if g, ok := s.domains[host]; ok {
			return host, g
		}
	}
	return "", nil
}

// Acquire resolves req and returns a private copy of the response.
func (s *HolderSet) Acquire(req Request) (*Lease, Resolution, error) {
	res, err := s.Resolve(req)
	if err != nil {
		return nil, res, err
	}
	lease, err := res.Holder.Acquire(res.Protocol, s.showProtocol)
	if err != nil {
		return nil, res, err
	}
	return lease, res, nil
}

// Compat resolves req and returns the structured response.
func (s *HolderSet) Compat(req Request) (CompatPing, Resolution, error) {
	res, err := s.Resolve(req)
	if err != nil {
		return CompatPing{}, res, err
	}
	c, err := res.Holder.Compat(res.Protocol, s.showProtocol)
	return c, res, err
}

// Name returns the set name.
func (s *HolderSet) Name() string {
	return s.name
}

// ShowProtocol reports whether client protocols are written into replies.
func (s *HolderSet) ShowProtocol() bool {
	return s.showProtocol
}

// Pointers returns the protocol pointer table.
func (s *HolderSet) Pointers() *PointerTable {
	return s.pointers
}

// Generator returns the generator at index, or nil.
func (s *HolderSet) Generator(index int) *Generator {
	if index < 0 || index >= len(s.generators) {
		return nil
	}
	return s.generators[index]
}

// Domains returns the configured domain keys, sorted.
func (s *HolderSet) Domains() []string {
	keys := make([]string, 0, len(s.domains))
	for k := range s.domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EachGenerator calls fn for the indexed generators, then the domain
// generators in key order.
func (s *HolderSet) EachGenerator(fn func(*Generator)) {
	for _, g := range s.generators {
		fn(g)
	}
	for _, k := range s.Domains() {
		fn(s.domains[k])
	}
}

// EachHolder calls fn for every holder of the set.
func (s *HolderSet) EachHolder(fn func(*Holder)) {
	s.EachGenerator(func(g *Generator) { g.EachHolder(fn) })
}

// HolderCount returns the number of holders.
func (s *HolderSet) HolderCount() int {
	n := 0
	s.EachHolder(func(*Holder) { n++ })
	return n
}

// SetStats summarizes a holder set.
type SetStats struct {
	Name         string `json:"name"`
	Generators   int    `json:"generators"`
	Domains      int    `json:"domains"`
	Variants     int    `json:"variants"`
	Holders      int    `json:"holders"`
	Bytes        int    `json:"bytes"`
	Problems     int    `json:"problems"`
	ShowProtocol bool   `json:"show_protocol"`
}

// Stats summarizes the set.
func (s *HolderSet) Stats() SetStats {
	st := SetStats{
		Name:         s.name,
		Generators:   len(s.generators),
		Domains:      len(s.domains),
		ShowProtocol: s.showProtocol,
	}
	s.EachGenerator(func(g *Generator) {
		st.Variants += len(g.Variants())
		st.Problems += len(g.Problems())
		g.EachHolder(func(h *Holder) {
			st.Holders++
			st.Bytes += h.Size()
		})
	})
	return st
}

// Dispose retires every holder of the set.
func (s *HolderSet) Dispose() {
	s.EachGenerator(func(g *Generator) { g.Dispose() })
}
