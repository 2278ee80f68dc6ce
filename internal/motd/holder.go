package motd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/atomic"
)

// Holder owns the canonical bytes of one built response. Patch is called
// only by the occupancy updater; Acquire is safe from any goroutine.
type Holder struct {
	era            Era
	canonical      []byte
	maxOffset      int
	onlineOffset   int
	protocolOffset int
	compat         CompatPing

	dist     atomic.Pointer[Distributor]
	disposed atomic.Bool
}

// NewHolder takes ownership of a built packet and publishes its first
// snapshot.
func NewHolder(p *Packet, compat CompatPing) *Holder {
	h := &Holder{
		era:            p.Era,
		canonical:      p.Bytes,
		maxOffset:      p.MaxOffset,
		onlineOffset:   p.OnlineOffset,
		protocolOffset: p.ProtocolOffset,
		compat:         compat,
	}
	h.publish()
	return h
}

// Era returns the holder's era.
func (h *Holder) Era() Era {
	return h.era
}

// Size returns the response length in bytes. It never changes.
func (h *Holder) Size() int {
	return len(h.canonical)
}

// Patch writes new occupancy values into the canonical bytes and
// publishes a fresh distributor. Both values are checked before either is
// written.
func (h *Holder) Patch(max, online int) error {
	if h.disposed.Load() {
		return ErrHolderDisposed
	}

	l := h.era.OccupancyLayout()
	if !l.Fits(max) {
		return fmt.Errorf("%w: max %d in %s (limit %d)", ErrFieldOverflow, max, h.era, l.MaxValue())
	}
	if !l.Fits(online) {
		return fmt.Errorf("%w: online %d in %s (limit %d)", ErrFieldOverflow, online, h.era, l.MaxValue())
	}

	if err := PatchField(h.canonical, h.maxOffset, l, max); err != nil {
		return err
	}
	if err := PatchField(h.canonical, h.onlineOffset, l, online); err != nil {
		return err
	}
	h.publish()
	return nil
}

func (h *Holder) publish() {
	next := newDistributor(bytes.Clone(h.canonical))
	if prev := h.dist.Swap(next); prev != nil {
		prev.Retire()
	}
}

// Acquire returns a private copy of the current response. For eras that
// carry a protocol number, the copy shows protocolNumber when show is set
// and PlaceholderProtocol otherwise.
func (h *Holder) Acquire(protocolNumber int, show bool) (*Lease, error) {
	if h.disposed.Load() {
		return nil, ErrHolderDisposed
	}

	lease := h.dist.Load().Get()
	if h.protocolOffset == NoField {
		return lease, nil
	}

	value := PlaceholderProtocol
	if show && protocolNumber != NoProtocol {
		value = protocolNumber
	}
	if err := PatchField(lease.buf, h.protocolOffset, protocolField, value); err != nil {
		lease.Release()
		return nil, err
	}
	return lease, nil
}

// Occupancy reads max and online from the published snapshot.
func (h *Holder) Occupancy() (max, online int, err error) {
	snapshot := h.dist.Load().Snapshot()
	l := h.era.OccupancyLayout()
	if max, err = ReadField(snapshot, h.maxOffset, l); err != nil {
		return 0, 0, err
	}
	if online, err = ReadField(snapshot, h.onlineOffset, l); err != nil {
		return 0, 0, err
	}
	return max, online, nil
}

// Snapshot returns the published bytes. Callers must not modify them.
func (h *Holder) Snapshot() []byte {
	return h.dist.Load().Snapshot()
}

// Compat returns the decoded form of the response with current numbers.
func (h *Holder) Compat(protocolNumber int, show bool) (CompatPing, error) {
	max, online, err := h.Occupancy()
	if err != nil {
		return CompatPing{}, err
	}
	c := h.compat
	c.Players.Max = max
	c.Players.Online = online
	c.Players.Sample = append([]CompatSample(nil), h.compat.Players.Sample...)
	c.Version.Protocol = PlaceholderProtocol
	if show && protocolNumber != NoProtocol {
		c.Version.Protocol = protocolNumber
	}
	return c, nil
}

// Dispose retires the holder. Outstanding leases remain valid.
func (h *Holder) Dispose() {
	if h.disposed.Swap(true) {
		return
	}
	h.dist.Load().Retire()
}

// Disposed reports whether Dispose was called.
func (h *Holder) Disposed() bool {
	return h.disposed.Load()
}

// CompatPing is the structured form of a status response for consumers
// that want decoded values rather than wire bytes.
type CompatPing struct {
	Version     CompatVersion   `json:"version"`
	Players     CompatPlayers   `json:"players"`
	Description json.RawMessage `json:"description"`
	Favicon     string          `json:"favicon,omitempty"`
}

// CompatVersion is the version block of a CompatPing.
type CompatVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// CompatPlayers is the players block of a CompatPing.
type CompatPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []CompatSample `json:"sample,omitempty"`
}

// CompatSample is one hover line.
type CompatSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// newCompatPing renders the content-derived part of a CompatPing.
func newCompatPing(c Content, r TextRenderer) (CompatPing, error) {
	description, err := r.JSON(c.Description, true)
	if err != nil {
		return CompatPing{}, fmt.Errorf("failed to render description: %w", err)
	}
	lines := sampleLines(c.Information)
	sample := make([]CompatSample, 0, len(lines))
	for i, line := range lines {
		sample = append(sample, CompatSample{Name: r.Legacy(line), ID: sampleID(i)})
	}
	return CompatPing{
		Version:     CompatVersion{Name: r.Legacy(c.VersionName), Protocol: PlaceholderProtocol},
		Players:     CompatPlayers{Sample: sample},
		Description: json.RawMessage(description),
		Favicon:     c.Favicon,
	}, nil
}
