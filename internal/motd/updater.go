package motd

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// MaxMode selects how the displayed maximum is computed.
type MaxMode int

const (
	// MaxFixed shows a configured constant.
	MaxFixed MaxMode = iota
	// MaxRelativeToOnline shows online plus a configured constant.
	MaxRelativeToOnline
)

// ParseMaxMode accepts "fixed" and "relative" and the older
// "variable" and "add_some" spellings.
func ParseMaxMode(s string) (MaxMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "variable", "":
		return MaxFixed, nil
	case "relative", "add_some":
		return MaxRelativeToOnline, nil
	default:
		return 0, fmt.Errorf("unknown max count mode %q", s)
	}
}

// String returns the configuration spelling.
func (m MaxMode) String() string {
	if m == MaxRelativeToOnline {
		return "relative"
	}
	return "fixed"
}

// OccupancyPolicy turns a reported player count into displayed values.
type OccupancyPolicy struct {
	FakeAddSingle  int
	FakeAddPercent int
	MaxMode        MaxMode
	MaxCount       int
}

// Compute returns the displayed online and max. Integer arithmetic
// truncates; negative results are shown as zero.
func (p OccupancyPolicy) Compute(reported int) (online, max int) {
	online = (reported + p.FakeAddSingle) * (100 + p.FakeAddPercent) / 100
	if online < 0 {
		online = 0
	}
	switch p.MaxMode {
	case MaxRelativeToOnline:
		max = online + p.MaxCount
	default:
		max = p.MaxCount
	}
	if max < 0 {
		max = 0
	}
	return online, max
}

// NoOverride disables an OccupancyOverride field.
const NoOverride = -1

// OccupancyOverride replaces computed values for the maintenance set.
type OccupancyOverride struct {
	Online int
	Max    int
}

// Apply returns the overridden values.
func (o OccupancyOverride) Apply(online, max int) (int, int) {
	if o.Online != NoOverride {
		online = o.Online
	}
	if o.Max != NoOverride {
		max = o.Max
	}
	return online, max
}

// PlayerCounter reports the number of players to display.
type PlayerCounter interface {
	PlayerCount(ctx context.Context) (int, error)
}

// Sets is the pair of holder sets the updater patches.
type Sets struct {
	Default     *HolderSet
	Maintenance *HolderSet
}

// Occupancy is the outcome of one update.
type Occupancy struct {
	Reported          int `json:"reported"`
	Online            int `json:"online"`
	Max               int `json:"max"`
	MaintenanceOnline int `json:"maintenance_online"`
	MaintenanceMax    int `json:"maintenance_max"`
	Patched           int `json:"patched"`
	Failed            int `json:"failed"`
}

// maxReportedFailures caps how many patch errors one update reports.
const maxReportedFailures = 4

// Updater patches occupancy into every holder. Tick and Apply must not
// run concurrently with each other.
type Updater struct {
	counter  PlayerCounter
	policy   OccupancyPolicy
	override OccupancyOverride
	logger   zerolog.Logger
}

// NewUpdater creates an updater.
func NewUpdater(counter PlayerCounter, policy OccupancyPolicy, override OccupancyOverride, logger zerolog.Logger) *Updater {
	return &Updater{
		counter:  counter,
		policy:   policy,
		override: override,
		logger:   logger,
	}
}

// Tick reads the player count and patches both sets. When the count
// cannot be read, holders keep their previous values.
func (u *Updater) Tick(ctx context.Context, sets Sets) (Occupancy, error) {
	reported, err := u.counter.PlayerCount(ctx)
	if err != nil {
		return Occupancy{}, fmt.Errorf("failed to read player count: %w", err)
	}
	occ, err := u.Apply(sets, reported)
	if err != nil {
		u.logger.Error().
			Err(err).
			Int("failed", occ.Failed).
			Int("online", occ.Online).
			Int("max", occ.Max).
			Msg("occupancy did not fit some holders; they keep their previous values")
	}
	return occ, nil
}

// Apply patches both sets for a reported count. Holders whose fields
// cannot hold the values are left unchanged and reported in the error.
func (u *Updater) Apply(sets Sets, reported int) (Occupancy, error) {
	online, max := u.policy.Compute(reported)
	mOnline, mMax := u.override.Apply(online, max)
	occ := Occupancy{
		Reported:          reported,
		Online:            online,
		Max:               max,
		MaintenanceOnline: mOnline,
		MaintenanceMax:    mMax,
	}

	var errs error
	patch := func(set *HolderSet, max, online int) {
		if set == nil {
			return
		}
		set.EachHolder(func(h *Holder) {
			if err := h.Patch(max, online); err != nil {
				occ.Failed++
				if occ.Failed <= maxReportedFailures {
					errs = multierr.Append(errs, err)
				}
				return
			}
			occ.Patched++
		})
	}
	patch(sets.Default, max, online)
	patch(sets.Maintenance, mMax, mOnline)
	return occ, errs
}
