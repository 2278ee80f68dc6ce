package motd

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter struct {
	n   int
	err error
}

func (c fixedCounter) PlayerCount(context.Context) (int, error) {
	return c.n, c.err
}

func TestOccupancyPolicy(t *testing.T) {
	cases := []struct {
		name       string
		policy     OccupancyPolicy
		reported   int
		wantOnline int
		wantMax    int
	}{
		{"plain", OccupancyPolicy{MaxMode: MaxFixed, MaxCount: 100}, 10, 10, 100},
		{"defaults", OccupancyPolicy{FakeAddSingle: 5, FakeAddPercent: 20, MaxMode: MaxFixed, MaxCount: 4444}, 10, 18, 4444},
		{"truncates", OccupancyPolicy{FakeAddPercent: 33, MaxCount: 1}, 10, 13, 1},
		{"relative", OccupancyPolicy{FakeAddSingle: 1, MaxMode: MaxRelativeToOnline, MaxCount: 1}, 4, 5, 6},
		{"floored", OccupancyPolicy{FakeAddSingle: -50, MaxCount: 10}, 3, 0, 10},
	}
	for _, tc := range cases {
		online, max := tc.policy.Compute(tc.reported)
		assert.Equal(t, tc.wantOnline, online, tc.name)
		assert.Equal(t, tc.wantMax, max, tc.name)
	}
}

func TestParseMaxMode(t *testing.T) {
	for in, want := range map[string]MaxMode{
		"fixed": MaxFixed, "VARIABLE": MaxFixed, "relative": MaxRelativeToOnline, "ADD_SOME": MaxRelativeToOnline,
	} {
		got, err := ParseMaxMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMaxMode("bogus")
	assert.Error(t, err)
}

func TestOccupancyOverride(t *testing.T) {
	o := OccupancyOverride{Online: NoOverride, Max: 5}
	online, max := o.Apply(10, 100)
	assert.Equal(t, 10, online)
	assert.Equal(t, 5, max)
}

// One description, no favicons, FixedValue(100), 10 players, no fake
// additions: a 1.16+ client sees max 100 and online 10.
func TestUpdaterScenarioFixedMax(t *testing.T) {
	cfg := SetConfig{Default: Source{VersionName: "v", Descriptions: []string{"hello"}}, ShowProtocol: true}
	set, err := BuildHolderSet("default", cfg, testDeps(t))
	require.NoError(t, err)

	u := NewUpdater(fixedCounter{n: 10}, OccupancyPolicy{MaxMode: MaxFixed, MaxCount: 100},
		OccupancyOverride{Online: NoOverride, Max: NoOverride}, zerolog.Nop())
	occ, err := u.Tick(context.Background(), Sets{Default: set})
	require.NoError(t, err)
	assert.Equal(t, 10, occ.Online)
	assert.Equal(t, 100, occ.Max)
	assert.Equal(t, set.HolderCount(), occ.Patched)

	lease, _, err := set.Acquire(Request{Protocol: 767})
	require.NoError(t, err)
	defer lease.Release()
	doc := decodeStatus(t, lease.Bytes())
	assert.Equal(t, 100, doc.Players.Max)
	assert.Equal(t, 10, doc.Players.Online)
}

// Maintenance override max=5 with online not overridden: the maintenance
// set shows the computed online and max 5, the default set is unaffected.
func TestUpdaterScenarioMaintenanceOverride(t *testing.T) {
	deps := testDeps(t)
	def, err := BuildHolderSet("default", SetConfig{Default: Source{Descriptions: []string{"open"}}}, deps)
	require.NoError(t, err)
	maint, err := BuildHolderSet("maintenance", SetConfig{Default: Source{Descriptions: []string{"closed"}}}, deps)
	require.NoError(t, err)

	u := NewUpdater(fixedCounter{n: 10}, OccupancyPolicy{MaxMode: MaxFixed, MaxCount: 100},
		OccupancyOverride{Online: NoOverride, Max: 5}, zerolog.Nop())
	occ, err := u.Tick(context.Background(), Sets{Default: def, Maintenance: maint})
	require.NoError(t, err)
	assert.Equal(t, 10, occ.MaintenanceOnline)
	assert.Equal(t, 5, occ.MaintenanceMax)

	res, err := maint.Resolve(Request{Protocol: 767})
	require.NoError(t, err)
	max, online, err := res.Holder.Occupancy()
	require.NoError(t, err)
	assert.Equal(t, 5, max)
	assert.Equal(t, 10, online)

	res, err = def.Resolve(Request{Protocol: 767})
	require.NoError(t, err)
	max, online, err = res.Holder.Occupancy()
	require.NoError(t, err)
	assert.Equal(t, 100, max)
	assert.Equal(t, 10, online)
}

func TestUpdaterReportsOverflowPerHolder(t *testing.T) {
	set, err := BuildHolderSet("default", SetConfig{Default: Source{Descriptions: []string{"x"}}}, testDeps(t))
	require.NoError(t, err)

	u := NewUpdater(fixedCounter{}, OccupancyPolicy{MaxMode: MaxFixed, MaxCount: 1_000_000}, OccupancyOverride{-1, -1}, zerolog.Nop())
	occ, err := u.Apply(Sets{Default: set}, 1)
	assert.ErrorIs(t, err, ErrFieldOverflow)
	assert.Equal(t, 2, occ.Failed, "both text eras overflow")
	assert.Equal(t, 2, occ.Patched, "both binary eras fit")

	res, err := set.Resolve(Request{Protocol: NoProtocol, Legacy: 1})
	require.NoError(t, err)
	max, _, err := res.Holder.Occupancy()
	require.NoError(t, err)
	assert.Zero(t, max, "overflowing holders keep their previous values")
}

func TestUpdaterCounterFailure(t *testing.T) {
	u := NewUpdater(fixedCounter{err: errors.New("redis down")}, OccupancyPolicy{}, OccupancyOverride{-1, -1}, zerolog.Nop())
	_, err := u.Tick(context.Background(), Sets{})
	assert.Error(t, err)
}
