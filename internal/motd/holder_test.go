package motd

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHolder(t *testing.T, era Era) *Holder {
	t.Helper()
	c := Content{VersionName: "Elytrium", Description: "&bHolder", Information: []string{"info"}}
	p, err := Build(era, c, testRenderer())
	require.NoError(t, err)
	compat, err := newCompatPing(c, testRenderer())
	require.NoError(t, err)
	return NewHolder(p, compat)
}

func TestHolderPatchAndRead(t *testing.T) {
	for _, era := range Eras() {
		h := newTestHolder(t, era)
		size := h.Size()

		for _, v := range [][2]int{{0, 0}, {100, 10}, {4444, 5}, {99999, 99999}} {
			require.NoError(t, h.Patch(v[0], v[1]), era.String())
			max, online, err := h.Occupancy()
			require.NoError(t, err)
			assert.Equal(t, v[0], max, era.String())
			assert.Equal(t, v[1], online, era.String())
			assert.Equal(t, size, len(h.Snapshot()), "patching must not change length")
		}
	}
}

func TestHolderPatchOverflowLeavesValues(t *testing.T) {
	h := newTestHolder(t, EraTextV2)
	require.NoError(t, h.Patch(50, 5))

	err := h.Patch(100000, 6)
	assert.ErrorIs(t, err, ErrFieldOverflow)
	err = h.Patch(60, 100000)
	assert.ErrorIs(t, err, ErrFieldOverflow)

	max, online, err := h.Occupancy()
	require.NoError(t, err)
	assert.Equal(t, 50, max)
	assert.Equal(t, 5, online)

	binary := newTestHolder(t, EraBinaryV2)
	assert.NoError(t, binary.Patch(100000, 6), "binary fields are wider")
}

func TestHolderAcquireReturnsPrivateCopies(t *testing.T) {
	h := newTestHolder(t, EraBinaryV2)
	require.NoError(t, h.Patch(10, 1))

	a, err := h.Acquire(767, true)
	require.NoError(t, err)
	b, err := h.Acquire(767, true)
	require.NoError(t, err)
	defer a.Release()
	defer b.Release()

	assert.Equal(t, a.Bytes(), b.Bytes())
	require.NotEmpty(t, a.Bytes())
	assert.NotSame(t, &a.Bytes()[0], &b.Bytes()[0])

	a.Bytes()[len(a.Bytes())-1] = 'X'
	assert.NotEqual(t, a.Bytes(), b.Bytes())
	assert.NotEqual(t, byte('X'), h.Snapshot()[len(h.Snapshot())-1])
}

func TestHolderAcquireSeesLatestPatch(t *testing.T) {
	h := newTestHolder(t, EraBinaryV1)
	require.NoError(t, h.Patch(10, 1))

	before, err := h.Acquire(340, true)
	require.NoError(t, err)
	held := bytes.Clone(before.Bytes())

	require.NoError(t, h.Patch(20, 2))

	after, err := h.Acquire(340, true)
	require.NoError(t, err)
	doc := decodeStatus(t, after.Bytes())
	assert.Equal(t, 20, doc.Players.Max)
	assert.Equal(t, 2, doc.Players.Online)
	after.Release()

	assert.Equal(t, held, before.Bytes(), "a held lease is never changed by later patches")
	doc = decodeStatus(t, before.Bytes())
	assert.Equal(t, 10, doc.Players.Max)
	before.Release()
}

func TestHolderProtocolVisibility(t *testing.T) {
	h := newTestHolder(t, EraBinaryV2)

	shown, err := h.Acquire(767, true)
	require.NoError(t, err)
	assert.Equal(t, 767, decodeStatus(t, shown.Bytes()).Version.Protocol)
	shown.Release()

	// The pooled copy may be reused; the placeholder must be rewritten.
	hidden, err := h.Acquire(767, false)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderProtocol, decodeStatus(t, hidden.Bytes()).Version.Protocol)
	hidden.Release()

	_, err = h.Acquire(1_000_000_000, true)
	assert.ErrorIs(t, err, ErrFieldOverflow)
}

func TestHolderDispose(t *testing.T) {
	h := newTestHolder(t, EraBinaryV2)
	lease, err := h.Acquire(767, true)
	require.NoError(t, err)
	content := bytes.Clone(lease.Bytes())

	h.Dispose()
	h.Dispose()
	assert.True(t, h.Disposed())

	_, err = h.Acquire(767, true)
	assert.ErrorIs(t, err, ErrHolderDisposed)
	assert.ErrorIs(t, h.Patch(1, 1), ErrHolderDisposed)

	assert.Equal(t, content, lease.Bytes(), "leases outlive disposal")
	lease.Release()
}

func TestLeaseReferenceCounting(t *testing.T) {
	d := newDistributor([]byte("payload"))
	l := d.Get()
	l.Retain()
	l.Release()
	assert.Equal(t, "payload", string(l.Bytes()))
	l.Release()

	assert.Panics(t, func() { l.Release() })
}

func TestDistributorRetire(t *testing.T) {
	d := newDistributor([]byte("payload"))
	l := d.Get()
	d.Retire()
	assert.True(t, d.Retired())
	assert.Equal(t, "payload", string(l.Bytes()))
	l.Release()
}

func TestHolderCompat(t *testing.T) {
	h := newTestHolder(t, EraBinaryV2)
	require.NoError(t, h.Patch(100, 10))

	c, err := h.Compat(767, true)
	require.NoError(t, err)
	assert.Equal(t, 100, c.Players.Max)
	assert.Equal(t, 10, c.Players.Online)
	assert.Equal(t, 767, c.Version.Protocol)
	assert.Equal(t, "Elytrium", c.Version.Name)
	require.Len(t, c.Players.Sample, 1)
	assert.JSONEq(t, `{"text":"Holder","color":"aqua"}`, string(c.Description))

	hidden, err := h.Compat(767, false)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderProtocol, hidden.Version.Protocol)
}

// Readers racing the updater must always see a consistent pair: every
// patch writes max == online, so any torn read would show a mismatch.
func TestHolderConcurrentReadersAndPatches(t *testing.T) {
	h := newTestHolder(t, EraBinaryV2)
	require.NoError(t, h.Patch(0, 0))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 16)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				lease, err := h.Acquire(767, true)
				if err != nil {
					errs <- err.Error()
					return
				}
				max, err1 := ReadField(lease.Bytes(), h.maxOffset, binaryOccupancyField)
				online, err2 := ReadField(lease.Bytes(), h.onlineOffset, binaryOccupancyField)
				lease.Release()
				if err1 != nil || err2 != nil || max != online {
					errs <- "torn read"
					return
				}
			}
		}()
	}

	for v := 1; v <= 2000; v++ {
		require.NoError(t, h.Patch(v, v))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Fatal(e)
	}
}
