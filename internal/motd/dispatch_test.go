package motd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/pingcache/internal/protocol"
)

func testSetConfig() SetConfig {
	return SetConfig{
		Default: Source{
			VersionName:  "Elytrium",
			Descriptions: []string{"&aDefault"},
		},
		Versions: VersionOverrides{
			Descriptions: map[string][]string{"47": {"&eOld client"}},
		},
		Domains: map[string]Source{
			"Lobby.Example.net:25565": {VersionName: "Lobby", Descriptions: []string{"&dLobby"}},
			"events.example.net":      {VersionName: "Events", Descriptions: []string{"&cEvents"}},
		},
		ShowProtocol: true,
	}
}

func TestEraTable(t *testing.T) {
	cases := map[int]Era{
		MinimumProtocol:  EraBinaryV1,
		47:               EraBinaryV1,
		Protocol1_16 - 1: EraBinaryV1,
		Protocol1_16:     EraBinaryV2,
		MaximumProtocol:  EraBinaryV2,
	}
	for p, want := range cases {
		got, err := EraForProtocol(p)
		require.NoError(t, err)
		assert.Equal(t, want, got, "protocol %d", p)
	}

	_, err := EraForProtocol(MaximumProtocol + 1)
	assert.ErrorIs(t, err, ErrUnresolvedVersion)

	era, err := EraForLegacy(protocol.Legacy13)
	require.NoError(t, err)
	assert.Equal(t, EraTextV1, era)
	era, err = EraForLegacy(protocol.Legacy16)
	require.NoError(t, err)
	assert.Equal(t, EraTextV2, era)

	assert.Error(t, checkEraTable([]eraRange{{from: MinimumProtocol, to: 10, era: EraBinaryV1}, {from: 12, to: MaximumProtocol, era: EraBinaryV2}}))
}

func TestResolveDefaultAndOverride(t *testing.T) {
	s, err := BuildHolderSet("default", testSetConfig(), testDeps(t))
	require.NoError(t, err)
	defer s.Dispose()

	res, err := s.Resolve(Request{Protocol: 767})
	require.NoError(t, err)
	assert.Equal(t, EraBinaryV2, res.Era)
	assert.Equal(t, 0, res.Index)
	assert.False(t, res.Substituted)

	res, err = s.Resolve(Request{Protocol: 47})
	require.NoError(t, err)
	assert.Equal(t, EraBinaryV1, res.Era)
	assert.Equal(t, 1, res.Index)

	lease, _, err := s.Acquire(Request{Protocol: 47})
	require.NoError(t, err)
	doc := decodeStatus(t, lease.Bytes())
	lease.Release()
	assert.JSONEq(t, `{"text":"Old client","color":"yellow"}`, string(doc.Description))
	assert.Equal(t, 47, doc.Version.Protocol)
}

func TestResolveLegacy(t *testing.T) {
	s, err := BuildHolderSet("default", testSetConfig(), testDeps(t))
	require.NoError(t, err)
	defer s.Dispose()

	res, err := s.Resolve(Request{Protocol: NoProtocol, Legacy: protocol.Legacy13})
	require.NoError(t, err)
	assert.Equal(t, EraTextV1, res.Era)

	lease, res, err := s.Acquire(Request{Protocol: NoProtocol, Legacy: protocol.Legacy14})
	require.NoError(t, err)
	assert.Equal(t, EraTextV2, res.Era)
	assert.Contains(t, decodeLegacy(t, lease.Bytes()), "§aDefault")
	lease.Release()
}

func TestResolveDomain(t *testing.T) {
	s, err := BuildHolderSet("default", testSetConfig(), testDeps(t))
	require.NoError(t, err)
	defer s.Dispose()

	res, err := s.Resolve(Request{Protocol: 767, VirtualHost: "lobby.example.net:25565"})
	require.NoError(t, err)
	assert.Equal(t, "lobby.example.net:25565", res.Domain)

	lease, _, err := s.Acquire(Request{Protocol: 47, VirtualHost: "lobby.example.net:25565"})
	require.NoError(t, err)
	doc := decodeStatus(t, lease.Bytes())
	lease.Release()
	assert.Equal(t, "Lobby", doc.Version.Name, "domains take precedence over version overrides")

	res, err = s.Resolve(Request{Protocol: 767, VirtualHost: "events.example.net:25577"})
	require.NoError(t, err)
	assert.Equal(t, "events.example.net", res.Domain, "bare host keys match any port")

	res, err = s.Resolve(Request{Protocol: 767, VirtualHost: "other.example.net:25565"})
	require.NoError(t, err)
	assert.Empty(t, res.Domain)

	lease, res, err = s.Acquire(Request{Protocol: NoProtocol, Legacy: protocol.Legacy16, VirtualHost: "lobby.example.net:25565"})
	require.NoError(t, err)
	assert.Equal(t, "lobby.example.net:25565", res.Domain)
	assert.Contains(t, decodeLegacy(t, lease.Bytes()), "Lobby")
	lease.Release()

	assert.Equal(t, []string{"events.example.net", "lobby.example.net:25565"}, s.Domains())
}

func TestResolveSubstitutesUnknownProtocol(t *testing.T) {
	s, err := BuildHolderSet("default", testSetConfig(), testDeps(t))
	require.NoError(t, err)
	defer s.Dispose()

	for _, p := range []int{-1, 0, 3, MaximumProtocol + 1, 0x40000000 + 200} {
		lease, res, err := s.Acquire(Request{Protocol: p})
		require.NoError(t, err, "protocol %d", p)
		assert.True(t, res.Substituted)
		assert.Equal(t, MaximumProtocol, res.Protocol)
		assert.Equal(t, EraBinaryV2, res.Era)
		assert.Equal(t, MaximumProtocol, decodeStatus(t, lease.Bytes()).Version.Protocol)
		lease.Release()
	}
}

func TestResolveHiddenProtocol(t *testing.T) {
	cfg := testSetConfig()
	cfg.ShowProtocol = false
	s, err := BuildHolderSet("maintenance", cfg, testDeps(t))
	require.NoError(t, err)
	defer s.Dispose()

	lease, _, err := s.Acquire(Request{Protocol: 767})
	require.NoError(t, err)
	defer lease.Release()
	assert.Equal(t, PlaceholderProtocol, decodeStatus(t, lease.Bytes()).Version.Protocol)

	c, _, err := s.Compat(Request{Protocol: 767})
	require.NoError(t, err)
	assert.Equal(t, PlaceholderProtocol, c.Version.Protocol)
}

func TestHolderSetStatsAndDispose(t *testing.T) {
	s, err := BuildHolderSet("default", testSetConfig(), testDeps(t))
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.Generators)
	assert.Equal(t, 2, st.Domains)
	// default: 4 eras, version group: 2 binary eras, domains: 3 eras each.
	assert.Equal(t, 4+2+3+3, st.Holders)
	assert.Positive(t, st.Bytes)

	s.Dispose()
	s.EachHolder(func(h *Holder) { assert.True(t, h.Disposed()) })
	_, _, err = s.Acquire(Request{Protocol: 767})
	assert.ErrorIs(t, err, ErrHolderDisposed)
}
