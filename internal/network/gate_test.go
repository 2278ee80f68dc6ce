package network

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/protocol"
	"github.com/energizer-project/pingcache/internal/text"
)

type testResponder struct {
	set         *motd.HolderSet
	maintenance atomic.Bool
	policy      PingPolicy
}

func newTestResponder(t *testing.T) *testResponder {
	t.Helper()
	set, err := motd.BuildHolderSet("default", motd.SetConfig{
		Default: motd.Source{
			VersionName:  "Test",
			Descriptions: []string{"&aHello"},
			Information:  []string{"one", "two"},
		},
		ShowProtocol: true,
	}, motd.BuildDeps{
		Renderer: text.NewLegacyRenderer('&'),
		Favicons: motd.NewFaviconCache(t.TempDir(), zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(set.Dispose)
	return &testResponder{set: set, policy: PingPolicy{LogImproper: true}}
}

func (r *testResponder) Acquire(req motd.Request) (*motd.Lease, motd.Resolution, error) {
	return r.set.Acquire(req)
}

func (r *testResponder) Maintenance() bool {
	return r.maintenance.Load()
}

func (r *testResponder) PingPolicy() PingPolicy {
	return r.policy
}

type loginCall struct {
	ip       net.IP
	protocol int
	legacy   bool
}

type testLogin struct {
	mu     sync.Mutex
	calls  []loginCall
	kick   bool
	packet []byte
}

func (l *testLogin) LoginDisconnect(ip net.IP, protocolNumber int, legacy bool) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, loginCall{ip: ip, protocol: protocolNumber, legacy: legacy})
	return l.packet, l.kick
}

type recordingObserver struct {
	mu       sync.Mutex
	served   []motd.Era
	improper []string
	refused  int
}

func (o *recordingObserver) Served(era motd.Era, substituted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.served = append(o.served, era)
}

func (o *recordingObserver) Improper(remote net.IP, reason string, tolerated bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.improper = append(o.improper, reason)
}

func (o *recordingObserver) LoginRefused(kicked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refused++
}

func (o *recordingObserver) improperCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.improper)
}

type rejectHost string

func (h rejectHost) InterceptHandshake(remote net.Addr, hs protocol.Handshake) ([]byte, bool) {
	return nil, hs.Host == string(h)
}

var testRemote = &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 50000}

func newTestGate(r *testResponder, login LoginHandler, obs Observer, interceptors ...HandshakeInterceptor) *Gate {
	return NewGate(GateOptions{
		Responder:    r,
		Login:        login,
		Interceptors: interceptors,
		Observer:     obs,
		Remote:       testRemote,
		Logger:       zerolog.Nop(),
	})
}

func frameOf(t *testing.T, data []byte) protocol.Frame {
	t.Helper()
	f, err := protocol.ReadFrame(bufio.NewReader(bytes.NewReader(data)), protocol.MaxFrameLength)
	require.NoError(t, err)
	return f
}

func handshakeFrame(t *testing.T, protocolNumber int32, host string, next int32) protocol.Frame {
	t.Helper()
	data, err := protocol.BuildHandshake(protocol.Handshake{
		Protocol:  protocolNumber,
		Host:      host,
		Port:      25565,
		NextState: next,
	})
	require.NoError(t, err)
	return frameOf(t, data)
}

func statusProtocol(t *testing.T, data []byte) int {
	t.Helper()
	f := frameOf(t, data)
	require.Equal(t, protocol.PktStatusResponse, f.ID)
	raw, err := protocol.DecodeStatusResponse(f.Payload)
	require.NoError(t, err)
	var doc struct {
		Version struct {
			Protocol int `json:"protocol"`
		} `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc.Version.Protocol
}

func TestGateOrderedExchange(t *testing.T) {
	r := newTestResponder(t)
	obs := &recordingObserver{}
	g := newTestGate(r, nil, obs)

	reply, err := g.HandleFrame(handshakeFrame(t, 760, "play.example.net", protocol.NextStateStatus))
	require.NoError(t, err)
	assert.Empty(t, reply.Bytes())
	assert.False(t, reply.Close)
	assert.Equal(t, AwaitingRequest, g.State())
	assert.Equal(t, "play.example.net:25565", g.Request().VirtualHost)

	reply, err = g.HandleFrame(frameOf(t, protocol.BuildStatusRequest()))
	require.NoError(t, err)
	require.NotNil(t, reply.Lease)
	assert.Equal(t, 760, statusProtocol(t, reply.Bytes()))
	reply.Release()
	assert.Equal(t, AwaitingPing, g.State())

	reply, err = g.HandleFrame(frameOf(t, protocol.BuildStatusPing(42)))
	require.NoError(t, err)
	assert.True(t, reply.Close)
	assert.Equal(t, protocol.BuildStatusPong(42), reply.Bytes())
	assert.Equal(t, Done, g.State())

	assert.Equal(t, []motd.Era{motd.EraBinaryV2}, obs.served)
	assert.Zero(t, obs.improperCount())
}

func TestGateLogsSubstitutedProtocol(t *testing.T) {
	for _, logPings := range []bool{true, false} {
		r := newTestResponder(t)
		r.policy.LogPings = logPings
		var logs bytes.Buffer
		g := NewGate(GateOptions{
			Responder: r,
			Remote:    testRemote,
			Logger:    zerolog.New(&logs),
		})

		_, err := g.HandleFrame(handshakeFrame(t, 99999, "play.example.net", protocol.NextStateStatus))
		require.NoError(t, err)
		reply, err := g.HandleFrame(frameOf(t, protocol.BuildStatusRequest()))
		require.NoError(t, err)
		assert.Equal(t, motd.MaximumProtocol, statusProtocol(t, reply.Bytes()))
		reply.Release()

		if !logPings {
			assert.Empty(t, logs.String())
			continue
		}

		var line map[string]interface{}
		for _, raw := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &entry))
			if entry["message"] == "unknown protocol, serving substitute" {
				line = entry
			}
		}
		require.NotNil(t, line, "substitution not logged: %s", logs.String())
		assert.EqualValues(t, 99999, line["protocol"])
		assert.EqualValues(t, motd.MaximumProtocol, line["served_protocol"])
		assert.Equal(t, "play.example.net:25565", line["virtual_host"])
		assert.Equal(t, testRemote.String(), line["remote"])
	}
}

func TestGateStrictImproperSequence(t *testing.T) {
	cases := map[string][]protocol.Frame{
		"ping before request": {
			handshakeFrame(t, 760, "a", protocol.NextStateStatus),
			frameOf(t, protocol.BuildStatusPing(1)),
		},
		"repeated request": {
			handshakeFrame(t, 760, "a", protocol.NextStateStatus),
			frameOf(t, protocol.BuildStatusRequest()),
			frameOf(t, protocol.BuildStatusRequest()),
		},
		"request before handshake": {
			frameOf(t, protocol.BuildStatusRequest()),
		},
		"ping before handshake": {
			frameOf(t, protocol.BuildStatusPing(1)),
		},
	}

	for name, frames := range cases {
		t.Run(name, func(t *testing.T) {
			obs := &recordingObserver{}
			g := newTestGate(newTestResponder(t), nil, obs)

			var (
				reply Reply
				err   error
			)
			for _, f := range frames {
				reply.Release()
				reply, err = g.HandleFrame(f)
			}
			assert.ErrorIs(t, err, ErrImproperSequence)
			assert.True(t, reply.Close)
			assert.Empty(t, reply.Bytes())
			assert.Equal(t, Done, g.State())
			assert.Equal(t, 1, obs.improperCount())
		})
	}
}

func TestGateTolerantImproperSequence(t *testing.T) {
	r := newTestResponder(t)
	r.policy.AllowImproper = true
	obs := &recordingObserver{}

	g := newTestGate(r, nil, obs)
	_, err := g.HandleFrame(handshakeFrame(t, 760, "a", protocol.NextStateStatus))
	require.NoError(t, err)
	reply, err := g.HandleFrame(frameOf(t, protocol.BuildStatusPing(7)))
	require.NoError(t, err)
	assert.Equal(t, protocol.BuildStatusPong(7), reply.Bytes())
	assert.Equal(t, 1, obs.improperCount())

	// A request without handshake is served for the newest protocol.
	g = newTestGate(r, nil, obs)
	reply, err = g.HandleFrame(frameOf(t, protocol.BuildStatusRequest()))
	require.NoError(t, err)
	require.NotNil(t, reply.Lease)
	assert.Equal(t, motd.MaximumProtocol, statusProtocol(t, reply.Bytes()))
	reply.Release()
	assert.Equal(t, AwaitingPing, g.State())
}

func TestGateMaintenancePingClosesWithoutPong(t *testing.T) {
	r := newTestResponder(t)
	r.maintenance.Store(true)
	g := newTestGate(r, nil, nil)

	_, err := g.HandleFrame(handshakeFrame(t, 47, "a", protocol.NextStateStatus))
	require.NoError(t, err)
	reply, err := g.HandleFrame(frameOf(t, protocol.BuildStatusRequest()))
	require.NoError(t, err)
	assert.Equal(t, 47, statusProtocol(t, reply.Bytes()))
	reply.Release()

	reply, err = g.HandleFrame(frameOf(t, protocol.BuildStatusPing(9)))
	require.NoError(t, err)
	assert.True(t, reply.Close)
	assert.Empty(t, reply.Bytes())
}

func TestGateLogin(t *testing.T) {
	packet, err := protocol.BuildLoginDisconnect(`{"text":"later"}`)
	require.NoError(t, err)
	login := &testLogin{kick: true, packet: packet}
	obs := &recordingObserver{}
	g := newTestGate(newTestResponder(t), login, obs)

	reply, err := g.HandleFrame(handshakeFrame(t, 767, "a", protocol.NextStateLogin))
	require.NoError(t, err)
	assert.True(t, reply.Close)
	assert.Equal(t, packet, reply.Bytes())
	require.Len(t, login.calls, 1)
	assert.Equal(t, 767, login.calls[0].protocol)
	assert.False(t, login.calls[0].legacy)
	assert.True(t, login.calls[0].ip.Equal(testRemote.IP))
	assert.Equal(t, 1, obs.refused)

	g = newTestGate(newTestResponder(t), login, obs)
	reply = g.HandleLegacyLogin()
	assert.True(t, reply.Close)
	require.Len(t, login.calls, 2)
	assert.True(t, login.calls[1].legacy)
	assert.Equal(t, motd.NoProtocol, login.calls[1].protocol)

	g = newTestGate(newTestResponder(t), nil, nil)
	reply, err = g.HandleFrame(handshakeFrame(t, 767, "a", protocol.NextStateLogin))
	require.NoError(t, err)
	assert.True(t, reply.Close)
	assert.Empty(t, reply.Bytes())
}

func TestGateLegacyPing(t *testing.T) {
	obs := &recordingObserver{}
	g := newTestGate(newTestResponder(t), nil, obs)

	reply, err := g.HandleLegacy(protocol.LegacyPing{Version: protocol.Legacy16, Protocol: 78, Host: "mc.example.net", Port: 25565})
	require.NoError(t, err)
	defer reply.Release()
	assert.True(t, reply.Close)
	assert.Equal(t, protocol.LegacyKickMarker, reply.Bytes()[0])
	assert.Equal(t, Done, g.State())
	assert.Equal(t, "mc.example.net:25565", g.Request().VirtualHost)
	assert.Equal(t, []motd.Era{motd.EraTextV2}, obs.served)
}

func TestGateInterceptorAndMalformedHandshake(t *testing.T) {
	g := newTestGate(newTestResponder(t), nil, nil, rejectHost("blocked.example.net"))
	reply, err := g.HandleFrame(handshakeFrame(t, 760, "blocked.example.net", protocol.NextStateStatus))
	require.NoError(t, err)
	assert.True(t, reply.Close)
	assert.Equal(t, Done, g.State())

	g = newTestGate(newTestResponder(t), nil, nil)
	_, err = g.HandleFrame(handshakeFrame(t, 760, "a", 9))
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)

	g = newTestGate(newTestResponder(t), nil, nil)
	_, err = g.HandleFrame(protocol.Frame{ID: protocol.PktHandshake, Payload: []byte{0xFF}})
	assert.Error(t, err)
	assert.Equal(t, Done, g.State())
}
