package network

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/protocol"
)

// ErrImproperSequence is returned when a client sends a packet its
// connection state does not expect.
var ErrImproperSequence = errors.New("improper ping sequence")

// PingPolicy controls ping logging and out-of-order tolerance.
type PingPolicy struct {
	LogPings      bool
	LogImproper   bool
	AllowImproper bool
}

// Responder serves the cached status responses.
type Responder interface {
	Acquire(req motd.Request) (*motd.Lease, motd.Resolution, error)
	Maintenance() bool
	PingPolicy() PingPolicy
}

// LoginHandler ends login attempts. This listener never proxies a login;
// it answers with a disconnect, which is the maintenance kick message when
// kicked is true.
type LoginHandler interface {
	LoginDisconnect(ip net.IP, protocolNumber int, legacy bool) (packet []byte, kicked bool)
}

// HandshakeInterceptor sees every decoded handshake before the gate acts
// on it. Returning handled writes reply (which may be empty) and closes
// the connection.
type HandshakeInterceptor interface {
	InterceptHandshake(remote net.Addr, h protocol.Handshake) (reply []byte, handled bool)
}

// Observer receives gate outcomes.
type Observer interface {
	Served(era motd.Era, substituted bool)
	Improper(remote net.IP, reason string, tolerated bool)
	LoginRefused(kicked bool)
}

type nopObserver struct{}

func (nopObserver) Served(motd.Era, bool)         {}
func (nopObserver) Improper(net.IP, string, bool) {}
func (nopObserver) LoginRefused(bool)             {}

// GateState is the position of a connection in the status exchange.
type GateState int

const (
	AwaitingHandshake GateState = iota
	AwaitingRequest
	AwaitingPing
	Done
)

func (s GateState) String() string {
	switch s {
	case AwaitingHandshake:
		return "awaiting_handshake"
	case AwaitingRequest:
		return "awaiting_request"
	case AwaitingPing:
		return "awaiting_ping"
	default:
		return "done"
	}
}

// Reply is what the gate wants written. The writer must call Release.
type Reply struct {
	Lease *motd.Lease
	Data  []byte
	Close bool
}

// Bytes returns the bytes to write.
func (r Reply) Bytes() []byte {
	if r.Lease != nil {
		return r.Lease.Bytes()
	}
	return r.Data
}

// Release returns the lease, if any.
func (r Reply) Release() {
	if r.Lease != nil {
		r.Lease.Release()
	}
}

// GateOptions configures a Gate.
type GateOptions struct {
	Responder    Responder
	Login        LoginHandler
	Interceptors []HandshakeInterceptor
	Observer     Observer
	Remote       net.Addr
	Logger       zerolog.Logger
}

// Gate is the per-connection state machine of the status exchange:
// handshake, status request, ping. It is not safe for concurrent use.
type Gate struct {
	state        GateState
	req          motd.Request
	policy       PingPolicy
	responder    Responder
	login        LoginHandler
	interceptors []HandshakeInterceptor
	observer     Observer
	remote       net.Addr
	ip           net.IP
	logger       zerolog.Logger
}

// NewGate creates a gate for one connection.
func NewGate(opts GateOptions) *Gate {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Gate{
		state:        AwaitingHandshake,
		req:          motd.Request{Protocol: motd.NoProtocol},
		policy:       opts.Responder.PingPolicy(),
		responder:    opts.Responder,
		login:        opts.Login,
		interceptors: opts.Interceptors,
		observer:     observer,
		remote:       opts.Remote,
		ip:           RemoteIP(opts.Remote),
		logger:       opts.Logger,
	}
}

// State returns the current state.
func (g *Gate) State() GateState {
	return g.state
}

// Request returns what the gate learned about the client.
func (g *Gate) Request() motd.Request {
	return g.req
}

// HandleFrame advances the state machine by one framed packet.
func (g *Gate) HandleFrame(f protocol.Frame) (Reply, error) {
	switch g.state {
	case AwaitingHandshake:
		if f.ID != protocol.PktHandshake {
			return g.outOfOrder(f, "packet before handshake")
		}
		if len(f.Payload) == 0 {
			return g.outOfOrder(f, "status request before handshake")
		}
		h, err := protocol.DecodeHandshake(f.Payload)
		if err != nil {
			g.state = Done
			return Reply{Close: true}, err
		}
		return g.handshake(h)

	case AwaitingRequest:
		switch f.ID {
		case protocol.PktStatusRequest:
			return g.status()
		case protocol.PktStatusPing:
			return g.outOfOrder(f, "ping before status request")
		}

	case AwaitingPing:
		switch f.ID {
		case protocol.PktStatusPing:
			return g.ping(f.Payload)
		case protocol.PktStatusRequest:
			return g.outOfOrder(f, "repeated status request")
		}
	}
	return g.outOfOrder(f, "unexpected packet")
}

// HandleLegacy answers a legacy ping. Legacy pings are single shot.
func (g *Gate) HandleLegacy(p protocol.LegacyPing) (Reply, error) {
	g.state = Done
	g.req = motd.Request{
		Protocol:    motd.NoProtocol,
		Legacy:      p.Version,
		VirtualHost: p.VirtualHost(),
	}
	if g.policy.LogPings {
		g.logger.Info().
			Str("remote", addrString(g.remote)).
			Str("legacy", p.Version.String()).
			Str("virtual_host", g.req.VirtualHost).
			Msg("legacy ping")
	}

	lease, res, err := g.responder.Acquire(g.req)
	if err != nil {
		return Reply{Close: true}, fmt.Errorf("failed to resolve legacy response: %w", err)
	}
	g.observer.Served(res.Era, res.Substituted)
	return Reply{Lease: lease, Close: true}, nil
}

// HandleLegacyLogin answers a pre-netty login handshake.
func (g *Gate) HandleLegacyLogin() Reply {
	g.state = Done
	return g.loginReply(motd.NoProtocol, true)
}

func (g *Gate) handshake(h protocol.Handshake) (Reply, error) {
	g.req = motd.Request{Protocol: int(h.Protocol), VirtualHost: h.VirtualHost()}

	for _, i := range g.interceptors {
		if reply, handled := i.InterceptHandshake(g.remote, h); handled {
			g.state = Done
			return Reply{Data: reply, Close: true}, nil
		}
	}

	switch h.NextState {
	case protocol.NextStateStatus:
		if g.policy.LogPings {
			g.logger.Info().
				Str("remote", addrString(g.remote)).
				Int32("protocol", h.Protocol).
				Str("virtual_host", g.req.VirtualHost).
				Msg("pinging with version")
		}
		g.state = AwaitingRequest
		return Reply{}, nil
	case protocol.NextStateLogin, protocol.NextStateTransfer:
		g.state = Done
		return g.loginReply(int(h.Protocol), false), nil
	default:
		g.state = Done
		return Reply{Close: true}, fmt.Errorf("%w: next state %d", protocol.ErrMalformedPacket, h.NextState)
	}
}

func (g *Gate) status() (Reply, error) {
	lease, res, err := g.responder.Acquire(g.req)
	if err != nil {
		g.state = Done
		return Reply{Close: true}, fmt.Errorf("failed to resolve status response: %w", err)
	}
	if res.Substituted && g.policy.LogPings {
		g.logger.Info().
			Str("remote", addrString(g.remote)).
			Int("protocol", g.req.Protocol).
			Int("served_protocol", res.Protocol).
			Str("virtual_host", g.req.VirtualHost).
			Msg("unknown protocol, serving substitute")
	}
	g.observer.Served(res.Era, res.Substituted)
	g.state = AwaitingPing
	return Reply{Lease: lease}, nil
}

// ping answers a status ping. In maintenance the connection closes
// without a pong.
func (g *Gate) ping(payload []byte) (Reply, error) {
	g.state = Done
	if g.responder.Maintenance() {
		return Reply{Close: true}, nil
	}
	v, err := protocol.DecodeStatusPing(payload)
	if err != nil {
		return Reply{Close: true}, err
	}
	return Reply{Data: protocol.BuildStatusPong(v), Close: true}, nil
}

func (g *Gate) loginReply(protocolNumber int, legacy bool) Reply {
	if g.login == nil {
		return Reply{Close: true}
	}
	packet, kicked := g.login.LoginDisconnect(g.ip, protocolNumber, legacy)
	g.observer.LoginRefused(kicked)
	if kicked {
		g.logger.Info().
			Str("remote", addrString(g.remote)).
			Int("protocol", protocolNumber).
			Msg("login refused during maintenance")
	}
	return Reply{Data: packet, Close: true}
}

// outOfOrder handles ErrImproperSequence. A tolerant gate answers pings
// and status requests as if they had arrived in order.
func (g *Gate) outOfOrder(f protocol.Frame, reason string) (Reply, error) {
	tolerated := g.policy.AllowImproper && (f.ID == protocol.PktStatusRequest || f.ID == protocol.PktStatusPing)
	g.observer.Improper(g.ip, reason, tolerated)
	if g.policy.LogImproper {
		g.logger.Warn().
			Str("remote", addrString(g.remote)).
			Str("state", g.state.String()).
			Int32("packet", f.ID).
			Bool("tolerated", tolerated).
			Msg(reason)
	}

	if !tolerated {
		state := g.state
		g.state = Done
		return Reply{Close: true}, fmt.Errorf("%w: %s (packet 0x%02X in %s)", ErrImproperSequence, reason, f.ID, state)
	}
	if f.ID == protocol.PktStatusPing {
		return g.ping(f.Payload)
	}
	return g.status()
}

// RemoteIP extracts the IP address of addr, nil when it has none.
func RemoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
