package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/protocol"
)

const (
	// DefaultReadTimeout is how long a client may stay silent.
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single response write.
	DefaultWriteTimeout = 10 * time.Second
)

// ConnectionHook runs for every accepted connection before the gate
// reads from it. Returning false closes the connection.
type ConnectionHook interface {
	OnConnect(remote net.Addr) bool
}

// ListenerOptions configures a StatusListener.
type ListenerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Responder    Responder
	Login        LoginHandler
	Observer     Observer
	Bus          *events.EventBus
	Logger       zerolog.Logger
}

// StatusListener accepts client connections and runs one Gate per
// connection in its own goroutine.
type StatusListener struct {
	opts     ListenerOptions
	logger   zerolog.Logger
	registry *ConnectionRegistry
	observer Observer

	mu           sync.RWMutex
	hooks        []ConnectionHook
	interceptors []HandshakeInterceptor
	listener     net.Listener

	ready chan struct{}
	wg    sync.WaitGroup
}

// NewStatusListener creates a listener. Responder is required.
func NewStatusListener(opts ListenerOptions) *StatusListener {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	observers := fanout{}
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}
	if opts.Bus != nil {
		observers = append(observers, busObserver{bus: opts.Bus})
	}

	return &StatusListener{
		opts:     opts,
		logger:   opts.Logger,
		registry: NewConnectionRegistry(),
		observer: observers,
		ready:    make(chan struct{}),
	}
}

// AddConnectionHook registers a hook run on every accepted connection.
func (l *StatusListener) AddConnectionHook(h ConnectionHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

// AddHandshakeInterceptor registers an interceptor consulted on every
// handshake.
func (l *StatusListener) AddHandshakeInterceptor(i HandshakeInterceptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interceptors = append(l.interceptors, i)
}

// Start listens and serves until ctx is cancelled, then waits for open
// connections to finish.
func (l *StatusListener) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to start status listener on %s: %w", l.opts.Address, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	close(l.ready)

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("status listener started")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	defer func() {
		l.registry.CloseAll()
		l.wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info().Msg("status listener stopping")
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// Ready is closed once the listener is bound.
func (l *StatusListener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, nil before Ready.
func (l *StatusListener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Connections returns the registry of open connections.
func (l *StatusListener) Connections() *ConnectionRegistry {
	return l.registry
}

// Stop closes the listening socket; Start returns once open connections
// have finished.
func (l *StatusListener) Stop() error {
	l.mu.RLock()
	ln := l.listener
	l.mu.RUnlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (l *StatusListener) handleConnection(ctx context.Context, raw net.Conn) {
	l.mu.RLock()
	hooks := l.hooks
	interceptors := l.interceptors
	l.mu.RUnlock()

	for _, h := range hooks {
		if !h.OnConnect(raw.RemoteAddr()) {
			raw.Close()
			return
		}
	}

	conn := NewConnection(raw, l.opts.ReadTimeout, l.opts.WriteTimeout, l.logger)
	id := l.registry.Register(conn)
	defer l.registry.Unregister(id)
	if ctx.Err() != nil {
		return
	}

	gate := NewGate(GateOptions{
		Responder:    l.opts.Responder,
		Login:        l.opts.Login,
		Interceptors: interceptors,
		Observer:     l.observer,
		Remote:       raw.RemoteAddr(),
		Logger:       l.logger,
	})

	first, err := conn.PeekFirst()
	if err != nil {
		return
	}

	switch {
	case protocol.IsLegacyPing(first):
		p, err := conn.ReadLegacyPing()
		if err != nil {
			l.logger.Debug().Err(err).Str("remote", raw.RemoteAddr().String()).Msg("bad legacy ping")
			return
		}
		reply, err := gate.HandleLegacy(p)
		l.write(conn, reply, err)
		return

	case protocol.IsLegacyHandshake(first):
		l.write(conn, gate.HandleLegacyLogin(), nil)
		return
	}

	for ctx.Err() == nil {
		frame, err := conn.ReadFrame(protocol.MaxHandshakeFrame)
		if err != nil {
			if !isDisconnect(err) {
				l.logger.Debug().Err(err).Str("remote", raw.RemoteAddr().String()).Msg("bad frame")
			}
			return
		}
		reply, err := gate.HandleFrame(frame)
		if !l.write(conn, reply, err) || reply.Close {
			return
		}
	}
}

// write sends a reply and reports whether the connection may continue.
func (l *StatusListener) write(conn *Connection, reply Reply, gateErr error) bool {
	defer reply.Release()

	if gateErr != nil && !errors.Is(gateErr, ErrImproperSequence) {
		l.logger.Debug().Err(gateErr).Str("remote", conn.RemoteAddr().String()).Msg("closing connection")
	}
	if err := conn.Write(reply.Bytes()); err != nil {
		if !isDisconnect(err) {
			l.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("failed to write response")
		}
		return false
	}
	return gateErr == nil
}

// fanout forwards gate outcomes to several observers.
type fanout []Observer

func (f fanout) Served(era motd.Era, substituted bool) {
	for _, o := range f {
		o.Served(era, substituted)
	}
}

func (f fanout) Improper(remote net.IP, reason string, tolerated bool) {
	for _, o := range f {
		o.Improper(remote, reason, tolerated)
	}
}

func (f fanout) LoginRefused(kicked bool) {
	for _, o := range f {
		o.LoginRefused(kicked)
	}
}

// busObserver publishes improper sequences on the event bus.
type busObserver struct {
	nopObserver
	bus *events.EventBus
}

func (b busObserver) Improper(remote net.IP, reason string, tolerated bool) {
	b.bus.Emit(context.Background(), events.New(events.EventImproperPing, "listener", events.ConnectionPayload{
		Remote: remote.String(),
		Reason: reason,
	}))
}
