// Package network implements the status listener: the accept loop, the
// per-connection handshake gate, the probe client and the LAN announcer.
package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/energizer-project/pingcache/internal/protocol"
)

// Connection wraps one client connection with deadlines and a buffered
// reader. Every read and write refreshes its deadline.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	logger zerolog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	connectedAt time.Time
	closed      bool
}

// NewConnection wraps an accepted net.Conn.
func NewConnection(conn net.Conn, readTimeout, writeTimeout time.Duration, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, 512),
		logger:       logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
	}
}

// PeekFirst returns the first byte without consuming it. The buffered
// reader keeps whatever else arrived with it, which the legacy ping
// decoder relies on.
func (c *Connection) PeekFirst() (byte, error) {
	c.refreshRead()
	b, err := c.reader.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadFrame reads one varint-framed packet.
func (c *Connection) ReadFrame(maxLength int) (protocol.Frame, error) {
	c.refreshRead()
	return protocol.ReadFrame(c.reader, maxLength)
}

// legacyGrace bounds the wait for the rest of a legacy ping that arrived
// split across segments.
const legacyGrace = 150 * time.Millisecond

// ReadLegacyPing reads a legacy ping.
func (c *Connection) ReadLegacyPing() (protocol.LegacyPing, error) {
	c.refreshRead()
	return protocol.ReadLegacyPing(c.reader, c.awaitMore)
}

// awaitMore waits up to legacyGrace for another byte.
func (c *Connection) awaitMore() bool {
	c.conn.SetReadDeadline(time.Now().Add(legacyGrace))
	_, err := c.reader.Peek(1)
	if c.readTimeout > 0 {
		c.refreshRead()
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	return err == nil
}

func (c *Connection) refreshRead() {
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

// Write sends bytes to the client.
func (c *Connection) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := protocol.WriteFrame(c.conn, data); err != nil {
		return err
	}
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Trace().Dur("duration", time.Since(c.connectedAt)).Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// isDisconnect reports errors that just mean the client went away.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ConnectionRegistry tracks open client connections so shutdown can close
// them.
type ConnectionRegistry struct {
	mu     sync.Mutex
	nextID uint64
	conns  map[uint64]*Connection
	total  atomic.Uint64
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[uint64]*Connection),
	}
}

// Register adds a connection and returns its id.
func (r *ConnectionRegistry) Register(conn *Connection) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.conns[r.nextID] = conn
	r.total.Inc()
	return r.nextID
}

// Unregister closes and removes a connection.
func (r *ConnectionRegistry) Unregister(id uint64) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
}

// Count returns the number of open connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Total returns how many connections were ever registered.
func (r *ConnectionRegistry) Total() uint64 {
	return r.total.Load()
}

// CloseAll closes every open connection.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[uint64]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// CleanStale closes connections open for longer than timeout and returns
// how many were closed.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var stale []*Connection
	for id, conn := range r.conns {
		if conn.ConnectedAt().Before(cutoff) {
			stale = append(stale, conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, conn := range stale {
		conn.Close()
	}
	return len(stale)
}
