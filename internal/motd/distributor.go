package motd

import (
	"bytes"
	"sync"

	"go.uber.org/atomic"
)

// Distributor hands out private copies of one immutable snapshot. Copies
// are pooled per P, so a connection goroutine usually receives a buffer
// last used on the same CPU and never contends with other readers.
type Distributor struct {
	snapshot []byte
	pool     sync.Pool
	retired  atomic.Bool
}

func newDistributor(snapshot []byte) *Distributor {
	d := &Distributor{snapshot: snapshot}
	d.pool.New = func() any {
		return &Lease{buf: bytes.Clone(d.snapshot), owner: d}
	}
	return d
}

// Get returns a private copy of the snapshot with one reference held.
func (d *Distributor) Get() *Lease {
	l := d.pool.Get().(*Lease)
	l.refs.Store(1)
	return l
}

// Retire stops recycling copies. Leases already handed out stay valid
// until released.
func (d *Distributor) Retire() {
	d.retired.Store(true)
}

// Retired reports whether Retire was called.
func (d *Distributor) Retired() bool {
	return d.retired.Load()
}

// Snapshot returns the canonical bytes this distributor copies from.
// Callers must not modify them.
func (d *Distributor) Snapshot() []byte {
	return d.snapshot
}

// Lease is a reference-counted private response buffer.
type Lease struct {
	buf   []byte
	refs  atomic.Int32
	owner *Distributor
}

// Bytes returns the buffer. It is valid until the last Release.
func (l *Lease) Bytes() []byte {
	return l.buf
}

// Retain adds a reference.
func (l *Lease) Retain() *Lease {
	l.refs.Inc()
	return l
}

// Release drops a reference. The buffer returns to its distributor's pool
// when the count reaches zero, unless the distributor has been retired.
func (l *Lease) Release() {
	n := l.refs.Dec()
	switch {
	case n > 0:
		return
	case n < 0:
		panic("motd: lease released more often than retained")
	}
	if !l.owner.Retired() {
		l.owner.pool.Put(l)
	}
}
