package server

import "sync/atomic"

// DefaultBasePort is the first port tried when no pool base is configured.
const DefaultBasePort = 39127

// PortPool hands out candidate listening ports in increasing order. One pool
// is shared by every Server in the process so concurrent servers never race
// for the same port.
type PortPool struct {
	next atomic.Int64
}

// NewPortPool returns a pool whose first candidate is base.
func NewPortPool(base int) *PortPool {
	p := &PortPool{}
	p.next.Store(int64(base))
	return p
}

// Next returns the current candidate and advances the pool.
func (p *PortPool) Next() int {
	return int(p.next.Add(1) - 1)
}

// Peek returns the candidate Next would return, without advancing.
func (p *PortPool) Peek() int {
	return int(p.next.Load())
}
