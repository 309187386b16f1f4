package server

import (
	"sync"

	"rendezvous/defs"
)

const numBuckets = 64

type bucket struct {
	mu    sync.RWMutex
	pairs map[defs.SID]uint32
}

// Registry maps SIDs to dense kernel-internal server indices (sidx)
// and owns the Endpoint objects themselves. Adapted from
// biscuit/src/hashtable/hashtable.go's bucket-sharded Hashtable_t
// (one RWMutex per bucket rather than a single table-wide lock),
// specialized from Hashtable_t's interface{} keys to the fixed 16-byte
// SID, and from hashed buckets to a direct SID-byte-indexed bucket
// since collisions only need spreading the lock, not a real hash
// function: the byte used is the low byte of the xid counter, which
// changes with every SID NewSID hands out.
type Registry struct {
	buckets   [numBuckets]*bucket
	mu        sync.Mutex
	endpoints []*Endpoint // index 0 unused, so sidx 0 means "no server"
}

func NewRegistry() *Registry {
	r := &Registry{endpoints: make([]*Endpoint, 1)}
	for i := range r.buckets {
		r.buckets[i] = &bucket{pairs: make(map[defs.SID]uint32)}
	}
	return r
}

func (r *Registry) bucketFor(sid defs.SID) *bucket {
	return r.buckets[sid[11]%numBuckets]
}

// Create registers a new server endpoint hosted by host under a fresh
// SID, returning the SID and its dense sidx.
func (r *Registry) Create(host defs.PID, name string) (defs.SID, uint32) {
	sid := defs.NewSID(name)
	r.mu.Lock()
	ep := NewEndpoint(sid, host)
	r.endpoints = append(r.endpoints, ep)
	sidx := uint32(len(r.endpoints) - 1)
	r.mu.Unlock()

	b := r.bucketFor(sid)
	b.mu.Lock()
	b.pairs[sid] = sidx
	b.mu.Unlock()
	return sid, sidx
}

// SidxFromSID looks up the dense index for a public SID.
func (r *Registry) SidxFromSID(sid defs.SID) (uint32, bool) {
	b := r.bucketFor(sid)
	b.mu.RLock()
	defer b.mu.RUnlock()
	sidx, ok := b.pairs[sid]
	return sidx, ok
}

// Endpoint returns the endpoint at sidx, or nil if out of range or
// already destroyed.
func (r *Registry) Endpoint(sidx uint32) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sidx == 0 || int(sidx) >= len(r.endpoints) {
		return nil
	}
	return r.endpoints[sidx]
}

// Destroy removes the endpoint at sidx entirely (process termination).
func (r *Registry) Destroy(sidx uint32) {
	r.mu.Lock()
	var ep *Endpoint
	if sidx != 0 && int(sidx) < len(r.endpoints) {
		ep = r.endpoints[sidx]
		r.endpoints[sidx] = nil
	}
	r.mu.Unlock()
	if ep == nil {
		return
	}
	b := r.bucketFor(ep.SID)
	b.mu.Lock()
	delete(b.pairs, ep.SID)
	b.mu.Unlock()
}

// All returns every live endpoint's sidx, for stats polling.
func (r *Registry) All() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, 0, len(r.endpoints))
	for idx, ep := range r.endpoints {
		if ep != nil {
			out = append(out, uint32(idx))
		}
	}
	return out
}

// HostedBy returns the sidx of every live endpoint hosted by pid.
func (r *Registry) HostedBy(pid defs.PID) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for idx, ep := range r.endpoints {
		if ep != nil && ep.Host == pid {
			out = append(out, uint32(idx))
		}
	}
	return out
}
