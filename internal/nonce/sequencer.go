// Package nonce hands out per-address nonces for manual-nonce mode.
package nonce

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Sequencer tracks the next nonce for each sending address.
// Calls for one address are serialized; different addresses never block each other.
// A returned nonce is never handed out again, even if its transaction fails.
type Sequencer struct {
	mu    sync.Mutex
	addrs map[common.Address]*slot
}

type slot struct {
	mu     sync.Mutex
	next   uint64
	cached bool
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{addrs: make(map[common.Address]*slot)}
}

func (s *Sequencer) slot(addr common.Address) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.addrs[addr]
	if !ok {
		sl = &slot{}
		s.addrs[addr] = sl
	}
	return sl
}

// Next returns the nonce to use for addr given the node's pending count.
// The result is max(cached next, onChainPending); the cache then advances past it.
func (s *Sequencer) Next(addr common.Address, onChainPending uint64) uint64 {
	sl := s.slot(addr)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	n := onChainPending
	if sl.cached && sl.next > n {
		n = sl.next
	}
	sl.next = n + 1
	sl.cached = true
	return n
}

// peek returns the cached next nonce for addr without reserving it.
func (s *Sequencer) peek(addr common.Address) (uint64, bool) {
	s.mu.Lock()
	sl, ok := s.addrs[addr]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.next, sl.cached
}
