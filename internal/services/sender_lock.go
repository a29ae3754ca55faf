package services

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// senderLocks serializes relay attempts per signer address.
type senderLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*senderLock
}

type senderLock struct {
	ch   chan struct{}
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[common.Address]*senderLock)}
}

// Lock blocks until addr is free or ctx is done.
func (s *senderLocks) Lock(ctx context.Context, addr common.Address) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[addr]
	if !ok {
		l = &senderLock{ch: make(chan struct{}, 1)}
		s.locks[addr] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.release(addr, l)
		}, nil
	case <-ctx.Done():
		s.release(addr, l)
		return nil, ctx.Err()
	}
}

func (s *senderLocks) release(addr common.Address, l *senderLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, addr)
	}
	s.mu.Unlock()
}

// inflightSet rejects a second attempt for the same key while the first runs.
type inflightSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{keys: make(map[string]struct{})}
}

func (s *inflightSet) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.keys[key]; busy {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *inflightSet) release(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// relayerNonces hands out relayer account nonces. The lock is held from the
// nonce read until the transaction is broadcast, and the next expected nonce is
// kept locally so a node that lags on its pending count cannot hand out a used one.
type relayerNonces struct {
	locks *senderLocks

	mu   sync.Mutex
	next map[common.Address]uint64
}

func newRelayerNonces() *relayerNonces {
	return &relayerNonces{locks: newSenderLocks(), next: make(map[common.Address]uint64)}
}

// acquire locks addr and returns the nonce to use given the node's pending count.
// done must be called with whether the transaction was broadcast.
func (r *relayerNonces) acquire(ctx context.Context, addr common.Address, pending func(context.Context) (uint64, error)) (uint64, func(sent bool), error) {
	unlock, err := r.locks.Lock(ctx, addr)
	if err != nil {
		return 0, nil, err
	}
	nodeNonce, err := pending(ctx)
	if err != nil {
		unlock()
		return 0, nil, err
	}

	r.mu.Lock()
	nonce := nodeNonce
	if local, ok := r.next[addr]; ok && local > nonce {
		nonce = local
	}
	r.mu.Unlock()

	return nonce, func(sent bool) {
		r.mu.Lock()
		if sent {
			r.next[addr] = nonce + 1
		} else {
			delete(r.next, addr)
		}
		r.mu.Unlock()
		unlock()
	}, nil
}
