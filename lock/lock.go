// Package lock implements the entity-level lock manager (spec.md §4.6):
// shared/exclusive locks keyed by an opaque int64 lock id, granted to
// transactions also identified by int64, with re-entrant acquisition,
// shared-to-exclusive upgrade, and deadlock detection via the waitgraph
// package on the blocking path. Grounded on
// original_source/anura/concurrent/manager.py's TransactionLock,
// Transaction and LockManager, translated from Python's
// threading.Condition/RLock pairing into sync.Cond/sync.Mutex.
package lock

import (
	"errors"
	"sync"

	"github.com/vela-db/vela/hashset"
	"github.com/vela-db/vela/waitgraph"
	"go.uber.org/zap"
)

// Mode is a lock's acquisition mode.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// ErrDeadlock is returned by Lock when granting the request would close
// a cycle in the wait-for graph. The caller's transaction has already
// had all of its locks released by the time this error surfaces
// (spec.md §4.6: "the transaction is aborted ... all its locks are
// released, and the call fails with Deadlock").
var ErrDeadlock = errors.New("lock: deadlock detected, transaction aborted")

// entityLock is the per-lock-id state: the shared/exclusive counters and
// owner set, guarded by cond's mutex. A request that can't be granted
// registers itself on the shared waitgraph.Graph and waits on cond.
type entityLock struct {
	id     int64
	cond   *sync.Cond
	sCount int
	xCount int
	owners *hashset.Set
}

func newEntityLock(id int64) *entityLock {
	return &entityLock{id: id, cond: sync.NewCond(&sync.Mutex{}), owners: hashset.New()}
}

func (l *entityLock) isExclusive() bool { return l.xCount == 1 }
func (l *entityLock) isShared() bool    { return l.sCount > 0 }

// mode reports the lock's current mode and whether it is held at all.
func (l *entityLock) mode() (Mode, bool) {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	switch {
	case l.isExclusive():
		return Exclusive, true
	case l.isShared():
		return Shared, true
	default:
		return 0, false
	}
}

// sAcquire blocks while the lock is held exclusively, registering a wait
// edge to every current owner and checking for a cycle on each attempt.
func (l *entityLock) sAcquire(txn int64, graph *waitgraph.Graph) error {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	for l.isExclusive() {
		graph.Add(txn, l.owners.Slice())
		if graph.HasCycle(txn) {
			return ErrDeadlock
		}
		l.cond.Wait()
	}
	l.sCount++
	l.owners.Add(txn)
	return nil
}

// xAcquire blocks while the lock is held in either mode.
func (l *entityLock) xAcquire(txn int64, graph *waitgraph.Graph) error {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	for l.isExclusive() || l.isShared() {
		graph.Add(txn, l.owners.Slice())
		if graph.HasCycle(txn) {
			return ErrDeadlock
		}
		l.cond.Wait()
	}
	l.xCount = 1
	l.owners.Add(txn)
	return nil
}

// upgrade promotes txn's shared hold to exclusive. It succeeds
// immediately if txn is the sole shared holder (or already upgraded,
// re-entrantly); otherwise it waits without releasing txn's shared
// hold, per spec.md §4.6 ("upgrade is atomic with respect to deadlock
// detection").
func (l *entityLock) upgrade(txn int64, graph *waitgraph.Graph) error {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	if l.isExclusive() && l.owners.Contains(txn) {
		return nil
	}

	for l.isExclusive() || l.sCount > 1 {
		others := make([]int64, 0, l.owners.Len())
		for _, o := range l.owners.Slice() {
			if o != txn {
				others = append(others, o)
			}
		}
		graph.Add(txn, others)
		if graph.HasCycle(txn) {
			return ErrDeadlock
		}
		l.cond.Wait()
	}

	l.sCount = 0
	l.xCount = 1
	l.owners.Add(txn)
	return nil
}

// release drops txn's hold on the lock (whichever mode it was granted
// in), removes it from the owner set, clears its wait-for edges, and
// wakes every waiter so they can re-check the grant condition.
func (l *entityLock) release(txn int64, graph *waitgraph.Graph) {
	l.cond.L.Lock()
	if l.sCount > 0 {
		l.sCount--
	}
	if l.xCount == 1 {
		l.xCount = 0
	}
	l.owners.Remove(txn)
	l.cond.Broadcast()
	l.cond.L.Unlock()

	graph.Remove(txn)
}

// transaction tracks the full set of locks one txn currently holds, so
// a deadlock abort can release them wholesale.
type transaction struct {
	mu    sync.Mutex
	locks map[int64]*entityLock
}

// Manager is the lock table plus transaction table plus wait-for graph
// described in spec.md §4.6-§4.7. The zero value is not usable; call
// New.
type Manager struct {
	mu     sync.Mutex
	locks  map[int64]*entityLock
	txns   map[int64]*transaction
	graph  *waitgraph.Graph
	logger *zap.Logger
}

// New returns an empty Manager. A nil logger is replaced with a no-op
// logger.
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		locks:  make(map[int64]*entityLock),
		txns:   make(map[int64]*transaction),
		graph:  waitgraph.New(),
		logger: logger,
	}
}

func (m *Manager) entity(lockID int64) *entityLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[lockID]
	if !ok {
		l = newEntityLock(lockID)
		m.locks[lockID] = l
	}
	return l
}

func (m *Manager) transaction(txnID int64) *transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txnID]
	if !ok {
		t = &transaction{locks: make(map[int64]*entityLock)}
		m.txns[txnID] = t
	}
	return t
}

func noop() {}

// Lock acquires lockID for txnID in the given mode, applying the
// compatibility matrix and re-entrancy/upgrade rules of spec.md §4.6. On
// success it returns a release function the caller must invoke exactly
// once, on every exit path (normal return, error, or panic via defer),
// to give up the lock. On ErrDeadlock, txnID has already had its entire
// lock set released; no release function is returned.
func (m *Manager) Lock(lockID, txnID int64, mode Mode) (release func(), err error) {
	l := m.entity(lockID)
	txn := m.transaction(txnID)

	txn.mu.Lock()
	_, alreadyHeld := txn.locks[lockID]
	txn.mu.Unlock()

	heldMode, isHeld := l.mode()

	switch {
	case alreadyHeld && isHeld && heldMode == mode:
		return noop, nil
	case alreadyHeld && isHeld && mode == Shared && heldMode == Exclusive:
		return noop, nil
	case alreadyHeld && isHeld && mode == Exclusive && heldMode == Shared:
		if err := l.upgrade(txnID, m.graph); err != nil {
			m.abort(txnID)
			return nil, err
		}
	default:
		var acqErr error
		if mode == Exclusive {
			acqErr = l.xAcquire(txnID, m.graph)
		} else {
			acqErr = l.sAcquire(txnID, m.graph)
		}
		if acqErr != nil {
			m.abort(txnID)
			return nil, acqErr
		}
	}

	txn.mu.Lock()
	txn.locks[lockID] = l
	txn.mu.Unlock()

	return func() {
		l.release(txnID, m.graph)
		txn.mu.Lock()
		delete(txn.locks, lockID)
		txn.mu.Unlock()
	}, nil
}

// With acquires lockID for txnID in mode, runs fn, and releases the
// lock on every return path from fn, including a panic — the scoped
// acquisition pattern of spec.md §4.6 ("acquire-on-enter,
// release-on-exit, even on failure").
func (m *Manager) With(lockID, txnID int64, mode Mode, fn func() error) error {
	release, err := m.Lock(lockID, txnID, mode)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// abort releases every lock txnID currently holds and clears its
// wait-for graph edges, both outgoing (added while it was blocked) and
// any that survived from prior grants.
func (m *Manager) abort(txnID int64) {
	m.logger.Warn("deadlock detected, aborting transaction", zap.Int64("txn", txnID))

	m.mu.Lock()
	txn, ok := m.txns[txnID]
	m.mu.Unlock()

	if ok {
		txn.mu.Lock()
		held := make([]*entityLock, 0, len(txn.locks))
		for _, l := range txn.locks {
			held = append(held, l)
		}
		txn.locks = make(map[int64]*entityLock)
		txn.mu.Unlock()

		for _, l := range held {
			l.release(txnID, m.graph)
		}
	}

	m.graph.Remove(txnID)
}
