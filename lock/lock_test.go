package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSharedLocksAreConcurrent(t *testing.T) {
	m := New(nil)

	release1, err := m.Lock(1, 100, Shared)
	require.NoError(t, err)
	defer release1()

	release2, err := m.Lock(1, 200, Shared)
	require.NoError(t, err)
	defer release2()
}

func TestExclusiveExcludesShared(t *testing.T) {
	m := New(nil)

	releaseX, err := m.Lock(1, 100, Exclusive)
	require.NoError(t, err)

	granted := make(chan struct{})
	go func() {
		release, err := m.Lock(1, 200, Shared)
		require.NoError(t, err)
		close(granted)
		release()
	}()

	select {
	case <-granted:
		t.Fatal("shared lock must not be granted while held exclusively")
	case <-time.After(50 * time.Millisecond):
	}

	releaseX()
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("shared lock was never granted after exclusive release")
	}
}

func TestReentrantSameModeIsNoop(t *testing.T) {
	m := New(nil)

	release1, err := m.Lock(1, 100, Shared)
	require.NoError(t, err)
	defer release1()

	release2, err := m.Lock(1, 100, Shared)
	require.NoError(t, err)
	release2()

	// the first hold must still be intact: a second transaction
	// requesting exclusive must still block.
	blocked := make(chan struct{})
	go func() {
		release, err := m.Lock(1, 200, Exclusive)
		require.NoError(t, err)
		close(blocked)
		release()
	}()

	select {
	case <-blocked:
		t.Fatal("exclusive must not be granted while txn 100's shared hold survives")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExclusiveHeldSharedRequestedIsSubsumedNoop(t *testing.T) {
	m := New(nil)

	releaseX, err := m.Lock(1, 100, Exclusive)
	require.NoError(t, err)
	defer releaseX()

	releaseS, err := m.Lock(1, 100, Shared)
	require.NoError(t, err)
	releaseS()

	// the exclusive hold must still be live.
	blocked := make(chan struct{})
	go func() {
		release, err := m.Lock(1, 200, Shared)
		require.NoError(t, err)
		close(blocked)
		release()
	}()

	select {
	case <-blocked:
		t.Fatal("exclusive hold must survive a subsumed shared no-op release")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestUpgrade mirrors spec.md §8 scenario 6: Txn1 holds A(S), Txn2 holds
// A(S); Txn1's upgrade to A(X) must block until Txn2 releases, then
// proceed without having lost its shared hold; a concurrent new S
// request from Txn3 must wait until Txn1's X is released.
func TestUpgrade(t *testing.T) {
	m := New(nil)

	release1, err := m.Lock(1, 1, Shared)
	require.NoError(t, err)
	release2, err := m.Lock(1, 2, Shared)
	require.NoError(t, err)

	upgraded := make(chan struct{})
	var releaseUpgrade func()
	go func() {
		r, err := m.Lock(1, 1, Exclusive)
		require.NoError(t, err)
		releaseUpgrade = r
		close(upgraded)
	}()

	select {
	case <-upgraded:
		t.Fatal("upgrade must block while txn 2 still holds the shared lock")
	case <-time.After(50 * time.Millisecond):
	}

	release2()

	select {
	case <-upgraded:
	case <-time.After(time.Second):
		t.Fatal("upgrade never completed after the other shared holder released")
	}

	thirdGranted := make(chan struct{})
	go func() {
		release3, err := m.Lock(1, 3, Shared)
		require.NoError(t, err)
		close(thirdGranted)
		release3()
	}()

	select {
	case <-thirdGranted:
		t.Fatal("a new shared request must wait out the upgraded exclusive hold")
	case <-time.After(50 * time.Millisecond):
	}

	releaseUpgrade()
	select {
	case <-thirdGranted:
	case <-time.After(time.Second):
		t.Fatal("new shared request never granted after the upgraded exclusive released")
	}

	release1()
}

// TestDeadlockDetection mirrors spec.md §8 scenario 5: Txn1 locks A(X)
// then requests B(X); Txn2 locks B(X) then requests A(X). Exactly one
// receives Deadlock; the other completes; afterward no locks remain.
func TestDeadlockDetection(t *testing.T) {
	m := New(nil)

	releaseA1, err := m.Lock(10, 1, Exclusive)
	require.NoError(t, err)
	releaseB2, err := m.Lock(20, 2, Exclusive)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var err1, err2 error
	var releaseB1, releaseA2 func()

	wg.Add(2)
	go func() {
		defer wg.Done()
		releaseB1, err1 = m.Lock(20, 1, Exclusive)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		releaseA2, err2 = m.Lock(10, 2, Exclusive)
	}()

	// Whichever request survives will block until the other is
	// detected as deadlocked and releases. Give the detector a beat,
	// then break the remaining cycle by releasing one original hold if
	// neither side has resolved (guards against a hang in a failing
	// implementation without making the test itself flaky under a
	// correct one, where one side resolves well within this window).
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("neither transaction resolved: deadlock was not detected")
	}

	require.True(t, (err1 == nil) != (err2 == nil), "exactly one request must fail with Deadlock")
	if err1 != nil {
		require.ErrorIs(t, err1, ErrDeadlock)
		releaseB2()
		releaseA2()
	} else {
		require.ErrorIs(t, err2, ErrDeadlock)
		releaseA1()
		releaseB1()
	}
}
