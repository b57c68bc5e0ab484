package journal

import "sync"

// gate serializes this process's use of the journal file.
//
// flock(2) locks belong to the open file description, so two goroutines
// locking the same descriptor do not exclude each other and the first unlock
// drops both. The gate admits one owner at a time. While an exclusive session
// (Journal.Exclusive) holds the OS lock, other callers borrow it instead of
// waiting, which lets the worker flush writes issued inside the session.
type gate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	busy      bool
	session   bool
	borrowers int
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// enter blocks until the caller owns the file. It returns true when the
// caller borrows an active session and must not touch the OS lock.
func (g *gate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if g.session {
			g.borrowers++
			return true
		}
		if !g.busy {
			g.busy = true
			return false
		}
		g.cond.Wait()
	}
}

// leave releases what enter granted.
func (g *gate) leave(borrowed bool) {
	g.mu.Lock()
	if borrowed {
		g.borrowers--
	} else {
		g.busy = false
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// startSession turns the caller's ownership into a session others may borrow.
func (g *gate) startSession() {
	g.mu.Lock()
	g.session = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// stopSession stops admitting borrowers and waits for current ones to leave.
// The caller still owns the file afterwards.
func (g *gate) stopSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = false
	for g.borrowers > 0 {
		g.cond.Wait()
	}
}

func (g *gate) inSession() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}
