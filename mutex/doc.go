// Package mutex provides ScopedMutex, a named lock shared by every goroutine
// and process on the host that opens the same name. A ScopedMutex acquires
// on creation and releases when closed; With runs a function under the lock
// and releases on every exit path.
//
// If an owner goes away without releasing, the lock is abandoned. The next
// acquirer still gets the lock; by default this is treated as a plain
// acquisition, and WithAbandonTolerant(false) surfaces it as
// ErrAbandonedLock instead.
//
// Locks are served by an Opener. The default on Unix is a FileOpener using
// flock(2) under DefaultDir; LocalOpener keeps locks inside one process.
package mutex
