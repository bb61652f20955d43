package node

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the admin state machine of a storage node.
type State int32

const (
	StateOffline State = iota
	StateInit
	StateRunning
	StateStopped
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// writeLock serializes storage mutations. Admin holders (migration,
// incoming transfers, shutdown) wait for it; client writes queue behind each
// other but bounce with SERVER_WRITE_LOCK while an admin holder is pending.
type writeLock struct {
	mu      sync.Mutex
	holders atomic.Int32
}

func (l *writeLock) acquire() {
	// счётчик поднимается до Lock: новые клиентские записи отбиваются,
	// пока admin ждёт завершения текущих
	l.holders.Add(1)
	l.mu.Lock()
}

func (l *writeLock) release() {
	l.holders.Add(-1)
	l.mu.Unlock()
}

// acquireClient blocks behind other client writes and reports false while an
// admin holder has the lock or is waiting for it.
func (l *writeLock) acquireClient() bool {
	if l.isHeld() {
		return false
	}
	l.mu.Lock()
	return true
}

func (l *writeLock) releaseClient() {
	l.mu.Unlock()
}

func (l *writeLock) isHeld() bool {
	return l.holders.Load() > 0
}
