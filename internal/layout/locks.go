package layout

import "sync"

// Locks hands out one mutex per chunk key so overlapping writers serialise
// while writers on different chunks proceed in parallel. Each key also
// carries a write generation that cached reads are checked against.
type Locks struct {
	m  map[string]*lockEntry
	mu sync.Mutex
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
	gen  uint64
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{m: make(map[string]*lockEntry)}
}

// acquire returns key's entry with one more reference. Caller holds l.mu.
func (l *Locks) acquire(key string) *lockEntry {
	e, ok := l.m[key]
	if !ok {
		e = &lockEntry{}
		l.m[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(key string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, key)
	}
	l.mu.Unlock()
}

// Lock acquires the mutex for key and returns its release function.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	e := l.acquire(key)
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.release(key, e)
	}
}

// Pin returns key's write generation and keeps it tracked until release is
// called.
func (l *Locks) Pin(key string) (gen uint64, release func()) {
	l.mu.Lock()
	e := l.acquire(key)
	gen = e.gen
	l.mu.Unlock()
	return gen, func() { l.release(key, e) }
}

// IfCurrent runs fn if no write to key has completed since Pin returned gen.
// Caller must hold the pin.
func (l *Locks) IfCurrent(key string, gen uint64, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[key]
	if !ok || e.gen != gen {
		return false
	}
	fn()
	return true
}

// Advance records a completed write to key and runs fn atomically with it.
// Caller must hold Lock(key).
func (l *Locks) Advance(key string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.m[key]; ok {
		e.gen++
	}
	fn()
}

// Len returns the number of keys currently held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
