package db

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories that take part in a
// MemoryTransactor. Snapshot captures current state and returns a func that
// restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MemoryTransactor serialises all access to the in-memory repositories that
// register with it. A failed transaction restores every participant.
type MemoryTransactor struct {
	mu           sync.Mutex
	participants []Snapshotter
}

func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// Register adds a participant. Call before serving traffic.
func (t *MemoryTransactor) Register(s Snapshotter) {
	t.participants = append(t.participants, s)
}

type memTxKey struct{}

func (t *MemoryTransactor) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*MemoryTransactor)
	return owner == t
}

// Lock guards a single repository call. It is a no-op inside WithinTx, where
// the transaction already holds the lock.
func (t *MemoryTransactor) Lock(ctx context.Context) (unlock func()) {
	if t.inTx(ctx) {
		return func() {}
	}
	t.mu.Lock()
	return t.mu.Unlock
}

func (t *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.inTx(ctx) {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.participants))
	for _, p := range t.participants {
		restores = append(restores, p.Snapshot())
	}

	if err := fn(context.WithValue(ctx, memTxKey{}, t)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
