package service

import (
	"context"
	"fmt"
	"sync"

	"doodlegrid/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// jobGuard: one maintenance job per key
// ─────────────────────────────────────────────────────────────

// jobKey names a maintenance job. Imports are keyed by the slot they write,
// so files aimed at the same slot land in arrival order while imports into
// other slots or documents run alongside.
type jobKey struct {
	kind     string
	document string
	slot     domain.Slot
}

func auditJob() jobKey {
	return jobKey{kind: "audit"}
}

func importJob(documentID string, slot domain.Slot) jobKey {
	return jobKey{kind: "import", document: documentID, slot: slot}
}

func (k jobKey) String() string {
	if k.document == "" {
		return k.kind
	}
	return fmt.Sprintf("%s:%s/%s", k.kind, k.document, k.slot)
}

// jobGuard tracks running jobs. The scheduled audit skips a tick with
// TryLock; imports queue behind each other with Lock.
type jobGuard struct {
	mu      sync.Mutex
	running map[jobKey]chan struct{}
	wg      sync.WaitGroup
}

// TryLock marks k as running. Returns false if it already is.
func (g *jobGuard) TryLock(k jobKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[k]; busy {
		return false
	}
	g.acquireLocked(k)
	return true
}

// Lock waits for k to be free, then marks it as running.
func (g *jobGuard) Lock(ctx context.Context, k jobKey) error {
	for {
		g.mu.Lock()
		done, busy := g.running[k]
		if !busy {
			g.acquireLocked(k)
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", k, ctx.Err())
		}
	}
}

func (g *jobGuard) acquireLocked(k jobKey) {
	if g.running == nil {
		g.running = make(map[jobKey]chan struct{})
	}
	g.running[k] = make(chan struct{})
	g.wg.Add(1)
}

// Unlock releases k and wakes anyone waiting in Lock. Must follow a
// successful TryLock or Lock.
func (g *jobGuard) Unlock(k jobKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if done, ok := g.running[k]; ok {
		close(done)
		delete(g.running, k)
		g.wg.Done()
	}
}

// WaitAll blocks until every running job finishes or ctx is cancelled.
func (g *jobGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
