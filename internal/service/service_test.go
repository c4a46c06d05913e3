package service_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/service"
)

// ─────────────────────────────────────────────────────────────
// jobGuard tests
// ─────────────────────────────────────────────────────────────

func TestJobGuard_TryLock(t *testing.T) {
	var g service.ExportedJobGuard
	audit := service.ExportedAuditJob()
	imp := service.ExportedImportJob("doc-1", domain.SlotReference)

	require.True(t, g.TryLock(audit))
	assert.False(t, g.TryLock(audit), "same key must not run twice")
	assert.True(t, g.TryLock(imp))
	assert.True(t, g.TryLock(service.ExportedImportJob("doc-1", domain.SlotBackground)), "other slot is independent")
	g.Unlock(audit)
	g.Unlock(imp)
	g.Unlock(service.ExportedImportJob("doc-1", domain.SlotBackground))

	assert.True(t, g.TryLock(audit), "key is free again after unlock")
	g.Unlock(audit)
}

func TestJobGuard_LockQueuesSameSlot(t *testing.T) {
	var g service.ExportedJobGuard
	ctx := context.Background()
	imp := service.ExportedImportJob("doc-1", domain.SlotReference)
	require.NoError(t, g.Lock(ctx, imp))

	acquired := make(chan struct{})
	go func() {
		if err := g.Lock(ctx, imp); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second import ran while the first held the slot")
	case <-time.After(30 * time.Millisecond):
	}

	g.Unlock(imp)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second import never acquired the slot")
	}
	g.Unlock(imp)
}

func TestJobGuard_LockHonoursContext(t *testing.T) {
	var g service.ExportedJobGuard
	imp := service.ExportedImportJob("doc-1", domain.SlotReference)
	require.True(t, g.TryLock(imp))
	defer g.Unlock(imp)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Lock(ctx, imp), context.DeadlineExceeded)
}

func TestJobGuard_WaitAll(t *testing.T) {
	var g service.ExportedJobGuard
	audit := service.ExportedAuditJob()
	require.True(t, g.TryLock(audit))

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	g.Unlock(audit)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAll did not return after Unlock")
	}
}

func TestJobGuard_WaitAllHonoursContext(t *testing.T) {
	var g service.ExportedJobGuard
	require.True(t, g.TryLock(service.ExportedAuditJob()))
	defer g.Unlock(service.ExportedAuditJob())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	g.WaitAll(ctx)
	assert.Less(t, time.Since(start), time.Second)
}

// ─────────────────────────────────────────────────────────────
// Emitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	m.Emit(context.Background(), service.EventFlushed, "doc-1")
	m.Emit(context.Background(), service.EventAssetDeleted, 7)
	m.Emit(context.Background(), service.EventFlushed, "doc-2")

	require.Len(t, m.Events, 3)
	flushed := m.Named(service.EventFlushed)
	require.Len(t, flushed, 2)
	assert.Equal(t, "doc-2", flushed[1].Data)
	assert.Empty(t, m.Named(service.EventImported))
}

func TestLogEmitter_WritesDebugRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	service.LogEmitter{Logger: logger}.Emit(context.Background(), service.EventAuditCompleted, "ok")

	assert.Contains(t, buf.String(), "event="+service.EventAuditCompleted)
	assert.Contains(t, buf.String(), "data=ok")
}
