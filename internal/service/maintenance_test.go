package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/service"
)

func newMaintenance(f *fixture, opts service.MaintenanceOptions) *service.Maintenance {
	return service.NewMaintenance(f.backend, f.docs, opts, f.emitter, nil)
}

// seed writes assets and documents directly, bypassing refcount bookkeeping.
func seed(t *testing.T, f *fixture, fn func(tx domain.Tx) error) {
	t.Helper()
	require.NoError(t, f.backend.Update(context.Background(), fn))
}

func docReferencing(id string, bg, ref domain.AssetID) *domain.Document {
	now := time.Now().UTC()
	return &domain.Document{
		ID:         id,
		CreatedAt:  now,
		ModifiedAt: now,
		History: []domain.DocState{
			domain.InitialState().WithAsset(domain.SlotBackground, bg).WithAsset(domain.SlotReference, ref),
		},
	}
}

func TestMaintenance_AuditClean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manual)
	sess := f.open(t)
	_, err := sess.UploadAsset(ctx, redPNG(t), domain.SlotBackground)
	require.NoError(t, err)

	report, err := newMaintenance(f, service.MaintenanceOptions{}).Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 1, report.Assets)
	assert.Len(t, f.emitter.Named(service.EventAuditCompleted), 1)
}

func TestMaintenance_AuditFindings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manual)

	shared := &domain.Asset{MediaType: "image/png", Data: redPNG(t)}
	orphan := &domain.Asset{MediaType: "image/png", Data: bluePNG(t)}
	seed(t, f, func(tx domain.Tx) error {
		require.NoError(t, tx.InsertAsset(shared))
		require.NoError(t, tx.InsertAsset(orphan))
		require.NoError(t, tx.CreateDocument(docReferencing("doc-a", shared.ID, domain.NoAsset)))
		require.NoError(t, tx.CreateDocument(docReferencing("doc-b", shared.ID, 999)))
		return nil
	})

	report, err := newMaintenance(f, service.MaintenanceOptions{}).Audit(ctx)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, []service.RefcountMismatch{{AssetID: shared.ID, Stored: 1, Expected: 2}}, report.Mismatched)
	assert.Equal(t, []service.DanglingRef{{DocumentID: "doc-b", AssetID: 999}}, report.Dangling)
	assert.Equal(t, []domain.AssetID{orphan.ID}, report.Orphans)
}

func TestMaintenance_RepairDeletesOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manual)

	orphan, err := f.assets.Add(ctx, bluePNG(t))
	require.NoError(t, err)
	sess := f.open(t)
	kept, err := sess.UploadAsset(ctx, redPNG(t), domain.SlotBackground)
	require.NoError(t, err)

	m := newMaintenance(f, service.MaintenanceOptions{})
	deleted, err := m.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.AssetID{orphan}, deleted)

	_, err = f.assets.Get(ctx, orphan)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.assets.Get(ctx, kept)
	assert.NoError(t, err)

	report, err := m.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestMaintenance_StartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, manual)
	m := newMaintenance(f, service.MaintenanceOptions{AuditSchedule: "every now and then"})
	assert.Error(t, m.Start(context.Background()))
	m.Stop()
}

func TestMaintenance_StopIdempotent(t *testing.T) {
	f := newFixture(t, manual)
	m := newMaintenance(f, service.MaintenanceOptions{AuditSchedule: "@every 1h"})
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.WaitRunning(ctx)
}

func TestMaintenance_ImportWatcher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manual)
	sess := f.open(t)
	dir := t.TempDir()

	m := newMaintenance(f, service.MaintenanceOptions{
		ImportDir:      dir,
		ImportDocument: sess.ID(),
		ImportSlot:     domain.SlotReference,
	})
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ref.png"), redPNG(t), 0o644))

	require.Eventually(t, func() bool {
		return len(f.emitter.Named(service.EventImported)) > 0
	}, 5*time.Second, 20*time.Millisecond)

	imported := f.emitter.Named(service.EventImported)
	require.Len(t, imported, 1)
	assert.NotEqual(t, domain.NoAsset, sess.Current().Reference.AssetID)
	assert.Equal(t, sess.Current().Reference.AssetID, imported[0].Data)
}
