package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/logging"
	"doodlegrid/internal/metrics"
)

// ─────────────────────────────────────────────────────────────
// Maintenance: refcount audit and folder import
// ─────────────────────────────────────────────────────────────

const importDebounce = 500 * time.Millisecond

var importExts = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".tif", ".tiff", ".bmp"}

// MaintenanceOptions configures the scheduled audit and the import folder.
// Empty values disable the corresponding job.
type MaintenanceOptions struct {
	AuditSchedule  string
	ImportDir      string
	ImportDocument string
	ImportSlot     domain.Slot
}

// RefcountMismatch is an asset whose stored refcount differs from the number
// of documents referencing it.
type RefcountMismatch struct {
	AssetID  domain.AssetID `json:"assetId"`
	Stored   int64          `json:"stored"`
	Expected int64          `json:"expected"`
}

// DanglingRef is a document history entry pointing at a missing asset.
type DanglingRef struct {
	DocumentID string         `json:"documentId"`
	AssetID    domain.AssetID `json:"assetId"`
}

// AuditReport is the result of comparing stored refcounts with the assets
// actually reachable from document histories.
type AuditReport struct {
	Documents  int                `json:"documents"`
	Assets     int                `json:"assets"`
	Mismatched []RefcountMismatch `json:"mismatched"`
	Dangling   []DanglingRef      `json:"dangling"`
	Orphans    []domain.AssetID   `json:"orphans"`
}

// Clean reports whether the audit found nothing.
func (r *AuditReport) Clean() bool {
	return len(r.Mismatched) == 0 && len(r.Dangling) == 0 && len(r.Orphans) == 0
}

// Maintenance runs the refcount audit and the import watcher.
type Maintenance struct {
	backend domain.Backend
	docs    *DocumentService
	opts    MaintenanceOptions
	emitter EventEmitter
	log     *slog.Logger

	jobs jobGuard

	mu          sync.Mutex
	cronSched   *cron.Cron
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
}

// NewMaintenance creates a Maintenance. Call Start to schedule its jobs.
func NewMaintenance(backend domain.Backend, docs *DocumentService, opts MaintenanceOptions, emitter EventEmitter, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		backend: backend,
		docs:    docs,
		opts:    opts,
		emitter: emitter,
		log:     logging.OrDefault(logger).With("component", "maintenance"),
	}
}

// Audit recomputes every refcount from persisted histories. It never writes.
func (m *Maintenance) Audit(ctx context.Context) (*AuditReport, error) {
	var report *AuditReport
	err := m.backend.View(ctx, func(tx domain.Tx) error {
		var err error
		report, err = audit(tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	m.recordAudit(ctx, report)
	return report, nil
}

// Repair deletes orphaned assets and returns their ids. Mismatched refcounts
// and dangling references are reported but left alone.
func (m *Maintenance) Repair(ctx context.Context) ([]domain.AssetID, error) {
	var report *AuditReport
	err := m.backend.Update(ctx, func(tx domain.Tx) error {
		var err error
		if report, err = audit(tx); err != nil {
			return err
		}
		for _, id := range report.Orphans {
			if err := tx.DeleteAsset(id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}
	for _, id := range report.Orphans {
		metrics.AssetsDeleted.Inc()
		m.emitter.Emit(ctx, EventAssetDeleted, id)
	}
	m.log.InfoContext(ctx, "repair finished", "orphans_deleted", len(report.Orphans))
	return report.Orphans, nil
}

func audit(tx domain.Tx) (*AuditReport, error) {
	docs, err := tx.ListDocuments()
	if err != nil {
		return nil, err
	}
	assets, err := tx.ListAssets()
	if err != nil {
		return nil, err
	}
	stored := lo.SliceToMap(assets, func(a domain.AssetInfo) (domain.AssetID, int64) {
		return a.ID, a.Refcount
	})

	report := &AuditReport{Documents: len(docs), Assets: len(assets)}
	expected := make(map[domain.AssetID]int64)
	for _, info := range docs {
		doc, err := tx.GetDocument(info.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range domain.LiveAssets(doc.History) {
			if _, ok := stored[id]; !ok {
				report.Dangling = append(report.Dangling, DanglingRef{DocumentID: doc.ID, AssetID: id})
				continue
			}
			expected[id]++
		}
	}

	for _, a := range assets {
		want, referenced := expected[a.ID]
		switch {
		case !referenced:
			report.Orphans = append(report.Orphans, a.ID)
		case a.Refcount != want:
			report.Mismatched = append(report.Mismatched, RefcountMismatch{AssetID: a.ID, Stored: a.Refcount, Expected: want})
		}
	}
	return report, nil
}

func (m *Maintenance) recordAudit(ctx context.Context, r *AuditReport) {
	metrics.AuditFindings.WithLabelValues("mismatched").Set(float64(len(r.Mismatched)))
	metrics.AuditFindings.WithLabelValues("dangling").Set(float64(len(r.Dangling)))
	metrics.AuditFindings.WithLabelValues("orphans").Set(float64(len(r.Orphans)))

	attrs := []any{
		"documents", r.Documents,
		"assets", r.Assets,
		"mismatched", len(r.Mismatched),
		"dangling", len(r.Dangling),
		"orphans", len(r.Orphans),
	}
	if r.Clean() {
		m.log.InfoContext(ctx, "audit clean", attrs...)
	} else {
		m.log.WarnContext(ctx, "audit found inconsistencies", attrs...)
	}
	m.emitter.Emit(ctx, EventAuditCompleted, r)
}

// ── Jobs (cron + import folder) ───────────────────────────

// Start schedules the audit and starts the import watcher. It stops any jobs
// started earlier.
func (m *Maintenance) Start(ctx context.Context) error {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.AuditSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(m.opts.AuditSchedule, func() {
			if !m.jobs.TryLock(auditJob()) {
				m.log.Warn("audit still running, skipping tick")
				return
			}
			defer m.jobs.Unlock(auditJob())
			if _, err := m.Audit(ctx); err != nil {
				m.log.Error("scheduled audit failed", "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("audit schedule %q: %w", m.opts.AuditSchedule, err)
		}
		c.Start()
		m.cronSched = c
		m.log.Info("audit scheduled", "schedule", m.opts.AuditSchedule)
	}

	if m.opts.ImportDir == "" || m.opts.ImportDocument == "" {
		return nil
	}
	return m.watchImportsLocked(ctx)
}

func (m *Maintenance) watchImportsLocked(ctx context.Context) error {
	dir, err := filepath.Abs(m.opts.ImportDir)
	if err != nil {
		return fmt.Errorf("import dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("import watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !isImportable(event.Name) {
					continue
				}
				path := event.Name
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				timers[path] = time.AfterFunc(importDebounce, func() {
					m.importFile(watchCtx, path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warn("import watcher error", "err", err)
			}
		}
	}()

	m.log.Info("watching import folder", "dir", dir, "document_id", m.opts.ImportDocument, "slot", m.opts.ImportSlot)
	return nil
}

func isImportable(name string) bool {
	return lo.Contains(importExts, strings.ToLower(filepath.Ext(name)))
}

func (m *Maintenance) importFile(ctx context.Context, path string) {
	job := importJob(m.opts.ImportDocument, m.opts.ImportSlot)
	if err := m.jobs.Lock(ctx, job); err != nil {
		m.log.Warn("import dropped", "path", path, "err", err)
		return
	}
	defer m.jobs.Unlock(job)

	data, err := os.ReadFile(path)
	if err != nil {
		m.log.Warn("import read failed", "path", path, "err", err)
		return
	}
	sess, err := m.docs.Open(ctx, m.opts.ImportDocument)
	if err != nil {
		m.log.Error("import target unavailable", "document_id", m.opts.ImportDocument, "err", err)
		return
	}
	id, err := sess.UploadAsset(ctx, data, m.opts.ImportSlot)
	if err != nil {
		m.log.Error("import failed", "path", path, "err", err)
		return
	}
	m.log.Info("imported file", "path", path, "asset_id", id, "slot", m.opts.ImportSlot)
	m.emitter.Emit(ctx, EventImported, id)
}

// WaitRunning blocks until running jobs finish or ctx is cancelled.
func (m *Maintenance) WaitRunning(ctx context.Context) {
	m.jobs.WaitAll(ctx)
}

// Stop tears down the watcher and the scheduler.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
	if m.cronSched != nil {
		m.cronSched.Stop()
		m.cronSched = nil
	}
}
