package service

// Exported for the external test package.
type ExportedJobGuard = jobGuard

var (
	ExportedAuditJob  = auditJob
	ExportedImportJob = importJob
)
