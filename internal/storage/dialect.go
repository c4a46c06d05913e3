package storage

import (
	"strconv"
	"strings"
)

type dialect struct {
	name       Driver
	driverName string
	migrations []string
	// returning is true when INSERT ... RETURNING id must be used instead of LastInsertId.
	returning bool
}

// rebind rewrites ? placeholders for dialects that number them.
func (d *dialect) rebind(query string) string {
	if d.name != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var dialects = map[Driver]*dialect{
	DriverSQLite: {
		name:       DriverSQLite,
		driverName: "sqlite",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS assets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at DATETIME NOT NULL,
				refcount INTEGER NOT NULL,
				media_type TEXT NOT NULL DEFAULT '',
				width INTEGER NOT NULL DEFAULT 0,
				height INTEGER NOT NULL DEFAULT 0,
				data BLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				modified_at DATETIME NOT NULL,
				thumbnail BLOB,
				state_cursor INTEGER NOT NULL DEFAULT 0,
				history TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(modified_at)`,
		},
	},
	DriverPostgres: {
		name:       DriverPostgres,
		driverName: "postgres",
		returning:  true,
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS assets (
				id BIGSERIAL PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL,
				refcount BIGINT NOT NULL,
				media_type TEXT NOT NULL DEFAULT '',
				width INTEGER NOT NULL DEFAULT 0,
				height INTEGER NOT NULL DEFAULT 0,
				data BYTEA NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL,
				modified_at TIMESTAMPTZ NOT NULL,
				thumbnail BYTEA,
				state_cursor INTEGER NOT NULL DEFAULT 0,
				history TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(modified_at)`,
		},
	},
	DriverMySQL: {
		name:       DriverMySQL,
		driverName: "mysql",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS assets (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				created_at DATETIME(6) NOT NULL,
				refcount BIGINT NOT NULL,
				media_type VARCHAR(64) NOT NULL DEFAULT '',
				width INT NOT NULL DEFAULT 0,
				height INT NOT NULL DEFAULT 0,
				data LONGBLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id VARCHAR(36) PRIMARY KEY,
				created_at DATETIME(6) NOT NULL,
				modified_at DATETIME(6) NOT NULL,
				thumbnail LONGBLOB,
				state_cursor INT NOT NULL DEFAULT 0,
				history LONGTEXT NOT NULL,
				INDEX idx_documents_modified (modified_at)
			)`,
		},
	},
}
