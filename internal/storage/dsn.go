package storage

import (
	"fmt"
	"net/url"
)

// ConnParams describes a server connection for the postgres and mysql drivers.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// SQLiteDSN opens path in WAL mode with a busy timeout.
func SQLiteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// PostgresDSN constructs a lib/pq connection string.
func PostgresDSN(p ConnParams) string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, port, p.User, p.Password, p.Database, sslMode,
	)
}

// MySQLDSN constructs a go-sql-driver DSN. parseTime is required to scan
// DATETIME columns into time.Time.
func MySQLDSN(p ConnParams) string {
	port := p.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=%s",
		p.User, p.Password, p.Host, port, p.Database, url.QueryEscape("UTC"),
	)
	if p.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}

// BuildDSN returns the DSN for driver from params. SQLite uses Database as
// the file path.
func BuildDSN(driver Driver, p ConnParams) (string, error) {
	switch driver {
	case DriverSQLite:
		return SQLiteDSN(p.Database), nil
	case DriverPostgres:
		return PostgresDSN(p), nil
	case DriverMySQL:
		return MySQLDSN(p), nil
	}
	return "", fmt.Errorf("unsupported driver: %s", driver)
}
