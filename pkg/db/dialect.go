package db

import (
	"fmt"

	glebarez "github.com/glebarez/sqlite"
	"github.com/smallbiznis/stockledger/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case config.DBTypeMySQL:
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case config.DBTypePostgres:
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case config.DBTypeSQLite:
		// Pure Go driver, the default embedded store.
		return glebarez.Open(sqliteDSN(cfg.Path)), nil
	case config.DBTypeSQLite3:
		// cgo driver for hosts that already link libsqlite3.
		return sqlite.Open(sqlite3DSN(cfg.Path)), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "stockledger.db"
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func sqlite3DSN(path string) string {
	if path == "" {
		path = "stockledger.db"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
}
