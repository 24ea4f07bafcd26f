package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"gorm.io/gorm"
)

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&auditdomain.AuditLog{},
		&currencydomain.Currency{},
		&currencydomain.ExchangeRate{},
		&accountdomain.Account{},
		&ledgerdomain.JournalEntry{},
		&ledgerdomain.JournalEntryLine{},
		&ledgerdomain.FiscalYear{},
		&inventorydomain.Product{},
		&inventorydomain.CostingMethodChange{},
		&inventorydomain.CostLayer{},
		&inventorydomain.TransactionType{},
		&inventorydomain.Transaction{},
		&inventorydomain.TransactionLine{},
		&inventorydomain.Stock{},
		&inventorydomain.Serial{},
	}
}

// AutoMigrate builds the schema from the gorm models. Used for SQLite and
// MySQL stores and by tests.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded versioned SQL against a Postgres store.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
