package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	exchangeratedomain "github.com/smallbiznis/fxpay/internal/exchangerate/domain"
	merchantdomain "github.com/smallbiznis/fxpay/internal/merchant/domain"
	paymentdomain "github.com/smallbiznis/fxpay/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/fxpay/internal/settlement/domain"
	taskdomain "github.com/smallbiznis/fxpay/internal/task/domain"
	"gorm.io/gorm"
)

// Models lists every persisted table in creation order.
func Models() []any {
	return []any{
		&merchantdomain.Merchant{},
		&exchangeratedomain.Quote{},
		&paymentdomain.Payment{},
		&settlementdomain.Settlement{},
		&taskdomain.Task{},
	}
}

// RunMigrations applies the embedded SQL migrations against a postgres handle.
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

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the gorm models. Used for sqlite and
// mysql, which the SQL migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Apply picks the migration strategy for the connected dialect.
func Apply(conn *gorm.DB, forceAuto bool) error {
	if forceAuto || conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
