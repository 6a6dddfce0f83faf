package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

// RunMigrations applies the versioned postgres schema.
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

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&tournamentdomain.Tournament{},
		&tournamentdomain.ConfigItem{},
		&catalogdomain.Item{},
		&registrationdomain.Person{},
		&registrationdomain.Team{},
		&registrationdomain.Bowler{},
		&registrationdomain.FreeEntry{},
		&ledgerdomain.ExternalPayment{},
		&ledgerdomain.Purchase{},
		&ledgerdomain.LedgerEntry{},
		&paymentdomain.CheckoutSession{},
		&paymentdomain.GatewayPrice{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate builds the schema from the gorm models. Used for sqlite and
// mysql, which the versioned migrations do not target.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
