package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/careops/clinicflow/internal/config"
	"github.com/careops/clinicflow/internal/domain"
	"github.com/careops/clinicflow/internal/domain/appointment"
	"github.com/careops/clinicflow/internal/domain/counter"
	"github.com/careops/clinicflow/internal/domain/fee"
	"github.com/careops/clinicflow/internal/domain/inventory"
	"github.com/careops/clinicflow/internal/domain/invoice"
	"github.com/careops/clinicflow/internal/domain/patient"
	"github.com/careops/clinicflow/internal/domain/prescription"
	"github.com/careops/clinicflow/internal/domain/visit"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: false,
		DisableAutomaticPing:                     false,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// ProbeTxSupport determines whether the completion saga may rely on native
// multi-statement transactions. The config override wins (deployments behind
// a statement-mode pooler must disable them); otherwise a throwaway
// BEGIN/ROLLBACK verifies the connection actually honors transaction scope.
func ProbeTxSupport(db *gorm.DB, cfg config.DatabaseConfig, log *zap.Logger) bool {
	if cfg.DisableTransactions {
		log.Warn("native transactions disabled by configuration; completion will use compensation")
		return false
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Exec("SELECT 1").Error
	})
	if err != nil {
		log.Warn("transaction probe failed; completion will use compensation", zap.Error(err))
		return false
	}
	return true
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"clinical", "pharmacy", "billing", "auth", "audit"} // logical namespaces
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.User{},
		&domain.AuditLog{},
		&domain.OperationalAlert{},
		&patient.Patient{},
		&appointment.Appointment{},
		&visit.Visit{},
		&prescription.Prescription{},
		&invoice.Invoice{},
		&counter.Counter{},
		&inventory.StockItem{},
		&inventory.Reservation{},
		&fee.Entry{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		query string
	}{
		{
			name:  "idx_visits_patient_date",
			query: `CREATE INDEX IF NOT EXISTS idx_visits_patient_date ON clinical.visits (patient_id, visit_date DESC) WHERE deleted_at IS NULL`,
		},
		{
			name:  "idx_visits_open_locks",
			query: `CREATE INDEX IF NOT EXISTS idx_visits_open_locks ON clinical.visits (lock_expires_at) WHERE lock_holder_id IS NOT NULL`,
		},
		{
			name:  "idx_prescriptions_visit_open",
			query: `CREATE INDEX IF NOT EXISTS idx_prescriptions_visit_open ON clinical.prescriptions (visit_id, status) WHERE deleted_at IS NULL AND status IN ('pending', 'ready')`,
		},
		{
			name:  "idx_reservations_held",
			query: `CREATE INDEX IF NOT EXISTS idx_reservations_held ON pharmacy.reservations (prescription_id) WHERE status = 'held'`,
		},
		{
			// One live invoice per visit; cancelled rows from compensated
			// completion runs do not block regeneration.
			name:  "idx_invoices_visit_live",
			query: `CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_visit_live ON clinical.invoices (visit_id) WHERE status <> 'cancelled' AND deleted_at IS NULL`,
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
