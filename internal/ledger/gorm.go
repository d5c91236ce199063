package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

const (
	slowStatementThreshold = 200 * time.Millisecond
	saveBatchSize          = 100
)

// recordRow is one ledger entry. Position 0 is the newest record; the full
// record is kept as JSON so the SQL and file ledgers round-trip identically.
type recordRow struct {
	Position   int       `gorm:"primaryKey;autoIncrement:false"`
	ID         string    `gorm:"column:id;size:64;uniqueIndex;not null"`
	RecordedAt time.Time `gorm:"column:created_at;index"`
	Payload    []byte    `gorm:"not null"`
}

func (recordRow) TableName() string { return "analysis_records" }

// lockRow is the single row every update writes first. The write takes the
// row lock on MySQL and PostgreSQL and the database write lock on SQLite, so
// updates from different processes run one after another.
type lockRow struct {
	ID      int `gorm:"primaryKey;autoIncrement:false"`
	Version int64
}

func (lockRow) TableName() string { return "analysis_ledger_lock" }

const ledgerLockID = 1

// GormBackend stores the ledger in a SQL table through GORM.
type GormBackend struct {
	db      *gorm.DB
	dialect string
}

// NewGormBackend migrates the ledger table on db.
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&recordRow{}, &lockRow{}); err != nil {
		return nil, errors.New(fmt.Errorf("failed to migrate ledger table: %w", err)).
			Component("ledger").
			Category(errors.CategoryDatabase).
			Build()
	}
	if err := db.FirstOrCreate(&lockRow{}, lockRow{ID: ledgerLockID}).Error; err != nil {
		return nil, errors.New(fmt.Errorf("failed to create ledger lock row: %w", err)).
			Component("ledger").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &GormBackend{db: db, dialect: db.Name()}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.NewGormLoggerAdapter(GetLogger(), slowStatementThreshold)}
}

// OpenSQLite opens or creates the SQLite ledger at path.
func OpenSQLite(path string) (*GormBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create database directory: %w", err)).
			Component("ledger").
			Category(errors.CategoryFileIO).
			Build()
	}
	// Immediate transactions take the write lock at BEGIN, so a second
	// process waits on the busy timeout instead of failing to upgrade.
	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, openError("sqlite", err)
	}
	return NewGormBackend(db)
}

// OpenMySQL connects to the configured MySQL database.
func OpenMySQL(cfg conf.MySQLSettings) (*GormBackend, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, openError("mysql", err)
	}
	return NewGormBackend(db)
}

// OpenPostgres connects to the configured PostgreSQL database.
func OpenPostgres(cfg conf.PostgresSettings) (*GormBackend, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, openError("postgres", err)
	}
	return NewGormBackend(db)
}

func openError(dialect string, err error) error {
	GetLogger().Error("failed to open database", logger.String("dialect", dialect), logger.Error(err))
	return errors.New(fmt.Errorf("failed to open %s database: %w", dialect, err)).
		Component("ledger").
		Category(errors.CategoryDatabase).
		Context("dialect", dialect).
		Build()
}

// Load returns the records ordered by position.
func (b *GormBackend) Load(ctx context.Context) ([]model.AnalysisRecord, error) {
	return b.load(b.db.WithContext(ctx))
}

func (b *GormBackend) load(db *gorm.DB) ([]model.AnalysisRecord, error) {
	var rows []recordRow
	if err := db.Order("position").Find(&rows).Error; err != nil {
		return nil, errors.New(err).
			Component("ledger").
			Category(errors.CategoryDatabase).
			Context("dialect", b.dialect).
			Build()
	}

	records := make([]model.AnalysisRecord, 0, len(rows))
	for _, row := range rows {
		var rec model.AnalysisRecord
		if err := json.Unmarshal(row.Payload, &rec); err != nil {
			return nil, errors.New(fmt.Errorf("corrupt ledger row %s: %w", row.ID, err)).
				Component("ledger").
				Category(errors.CategoryLedger).
				Build()
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save replaces the table contents in one transaction.
func (b *GormBackend) Save(ctx context.Context, records []model.AnalysisRecord) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return b.save(tx, records)
	})
}

// Update implements Backend. The lock row is written before the records are
// read, so the load, fn and the save form one serialized transaction.
func (b *GormBackend) Update(ctx context.Context, fn UpdateFunc) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&lockRow{}).
			Where("id = ?", ledgerLockID).
			Update("version", gorm.Expr("version + 1"))
		if res.Error != nil {
			return errors.New(fmt.Errorf("failed to lock ledger: %w", res.Error)).
				Component("ledger").
				Category(errors.CategoryDatabase).
				Context("dialect", b.dialect).
				Build()
		}

		records, loadErr := b.load(tx)
		updated, save, err := fn(records, loadErr)
		if err != nil || !save {
			return err
		}
		return b.save(tx, updated)
	})
}

func (b *GormBackend) save(tx *gorm.DB, records []model.AnalysisRecord) error {
	rows := make([]recordRow, 0, len(records))
	for i := range records {
		payload, err := json.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", records[i].ID, err)
		}
		rows = append(rows, recordRow{
			Position:   i,
			ID:         records[i].ID,
			RecordedAt: records[i].CreatedAt.UTC(),
			Payload:    payload,
		})
	}

	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&recordRow{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, saveBatchSize).Error
}

// Close closes the underlying connection pool.
func (b *GormBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
