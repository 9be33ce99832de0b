package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/certfolio/verification-engine/internal/config"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Database wraps the GORM database connection
type Database struct {
	*gorm.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config, log *zap.Logger) (*Database, error) {
	logLevel := logger.Warn
	if !cfg.IsProduction() {
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	log.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	return &Database{DB: db}, nil
}

// AutoMigrate runs automatic migration for all models
func (db *Database) AutoMigrate() error {
	return db.DB.AutoMigrate(&VerificationRecord{})
}

// Close closes the database connection
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks the database connection
func (db *Database) Health(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// VerificationRepository provides database operations for verification records
type VerificationRepository struct {
	db *Database
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *Database) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Create stores a verification record
func (r *VerificationRepository) Create(ctx context.Context, record *VerificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetByID retrieves a verification record by ID
func (r *VerificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*VerificationRecord, error) {
	var record VerificationRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByCertificate returns the newest records of a certificate first
func (r *VerificationRepository) ListByCertificate(ctx context.Context, certificateID string, limit int) ([]*VerificationRecord, error) {
	var records []*VerificationRecord
	query := r.db.WithContext(ctx).
		Where("certificate_id = ?", certificateID).
		Order("verified_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// DecisionCounts returns the number of records per decision
func (r *VerificationRepository) DecisionCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Decision string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select("decision, count(*) as count").
		Group("decision").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Decision] = row.Count
	}
	return counts, nil
}
