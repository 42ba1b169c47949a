package binlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// BinLog is the gorm model for the bin_logs table.
type BinLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	BinID      string    `gorm:"index;not null"`
	Confidence float64
	MatchRatio float64
	ImageName  string
	Timestamp  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Postgres writes entries with gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the bin_logs table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&BinLog{}); err != nil {
		return nil, fmt.Errorf("migrate bin_logs: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Log(ctx context.Context, e Entry) error {
	row := BinLog{
		ID:         e.ID,
		BinID:      e.BinID,
		Confidence: e.Confidence,
		MatchRatio: e.MatchRatio,
		ImageName:  e.ImageName,
		Timestamp:  e.Timestamp,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert bin_log: %w", err)
	}
	return nil
}

// Recent returns the newest rows for binID, newest first.
func (p *Postgres) Recent(ctx context.Context, binID string, limit int) ([]BinLog, error) {
	var rows []BinLog
	err := p.db.WithContext(ctx).
		Where("bin_id = ?", binID).
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
