package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// TokenDelivery is one delivery cycle of a registration token.
type TokenDelivery struct {
	DeliveryID  string `gorm:"primaryKey"`
	Status      string `gorm:"index"`
	TokenPrefix string
	Detail      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type StatusStore struct {
	db        *gorm.DB
	tableName string
}

// OpenPostgres opens a gorm connection with gorm's own logging silenced.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewStatusStore(db *gorm.DB, tableName string) (*StatusStore, error) {
	if tableName == "" {
		tableName = "token_deliveries"
	}
	if err := db.Table(tableName).AutoMigrate(&TokenDelivery{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", tableName, err)
	}
	return &StatusStore{
		db:        db,
		tableName: tableName,
	}, nil
}

// Begin records a new delivery cycle. It never overwrites an existing row,
// so a late Begin cannot undo a final status.
func (s *StatusStore) Begin(ctx context.Context, deliveryID, status, tokenPrefix string) error {
	now := time.Now().UTC()
	row := TokenDelivery{
		DeliveryID:  deliveryID,
		Status:      status,
		TokenPrefix: tokenPrefix,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_id"}},
			DoNothing: true,
		}).Create(&row).Error
}

// UpdateStatus moves a delivery cycle to its final status.
func (s *StatusStore) UpdateStatus(ctx context.Context, deliveryID, status, detail string) error {
	now := time.Now().UTC()
	row := TokenDelivery{
		DeliveryID: deliveryID,
		Status:     status,
		Detail:     detail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "detail", "updated_at"}),
		}).Create(&row).Error
}
