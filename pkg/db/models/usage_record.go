package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cocledger-backend/pkg/enums"
)

// UsageRecord is an immutable consumption event against a single batch.
type UsageRecord struct {
	ID           uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	AllocationID *uuid.UUID  `gorm:"column:allocation_id;type:uuid;index"`
	PDINumber    string      `gorm:"column:pdi_number;not null;index:idx_usage_records_pdi_material,priority:1"`
	Material     string      `gorm:"column:material;not null;index:idx_usage_records_pdi_material,priority:2"`
	Shift        enums.Shift `gorm:"column:shift;type:usage_shift;not null"`
	BatchID      uuid.UUID   `gorm:"column:batch_id;type:uuid;not null;index"`
	Quantity     int         `gorm:"column:quantity;not null;check:chk_usage_records_quantity,quantity > 0"`
	UsedAt       time.Time   `gorm:"column:used_at;not null"`
	CreatedAt    time.Time   `gorm:"column:created_at;autoCreateTime"`
}

func (UsageRecord) TableName() string { return "usage_records" }

func (u *UsageRecord) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
