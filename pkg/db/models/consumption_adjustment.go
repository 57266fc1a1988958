package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConsumptionAdjustment records an administrative override of a batch's
// consumed quantity. Delta joins usage records in the consumed sum.
type ConsumptionAdjustment struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BatchID          uuid.UUID `gorm:"column:batch_id;type:uuid;not null;index"`
	PreviousConsumed int       `gorm:"column:previous_consumed;not null"`
	NewConsumed      int       `gorm:"column:new_consumed;not null;check:chk_consumption_adjustments_new_consumed,new_consumed >= 0"`
	Delta            int       `gorm:"column:delta;not null"`
	Reason           string    `gorm:"column:reason;not null"`
	Actor            string    `gorm:"column:actor;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ConsumptionAdjustment) TableName() string { return "consumption_adjustments" }

func (a *ConsumptionAdjustment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
