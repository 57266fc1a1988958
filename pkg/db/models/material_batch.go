package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cocledger-backend/pkg/enums"
)

// MaterialBatch is a COC receipt: one supplier shipment of a raw material,
// identified by its invoice number.
type MaterialBatch struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceNo     string            `gorm:"column:invoice_no;not null;uniqueIndex:material_batches_invoice_no_key"`
	Material      string            `gorm:"column:material;not null;index:idx_material_batches_material_date,priority:1"`
	Brand         string            `gorm:"column:brand;not null"`
	ReceivedQty   int               `gorm:"column:received_qty;not null;check:chk_material_batches_received_qty,received_qty > 0"`
	ReceivedDate  time.Time         `gorm:"column:received_date;type:date;not null;index:idx_material_batches_material_date,priority:2"`
	COCDocumentNo *string           `gorm:"column:coc_document_no"`
	Status        enums.BatchStatus `gorm:"column:status;type:batch_status;not null;default:'active'"`
	Version       int               `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (MaterialBatch) TableName() string { return "material_batches" }

// BeforeCreate assigns the primary key client side so sqlite and Postgres agree.
func (b *MaterialBatch) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
