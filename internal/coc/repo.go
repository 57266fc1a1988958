package coc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

// Repository persists batches, usage records and adjustments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateBatch(ctx context.Context, batch *models.MaterialBatch) error
	UpdateReceipt(ctx context.Context, batch *models.MaterialBatch) error
	FindBatchByInvoice(ctx context.Context, invoiceNo string) (*models.MaterialBatch, error)
	FindBatch(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error)
	LockBatch(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error)
	LockBatches(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.MaterialBatch, error)
	BumpVersion(ctx context.Context, id uuid.UUID, expected int, status enums.BatchStatus) (bool, error)
	ConsumedQty(ctx context.Context, batchID uuid.UUID) (int, error)

	CreateUsage(ctx context.Context, record *models.UsageRecord) error
	CreateAdjustment(ctx context.Context, adj *models.ConsumptionAdjustment) error

	ListBalances(ctx context.Context, filter BalanceFilter) ([]BatchBalance, error)
	ListMaterials(ctx context.Context) ([]string, error)
	UsedBrands(ctx context.Context, pdiNumber, material string) ([]string, error)
	ListAdjustments(ctx context.Context, batchID uuid.UUID) ([]models.ConsumptionAdjustment, error)
	ListUsageByPDI(ctx context.Context, pdiNumber string, cursor *pagination.Cursor, limit int) ([]UsageRow, error)
}

// BalanceFilter narrows ListBalances. Zero values select everything.
type BalanceFilter struct {
	Material string
	BatchIDs []uuid.UUID
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBatch(ctx context.Context, batch *models.MaterialBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) UpdateReceipt(ctx context.Context, batch *models.MaterialBatch) error {
	res := r.db.WithContext(ctx).
		Model(&models.MaterialBatch{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]any{
			"received_qty":    batch.ReceivedQty,
			"received_date":   batch.ReceivedDate,
			"coc_document_no": batch.COCDocumentNo,
			"status":          batch.Status,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errVersionConflict
	}
	batch.Version++
	return nil
}

func (r *repository) FindBatchByInvoice(ctx context.Context, invoiceNo string) (*models.MaterialBatch, error) {
	var batch models.MaterialBatch
	err := r.db.WithContext(ctx).Where("invoice_no = ?", invoiceNo).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) FindBatch(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error) {
	var batch models.MaterialBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// LockBatch reads the batch with SELECT ... FOR UPDATE. sqlite ignores the
// locking clause; its single writer connection gives the same guarantee.
func (r *repository) LockBatch(ctx context.Context, id uuid.UUID) (*models.MaterialBatch, error) {
	var batch models.MaterialBatch
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// LockBatches locks every listed batch in id order so concurrent multi-batch
// allocations cannot deadlock on each other.
func (r *repository) LockBatches(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.MaterialBatch, error) {
	out := make(map[uuid.UUID]*models.MaterialBatch, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var batches []models.MaterialBatch
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	for i := range batches {
		out[batches[i].ID] = &batches[i]
	}
	return out, nil
}

func (r *repository) BumpVersion(ctx context.Context, id uuid.UUID, expected int, status enums.BatchStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MaterialBatch{}).
		Where("id = ? AND version = ?", id, expected).
		Updates(map[string]any{
			"version":    gorm.Expr("version + 1"),
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConsumedQty(ctx context.Context, batchID uuid.UUID) (int, error) {
	var usage, adjusted int64
	if err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("batch_id = ?", batchID).
		Scan(&usage).Error; err != nil {
		return 0, err
	}
	if err := r.db.WithContext(ctx).
		Model(&models.ConsumptionAdjustment{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("batch_id = ?", batchID).
		Scan(&adjusted).Error; err != nil {
		return 0, err
	}
	return int(usage + adjusted), nil
}

func (r *repository) CreateUsage(ctx context.Context, record *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) CreateAdjustment(ctx context.Context, adj *models.ConsumptionAdjustment) error {
	return r.db.WithContext(ctx).Create(adj).Error
}

type balanceRow struct {
	BatchID       uuid.UUID         `gorm:"column:batch_id"`
	InvoiceNo     string            `gorm:"column:invoice_no"`
	Material      string            `gorm:"column:material"`
	Brand         string            `gorm:"column:brand"`
	ReceivedDate  time.Time         `gorm:"column:received_date"`
	COCDocumentNo *string           `gorm:"column:coc_document_no"`
	ReceivedQty   int               `gorm:"column:received_qty"`
	Status        enums.BatchStatus `gorm:"column:status"`
	UsageQty      int64             `gorm:"column:usage_qty"`
	AdjustedQty   int64             `gorm:"column:adjusted_qty"`
}

const balanceSelect = `b.id AS batch_id, b.invoice_no, b.material, b.brand, b.received_date,
	b.coc_document_no, b.received_qty, b.status,
	COALESCE((SELECT SUM(u.quantity) FROM usage_records u WHERE u.batch_id = b.id), 0) AS usage_qty,
	COALESCE((SELECT SUM(a.delta) FROM consumption_adjustments a WHERE a.batch_id = b.id), 0) AS adjusted_qty`

// ListBalances returns batches in FIFO order (received date, then invoice)
// with consumption derived from usage records and adjustments.
func (r *repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]BatchBalance, error) {
	query := r.db.WithContext(ctx).
		Table("material_batches AS b").
		Select(balanceSelect)
	if filter.Material != "" {
		query = query.Where("b.material = ?", filter.Material)
	}
	if len(filter.BatchIDs) > 0 {
		query = query.Where("b.id IN ?", filter.BatchIDs)
	}

	var rows []balanceRow
	if err := query.Order("b.received_date ASC, b.invoice_no ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}

	balances := make([]BatchBalance, 0, len(rows))
	for _, row := range rows {
		consumed := int(row.UsageQty + row.AdjustedQty)
		balances = append(balances, BatchBalance{
			BatchID:       row.BatchID,
			InvoiceNo:     row.InvoiceNo,
			Material:      row.Material,
			Brand:         row.Brand,
			ReceivedDate:  row.ReceivedDate,
			COCDocumentNo: row.COCDocumentNo,
			ReceivedQty:   row.ReceivedQty,
			ConsumedQty:   consumed,
			RemainingQty:  row.ReceivedQty - consumed,
			Status:        row.Status,
		})
	}
	return balances, nil
}

func (r *repository) ListMaterials(ctx context.Context) ([]string, error) {
	var materials []string
	if err := r.db.WithContext(ctx).
		Model(&models.MaterialBatch{}).
		Distinct("material").
		Order("material ASC").
		Pluck("material", &materials).Error; err != nil {
		return nil, err
	}
	return materials, nil
}

// UsedBrands lists brands already drawn for material under the given PDI.
func (r *repository) UsedBrands(ctx context.Context, pdiNumber, material string) ([]string, error) {
	var brands []string
	if err := r.db.WithContext(ctx).
		Table("usage_records AS u").
		Joins("JOIN material_batches b ON b.id = u.batch_id").
		Where("u.pdi_number = ? AND u.material = ?", pdiNumber, material).
		Distinct("b.brand").
		Order("b.brand ASC").
		Pluck("b.brand", &brands).Error; err != nil {
		return nil, err
	}
	return brands, nil
}

func (r *repository) ListAdjustments(ctx context.Context, batchID uuid.UUID) ([]models.ConsumptionAdjustment, error) {
	var adjustments []models.ConsumptionAdjustment
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&adjustments).Error; err != nil {
		return nil, err
	}
	return adjustments, nil
}

type usageRow struct {
	ID           uuid.UUID   `gorm:"column:id"`
	AllocationID *uuid.UUID  `gorm:"column:allocation_id"`
	PDINumber    string      `gorm:"column:pdi_number"`
	Material     string      `gorm:"column:material"`
	Shift        enums.Shift `gorm:"column:shift"`
	BatchID      uuid.UUID   `gorm:"column:batch_id"`
	Quantity     int         `gorm:"column:quantity"`
	UsedAt       time.Time   `gorm:"column:used_at"`
	InvoiceNo    string      `gorm:"column:invoice_no"`
	Brand        string      `gorm:"column:brand"`
}

// ListUsageByPDI pages usage history in chronological order. RemainingGap is
// left for the caller to fill.
func (r *repository) ListUsageByPDI(ctx context.Context, pdiNumber string, cursor *pagination.Cursor, limit int) ([]UsageRow, error) {
	query := r.db.WithContext(ctx).
		Table("usage_records AS u").
		Select("u.id, u.allocation_id, u.pdi_number, u.material, u.shift, u.batch_id, u.quantity, u.used_at, b.invoice_no, b.brand").
		Joins("JOIN material_batches b ON b.id = u.batch_id").
		Where("u.pdi_number = ?", pdiNumber)
	if cursor != nil {
		query = query.Where("((u.used_at > ?) OR (u.used_at = ? AND u.id > ?))", cursor.At, cursor.At, cursor.ID)
	}

	var rows []usageRow
	if err := query.Order("u.used_at ASC, u.id ASC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]UsageRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, UsageRow{
			UsageID:      row.ID,
			AllocationID: row.AllocationID,
			PDINumber:    row.PDINumber,
			Material:     row.Material,
			Shift:        row.Shift,
			BatchID:      row.BatchID,
			InvoiceNo:    row.InvoiceNo,
			Brand:        row.Brand,
			QtyUsed:      row.Quantity,
			UsedAt:       row.UsedAt,
		})
	}
	return out, nil
}
