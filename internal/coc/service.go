package coc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/metrics"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

const defaultCommitRetries = 3

var errVersionConflict = errors.New("material batch version changed")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the COC ledger: the single owner of receipts, usage records and
// consumption adjustments.
type Service interface {
	RecordReceipt(ctx context.Context, input RecordReceiptInput) (*ReceiptResult, error)
	GetRemaining(ctx context.Context, batchID uuid.UUID) (int, error)
	GetBalance(ctx context.Context, batchID uuid.UUID) (*BatchBalance, error)
	CommitUsage(ctx context.Context, input CommitUsageInput) (*models.UsageRecord, error)
	CommitAllocation(ctx context.Context, input AllocationInput) ([]models.UsageRecord, error)
	AdjustConsumedOverride(ctx context.Context, input AdjustConsumedInput) (*models.ConsumptionAdjustment, error)

	ListStock(ctx context.Context, material string) ([]BatchBalance, error)
	UsedBrands(ctx context.Context, pdiNumber, material string) ([]string, error)
	ListAdjustments(ctx context.Context, batchID uuid.UUID) ([]models.ConsumptionAdjustment, error)
	ListUsageByPDI(ctx context.Context, pdiNumber string, params pagination.Params) (*UsageHistoryPage, error)
	ListMaterials(ctx context.Context) ([]string, error)
	AuditBatches(ctx context.Context) ([]Inconsistency, error)
}

// ServiceParams wires the ledger dependencies.
type ServiceParams struct {
	Tx            txRunner
	Repo          Repository
	Logger        *logger.Logger
	Metrics       *metrics.LedgerMetrics
	CommitRetries int
	Now           func() time.Time
}

type service struct {
	tx      txRunner
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	retries int
	now     func() time.Time
}

// NewService validates params and returns the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("coc repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	retries := params.CommitRetries
	if retries <= 0 {
		retries = defaultCommitRetries
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:      params.Tx,
		repo:    params.Repo,
		logg:    params.Logger,
		metrics: params.Metrics,
		retries: retries,
		now:     now,
	}, nil
}

// withRetry runs fn in a transaction, re-running it when a batch version
// moved underneath it.
func (s *service) withRetry(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, ctxErr, op+" cancelled")
		}
		err = s.tx.WithTx(ctx, fn)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		s.metrics.IncRetry()
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), op+": batch version conflict, retrying")
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "material batch changed concurrently")
}

func (s *service) GetRemaining(ctx context.Context, batchID uuid.UUID) (int, error) {
	balance, err := s.GetBalance(ctx, batchID)
	if err != nil {
		return 0, err
	}
	return balance.RemainingQty, nil
}

func (s *service) GetBalance(ctx context.Context, batchID uuid.UUID) (*BatchBalance, error) {
	if batchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required")
	}
	batch, err := s.repo.FindBatch(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load material batch")
	}
	if batch == nil {
		return nil, unknownBatch(batchID, "")
	}
	consumed, err := s.repo.ConsumedQty(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum batch consumption")
	}
	balance := balanceOf(batch, consumed)
	if !balance.Consistent() {
		return nil, s.reportInconsistency(ctx, balance)
	}
	return &balance, nil
}

// reportInconsistency logs and counts a batch whose remaining left
// [0, received]. The value is surfaced as-is, never clamped.
func (s *service) reportInconsistency(ctx context.Context, balance BatchBalance) error {
	err := pkgerrors.New(
		pkgerrors.CodeLedgerInconsistency,
		fmt.Sprintf("batch %s has remaining %d outside [0, %d]", balance.InvoiceNo, balance.RemainingQty, balance.ReceivedQty),
	).WithDetails(inconsistencyOf(balance))

	logCtx := s.logg.WithBatchID(s.logg.WithMaterial(ctx, balance.Material), balance.BatchID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"invoice_no":    balance.InvoiceNo,
		"received_qty":  balance.ReceivedQty,
		"consumed_qty":  balance.ConsumedQty,
		"remaining_qty": balance.RemainingQty,
	})
	s.logg.Error(logCtx, "ledger inconsistency detected", err)
	s.metrics.IncInconsistency()
	return err
}

func (s *service) ListStock(ctx context.Context, material string) ([]BatchBalance, error) {
	balances, err := s.repo.ListBalances(ctx, BalanceFilter{Material: normalizeName(material)})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batch balances")
	}
	for _, balance := range balances {
		if !balance.Consistent() {
			_ = s.reportInconsistency(ctx, balance)
		}
	}
	return balances, nil
}

func (s *service) UsedBrands(ctx context.Context, pdiNumber, material string) ([]string, error) {
	pdiNumber = normalizeName(pdiNumber)
	material = normalizeName(material)
	if pdiNumber == "" || material == "" {
		return nil, nil
	}
	brands, err := s.repo.UsedBrands(ctx, pdiNumber, material)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load brand history")
	}
	return brands, nil
}

func (s *service) ListAdjustments(ctx context.Context, batchID uuid.UUID) ([]models.ConsumptionAdjustment, error) {
	batch, err := s.repo.FindBatch(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load material batch")
	}
	if batch == nil {
		return nil, unknownBatch(batchID, "")
	}
	adjustments, err := s.repo.ListAdjustments(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list adjustments")
	}
	return adjustments, nil
}

func (s *service) ListUsageByPDI(ctx context.Context, pdiNumber string, params pagination.Params) (*UsageHistoryPage, error) {
	pdiNumber = normalizeName(pdiNumber)
	if pdiNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pdi number is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListUsageByPDI(ctx, pdiNumber, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage history")
	}

	page := &UsageHistoryPage{Rows: rows}
	if len(rows) > limit {
		page.Rows = rows[:limit]
		last := page.Rows[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{At: last.UsedAt, ID: last.UsageID})
	}
	if len(page.Rows) == 0 {
		return page, nil
	}

	ids := make([]uuid.UUID, 0, len(page.Rows))
	seen := map[uuid.UUID]struct{}{}
	for _, row := range page.Rows {
		if _, ok := seen[row.BatchID]; ok {
			continue
		}
		seen[row.BatchID] = struct{}{}
		ids = append(ids, row.BatchID)
	}
	balances, err := s.repo.ListBalances(ctx, BalanceFilter{BatchIDs: ids})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load batch balances")
	}
	remaining := make(map[uuid.UUID]int, len(balances))
	for _, balance := range balances {
		remaining[balance.BatchID] = balance.RemainingQty
	}
	for i := range page.Rows {
		page.Rows[i].RemainingGap = remaining[page.Rows[i].BatchID]
	}
	return page, nil
}

func (s *service) ListMaterials(ctx context.Context) ([]string, error) {
	materials, err := s.repo.ListMaterials(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list materials")
	}
	return materials, nil
}

// AuditBatches recomputes every batch and reports those out of bounds.
func (s *service) AuditBatches(ctx context.Context) ([]Inconsistency, error) {
	balances, err := s.repo.ListBalances(ctx, BalanceFilter{})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batch balances")
	}
	var found []Inconsistency
	for _, balance := range balances {
		if balance.Consistent() {
			continue
		}
		_ = s.reportInconsistency(ctx, balance)
		found = append(found, inconsistencyOf(balance))
	}
	return found, nil
}

func balanceOf(batch *models.MaterialBatch, consumed int) BatchBalance {
	return BatchBalance{
		BatchID:       batch.ID,
		InvoiceNo:     batch.InvoiceNo,
		Material:      batch.Material,
		Brand:         batch.Brand,
		ReceivedDate:  batch.ReceivedDate,
		COCDocumentNo: batch.COCDocumentNo,
		ReceivedQty:   batch.ReceivedQty,
		ConsumedQty:   consumed,
		RemainingQty:  batch.ReceivedQty - consumed,
		Status:        batch.Status,
	}
}

func inconsistencyOf(balance BatchBalance) Inconsistency {
	return Inconsistency{
		BatchID:      balance.BatchID,
		InvoiceNo:    balance.InvoiceNo,
		Material:     balance.Material,
		ReceivedQty:  balance.ReceivedQty,
		ConsumedQty:  balance.ConsumedQty,
		RemainingQty: balance.RemainingQty,
	}
}

func unknownBatch(batchID uuid.UUID, material string) error {
	details := map[string]any{"batchId": batchID.String()}
	if material != "" {
		details["material"] = material
	}
	return pkgerrors.New(pkgerrors.CodeUnknownBatch, "material batch not found").WithDetails(details)
}

// normalizeName trims surrounding whitespace; names are otherwise compared verbatim.
func normalizeName(value string) string {
	return strings.TrimSpace(value)
}

func normalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func failureReason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.ReasonInternal
	}
	switch typed.Code() {
	case pkgerrors.CodeInsufficientQuantity:
		return metrics.ReasonInsufficientQuantity
	case pkgerrors.CodeMaterialExhausted:
		return metrics.ReasonMaterialExhausted
	case pkgerrors.CodeUnknownBatch:
		return metrics.ReasonUnknownBatch
	case pkgerrors.CodeConflict:
		return metrics.ReasonVersionConflict
	default:
		return strings.ToLower(string(typed.Code()))
	}
}

func shiftOf(value enums.Shift) (enums.Shift, error) {
	shift, err := enums.ParseShift(string(value))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shift")
	}
	return shift, nil
}
