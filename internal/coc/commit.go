package coc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
)

// CommitUsage books quantity from a single batch. The remaining check and the
// insert share one transaction with the batch row locked.
func (s *service) CommitUsage(ctx context.Context, input CommitUsageInput) (*models.UsageRecord, error) {
	pdi := normalizeName(input.PDINumber)
	material := normalizeName(input.Material)
	if pdi == "" || material == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pdi number and material are required")
	}
	if input.BatchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	shift, err := shiftOf(input.Shift)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithPDINumber(s.logg.WithMaterial(ctx, material), pdi)
	usedAt := s.usedAt(input.UsedAt)

	var record *models.UsageRecord
	err = s.withRetry(ctx, "commit usage", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		batch, err := repo.LockBatch(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if batch == nil || batch.Material != material {
			return unknownBatch(input.BatchID, material)
		}
		balance, err := s.lockedBalance(ctx, repo, batch)
		if err != nil {
			return err
		}
		if input.Quantity > balance.RemainingQty {
			return insufficient(balance, input.Quantity)
		}

		record = &models.UsageRecord{
			PDINumber: pdi,
			Material:  material,
			Shift:     shift,
			UsedAt:    usedAt,
		}
		return s.appendUsage(ctx, repo, batch, balance, input.Quantity, record)
	})
	if err != nil {
		return nil, s.commitFailed(ctx, "commit usage rejected", err)
	}

	s.metrics.ObserveCommit(material, record.Quantity)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_id": record.BatchID.String(),
		"quantity": record.Quantity,
		"shift":    record.Shift,
	}), "usage committed")
	return record, nil
}

// CommitAllocation draws Requested units walking Candidates in order, one
// usage record per batch drawn, all sharing an allocation id. Any shortfall
// rolls the whole allocation back.
func (s *service) CommitAllocation(ctx context.Context, input AllocationInput) ([]models.UsageRecord, error) {
	pdi := normalizeName(input.PDINumber)
	material := normalizeName(input.Material)
	if pdi == "" || material == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pdi number and material are required")
	}
	if input.Requested <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requested quantity must be greater than zero")
	}
	shift, err := shiftOf(input.Shift)
	if err != nil {
		return nil, err
	}
	candidates := dedupe(input.Candidates)
	if len(candidates) == 0 {
		err := pkgerrors.New(pkgerrors.CodeMaterialExhausted, "no available COCs for this material").
			WithDetails(map[string]any{"material": material, "requested": input.Requested, "available": 0})
		return nil, s.commitFailed(ctx, "allocation rejected", err)
	}

	ctx = s.logg.WithPDINumber(s.logg.WithMaterial(ctx, material), pdi)
	usedAt := s.usedAt(input.UsedAt)
	allocationID := uuid.New()

	var records []models.UsageRecord
	err = s.withRetry(ctx, "commit allocation", func(tx *gorm.DB) error {
		records = records[:0]
		repo := s.repo.WithTx(tx)

		locked, err := repo.LockBatches(ctx, candidates)
		if err != nil {
			return err
		}

		need := input.Requested
		for _, id := range candidates {
			if need == 0 {
				break
			}
			batch, ok := locked[id]
			if !ok || batch.Material != material {
				return unknownBatch(id, material)
			}
			balance, err := s.lockedBalance(ctx, repo, batch)
			if err != nil {
				return err
			}
			if balance.RemainingQty <= 0 {
				continue
			}

			take := min(need, balance.RemainingQty)
			record := &models.UsageRecord{
				AllocationID: &allocationID,
				PDINumber:    pdi,
				Material:     material,
				Shift:        shift,
				UsedAt:       usedAt,
			}
			if err := s.appendUsage(ctx, repo, batch, balance, take, record); err != nil {
				return err
			}
			records = append(records, *record)
			need -= take
		}

		if need > 0 {
			return pkgerrors.New(pkgerrors.CodeMaterialExhausted, "not enough remaining stock across batches").
				WithDetails(map[string]any{
					"material":  material,
					"requested": input.Requested,
					"available": input.Requested - need,
				})
		}
		return nil
	})
	if err != nil {
		return nil, s.commitFailed(ctx, "allocation rejected", err)
	}

	for _, record := range records {
		s.metrics.ObserveCommit(material, record.Quantity)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"allocation_id": allocationID.String(),
		"requested":     input.Requested,
		"batches":       len(records),
	}), "allocation committed")
	return records, nil
}

// AdjustConsumedOverride is the administrative correction path. It appends an
// adjustment entry moving consumed to NewConsumed; usage records stay intact.
func (s *service) AdjustConsumedOverride(ctx context.Context, input AdjustConsumedInput) (*models.ConsumptionAdjustment, error) {
	if input.BatchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required")
	}
	reason := normalizeName(input.Reason)
	actor := normalizeName(input.Actor)
	if reason == "" || actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason and actor are required")
	}
	if input.NewConsumed < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "consumed quantity cannot be negative").
			WithDetails(map[string]any{"newConsumed": input.NewConsumed})
	}

	var adjustment *models.ConsumptionAdjustment
	err := s.withRetry(ctx, "adjust consumed", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		batch, err := repo.LockBatch(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return unknownBatch(input.BatchID, "")
		}
		consumed, err := repo.ConsumedQty(ctx, batch.ID)
		if err != nil {
			return err
		}
		if input.NewConsumed > batch.ReceivedQty {
			return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "consumed quantity cannot exceed received quantity").
				WithDetails(map[string]any{
					"newConsumed": input.NewConsumed,
					"receivedQty": batch.ReceivedQty,
				})
		}

		adjustment = &models.ConsumptionAdjustment{
			BatchID:          batch.ID,
			PreviousConsumed: consumed,
			NewConsumed:      input.NewConsumed,
			Delta:            input.NewConsumed - consumed,
			Reason:           reason,
			Actor:            actor,
		}
		if err := repo.CreateAdjustment(ctx, adjustment); err != nil {
			return err
		}
		ok, err := repo.BumpVersion(ctx, batch.ID, batch.Version, enums.BatchStatusFor(batch.ReceivedQty-input.NewConsumed))
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust consumed quantity")
		}
		return nil, err
	}

	s.metrics.IncAdjustment()
	s.logg.Warn(s.logg.WithBatchID(s.logg.WithFields(ctx, map[string]any{
		"actor":             adjustment.Actor,
		"previous_consumed": adjustment.PreviousConsumed,
		"new_consumed":      adjustment.NewConsumed,
	}), adjustment.BatchID.String()), "consumed quantity overridden")
	return adjustment, nil
}

// lockedBalance derives the balance of a batch already locked by the caller.
func (s *service) lockedBalance(ctx context.Context, repo Repository, batch *models.MaterialBatch) (BatchBalance, error) {
	consumed, err := repo.ConsumedQty(ctx, batch.ID)
	if err != nil {
		return BatchBalance{}, err
	}
	balance := balanceOf(batch, consumed)
	if !balance.Consistent() {
		return balance, s.reportInconsistency(ctx, balance)
	}
	return balance, nil
}

// appendUsage inserts record for qty units and bumps the batch version. A
// version that moved since the lock aborts the transaction for a retry.
func (s *service) appendUsage(ctx context.Context, repo Repository, batch *models.MaterialBatch, balance BatchBalance, qty int, record *models.UsageRecord) error {
	record.BatchID = batch.ID
	record.Quantity = qty
	if err := repo.CreateUsage(ctx, record); err != nil {
		return err
	}
	ok, err := repo.BumpVersion(ctx, batch.ID, batch.Version, enums.BatchStatusFor(balance.RemainingQty-qty))
	if err != nil {
		return err
	}
	if !ok {
		return errVersionConflict
	}
	return nil
}

func (s *service) commitFailed(ctx context.Context, msg string, err error) error {
	if pkgerrors.As(err) == nil {
		err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	s.metrics.IncFailure(failureReason(err))
	if pkgerrors.Is(err, pkgerrors.CodeDependency) || pkgerrors.Is(err, pkgerrors.CodeConflict) {
		s.logg.Error(ctx, msg, err)
	} else {
		s.logg.Info(s.logg.WithField(ctx, "reason", failureReason(err)), msg)
	}
	return err
}

func (s *service) usedAt(value *time.Time) time.Time {
	if value != nil && !value.IsZero() {
		return value.UTC()
	}
	return s.now().UTC()
}

func insufficient(balance BatchBalance, requested int) error {
	return pkgerrors.New(
		pkgerrors.CodeInsufficientQuantity,
		fmt.Sprintf("batch %s has %d remaining, %d requested", balance.InvoiceNo, balance.RemainingQty, requested),
	).WithDetails(map[string]any{
		"batchId":   balance.BatchID.String(),
		"invoiceNo": balance.InvoiceNo,
		"remaining": balance.RemainingQty,
		"requested": requested,
	})
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
