package coc

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/cocledger-backend/pkg/db"
	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
)

// RecordReceipt registers a shipment. Re-sending an invoice is idempotent: an
// identical tuple is a no-op, changed quantity/date/document updates the row,
// and a different material or brand is a DUPLICATE_INVOICE.
func (s *service) RecordReceipt(ctx context.Context, input RecordReceiptInput) (*ReceiptResult, error) {
	in, err := normalizeReceipt(input)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithMaterial(ctx, in.Material)

	result, err := s.recordReceipt(ctx, in)
	if err != nil && db.IsUniqueViolation(err, "") {
		// a concurrent import inserted the same invoice; the second pass sees it
		result, err = s.recordReceipt(ctx, in)
	}
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record receipt")
		}
		s.metrics.IncReceipt("rejected")
		return nil, err
	}

	s.metrics.IncReceipt(string(result.Outcome))
	if result.Outcome != ReceiptUnchanged {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"invoice_no": in.InvoiceNo,
			"outcome":    result.Outcome,
			"quantity":   in.Quantity,
		}), "coc receipt recorded")
	}
	return result, nil
}

func (s *service) recordReceipt(ctx context.Context, in RecordReceiptInput) (*ReceiptResult, error) {
	var result *ReceiptResult
	err := s.withRetry(ctx, "record receipt", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindBatchByInvoice(ctx, in.InvoiceNo)
		if err != nil {
			return err
		}
		if existing == nil {
			batch := &models.MaterialBatch{
				InvoiceNo:     in.InvoiceNo,
				Material:      in.Material,
				Brand:         in.Brand,
				ReceivedQty:   in.Quantity,
				ReceivedDate:  in.ReceivedDate,
				COCDocumentNo: in.COCDocumentNo,
				Status:        enums.BatchStatusActive,
			}
			if err := repo.CreateBatch(ctx, batch); err != nil {
				return err
			}
			result = &ReceiptResult{Batch: balanceOf(batch, 0), Outcome: ReceiptCreated}
			return nil
		}

		if existing.Material != in.Material || existing.Brand != in.Brand {
			return pkgerrors.New(pkgerrors.CodeDuplicateInvoice, "invoice already registered for another material or brand").
				WithDetails(map[string]any{
					"invoiceNo":        in.InvoiceNo,
					"existingMaterial": existing.Material,
					"existingBrand":    existing.Brand,
				})
		}

		consumed, err := repo.ConsumedQty(ctx, existing.ID)
		if err != nil {
			return err
		}
		if sameReceipt(existing, in) {
			result = &ReceiptResult{Batch: balanceOf(existing, consumed), Outcome: ReceiptUnchanged}
			return nil
		}
		if in.Quantity < consumed {
			return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "received quantity cannot drop below consumed quantity").
				WithDetails(map[string]any{
					"invoiceNo":   in.InvoiceNo,
					"quantity":    in.Quantity,
					"consumedQty": consumed,
				})
		}

		existing.ReceivedQty = in.Quantity
		existing.ReceivedDate = in.ReceivedDate
		if in.COCDocumentNo != nil {
			existing.COCDocumentNo = in.COCDocumentNo
		}
		existing.Status = enums.BatchStatusFor(in.Quantity - consumed)
		if err := repo.UpdateReceipt(ctx, existing); err != nil {
			return err
		}
		result = &ReceiptResult{Batch: balanceOf(existing, consumed), Outcome: ReceiptUpdated}
		return nil
	})
	return result, err
}

// sameReceipt compares the fields a re-sync may legitimately carry. A missing
// document number keeps whatever is stored.
func sameReceipt(existing *models.MaterialBatch, in RecordReceiptInput) bool {
	if existing.ReceivedQty != in.Quantity {
		return false
	}
	if !normalizeDate(existing.ReceivedDate).Equal(in.ReceivedDate) {
		return false
	}
	if in.COCDocumentNo == nil {
		return true
	}
	return existing.COCDocumentNo != nil && *existing.COCDocumentNo == *in.COCDocumentNo
}

func normalizeReceipt(input RecordReceiptInput) (RecordReceiptInput, error) {
	out := RecordReceiptInput{
		Material:     normalizeName(input.Material),
		Brand:        normalizeName(input.Brand),
		InvoiceNo:    normalizeName(input.InvoiceNo),
		Quantity:     input.Quantity,
		ReceivedDate: normalizeDate(input.ReceivedDate),
	}
	if input.COCDocumentNo != nil {
		if doc := normalizeName(*input.COCDocumentNo); doc != "" {
			out.COCDocumentNo = &doc
		}
	}

	missing := []string{}
	if out.Material == "" {
		missing = append(missing, "material")
	}
	if out.Brand == "" {
		missing = append(missing, "brand")
	}
	if out.InvoiceNo == "" {
		missing = append(missing, "invoiceNo")
	}
	if input.ReceivedDate.IsZero() {
		missing = append(missing, "receivedDate")
	}
	if len(missing) > 0 {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "receipt is incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	if out.Quantity <= 0 {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").
			WithDetails(map[string]any{"quantity": out.Quantity})
	}
	return out, nil
}
