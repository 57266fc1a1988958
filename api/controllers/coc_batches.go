package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/cocledger-backend/api/responses"
	"github.com/angelmondragon/cocledger-backend/api/validators"
	"github.com/angelmondragon/cocledger-backend/internal/coc"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
)

const (
	maxNameLen = 200
	dateLayout = "2006-01-02"
)

type recordReceiptRequest struct {
	Material      string  `json:"material" validate:"required,max=200"`
	Brand         string  `json:"brand" validate:"required,max=200"`
	InvoiceNo     string  `json:"invoiceNo" validate:"required,max=100"`
	Quantity      int     `json:"quantity" validate:"gt=0"`
	ReceivedDate  string  `json:"receivedDate" validate:"required,datetime=2006-01-02"`
	COCDocumentNo *string `json:"cocDocumentNo,omitempty" validate:"omitempty,max=100"`
}

func (r recordReceiptRequest) toInput() (coc.RecordReceiptInput, error) {
	received, err := time.Parse(dateLayout, r.ReceivedDate)
	if err != nil {
		return coc.RecordReceiptInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid receivedDate")
	}
	return coc.RecordReceiptInput{
		Material:      r.Material,
		Brand:         r.Brand,
		InvoiceNo:     r.InvoiceNo,
		Quantity:      r.Quantity,
		ReceivedDate:  received,
		COCDocumentNo: r.COCDocumentNo,
	}, nil
}

// RecordReceipt registers a shipment; 201 on first sight, 200 on re-sync.
func RecordReceipt(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}

		var body recordReceiptRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := body.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.RecordReceipt(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Outcome == coc.ReceiptCreated {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

func ListMaterials(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}
		materials, err := svc.ListMaterials(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if materials == nil {
			materials = []string{}
		}
		responses.WriteSuccess(w, map[string]any{"materials": materials})
	}
}

// ListBatches returns stock rows, optionally for one material.
func ListBatches(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}
		material := validators.SanitizeString(r.URL.Query().Get("material"), maxNameLen)
		batches, err := svc.ListStock(ctx, material)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if batches == nil {
			batches = []coc.BatchBalance{}
		}
		responses.WriteSuccess(w, map[string]any{"batches": batches})
	}
}

func BatchRemaining(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		remaining, err := svc.GetRemaining(ctx, batchID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"batchId": batchID, "remainingQty": remaining})
	}
}

type adjustConsumedRequest struct {
	NewConsumed *int   `json:"newConsumed" validate:"required,gte=0"`
	Reason      string `json:"reason" validate:"required,max=500"`
	Actor       string `json:"actor" validate:"required,max=200"`
}

// AdjustConsumed overrides a batch's consumed quantity and records the audit row.
func AdjustConsumed(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body adjustConsumedRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		adj, err := svc.AdjustConsumedOverride(ctx, coc.AdjustConsumedInput{
			BatchID:     batchID,
			NewConsumed: *body.NewConsumed,
			Reason:      body.Reason,
			Actor:       body.Actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toAdjustmentView(adj))
	}
}

func ListAdjustments(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		adjustments, err := svc.ListAdjustments(ctx, batchID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"adjustments": toAdjustmentViews(adjustments)})
	}
}
