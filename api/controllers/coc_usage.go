package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cocledger-backend/api/responses"
	"github.com/angelmondragon/cocledger-backend/api/validators"
	"github.com/angelmondragon/cocledger-backend/internal/allocation"
	"github.com/angelmondragon/cocledger-backend/internal/coc"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

const maxPDILen = 100

type commitUsageRequest struct {
	PDINumber string  `json:"pdiNumber" validate:"required,max=100"`
	Material  string  `json:"material" validate:"required,max=200"`
	Shift     string  `json:"shift" validate:"required"`
	BatchID   string  `json:"batchId" validate:"required,uuid"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	UsedAt    *string `json:"usedAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (r commitUsageRequest) toInput() (coc.CommitUsageInput, error) {
	shift, err := parseShift(r.Shift)
	if err != nil {
		return coc.CommitUsageInput{}, err
	}
	batchID, err := uuid.Parse(r.BatchID)
	if err != nil {
		return coc.CommitUsageInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid batchId")
	}
	input := coc.CommitUsageInput{
		PDINumber: r.PDINumber,
		Material:  r.Material,
		Shift:     shift,
		BatchID:   batchID,
		Quantity:  r.Quantity,
	}
	if r.UsedAt != nil {
		usedAt, err := time.Parse(time.RFC3339, *r.UsedAt)
		if err != nil {
			return coc.CommitUsageInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid usedAt")
		}
		input.UsedAt = &usedAt
	}
	return input, nil
}

func parseShift(raw string) (enums.Shift, error) {
	shift, err := enums.ParseShift(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shift").
			WithDetails(map[string]any{"shift": "must be one of A B C G"})
	}
	return shift, nil
}

// CommitUsage books consumption against the batch the operator picked.
func CommitUsage(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}

		var body commitUsageRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := body.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		record, err := svc.CommitUsage(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toUsageRecordView(record))
	}
}

// UsageHistory lists a PDI's usage rows, newest first.
func UsageHistory(svc coc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coc ledger unavailable"))
			return
		}
		pdi, err := validators.RequireQuery(r, "pdi", maxPDILen)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListUsageByPDI(ctx, pdi, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if page.Rows == nil {
			page.Rows = []coc.UsageRow{}
		}
		responses.WriteSuccess(w, page)
	}
}

// Suggestions returns the FIFO recommendation for a material.
func Suggestions(svc allocation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocator unavailable"))
			return
		}
		material, err := validators.RequireQuery(r, "material", maxNameLen)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		suggestion, err := svc.Suggest(ctx, allocation.SuggestInput{
			Material:  material,
			PDINumber: validators.SanitizeString(r.URL.Query().Get("pdi"), maxPDILen),
			Limit:     limit,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, suggestion)
	}
}

type allocateRequest struct {
	PDINumber string `json:"pdiNumber" validate:"required,max=100"`
	Material  string `json:"material" validate:"required,max=200"`
	Shift     string `json:"shift" validate:"required"`
	Requested int    `json:"requestedQuantity" validate:"gt=0"`
}

// Allocate draws the requested quantity across batches in FIFO order and
// commits every draw atomically.
func Allocate(svc allocation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocator unavailable"))
			return
		}

		var body allocateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		shift, err := parseShift(body.Shift)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.AllocateAndCommit(ctx, allocation.AllocateInput{
			PDINumber: body.PDINumber,
			Material:  body.Material,
			Shift:     shift,
			Requested: body.Requested,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
