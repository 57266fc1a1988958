package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

const (
	defaultAlternates = 10
	maxAlternates     = pagination.MaxLimit
	staleRankRetries  = 1

	noAvailableMessage = "no available COCs for this material"
)

// Reason explains an unavailable suggestion.
type Reason string

const (
	ReasonNoBatches    Reason = "no_batches"
	ReasonAllExhausted Reason = "all_exhausted"
)

// Ledger is the slice of the COC ledger the allocator reads and commits through.
type Ledger interface {
	ListStock(ctx context.Context, material string) ([]coc.BatchBalance, error)
	UsedBrands(ctx context.Context, pdiNumber, material string) ([]string, error)
	CommitAllocation(ctx context.Context, input coc.AllocationInput) ([]models.UsageRecord, error)
}

type SuggestInput struct {
	Material  string
	PDINumber string
	Limit     int
}

// Suggestion is the FIFO recommendation for a material. Available is false,
// with a Reason, when nothing can be consumed.
type Suggestion struct {
	Material         string      `json:"material"`
	PDINumber        string      `json:"pdiNumber,omitempty"`
	Available        bool        `json:"available"`
	Reason           Reason      `json:"reason,omitempty"`
	Message          string      `json:"message,omitempty"`
	RecommendedBatch *Candidate  `json:"recommendedBatch"`
	Alternates       []Candidate `json:"alternates"`
	MoreAlternates   int         `json:"moreAlternates"`
	TotalRemaining   int         `json:"totalRemaining"`
	UsedBrands       []string    `json:"usedBrands"`
}

type AllocateInput struct {
	PDINumber string      `json:"pdiNumber" validate:"required,max=100"`
	Material  string      `json:"material" validate:"required,max=200"`
	Shift     enums.Shift `json:"shift" validate:"required,oneof=A B C G"`
	Requested int         `json:"requestedQuantity" validate:"gt=0"`
}

// Draw is the part of an allocation taken from one batch.
type Draw struct {
	UsageID   uuid.UUID `json:"usageId"`
	BatchID   uuid.UUID `json:"batchId"`
	InvoiceNo string    `json:"invoiceNo"`
	Brand     string    `json:"brand"`
	Quantity  int       `json:"quantity"`
}

type AllocationResult struct {
	AllocationID uuid.UUID   `json:"allocationId"`
	PDINumber    string      `json:"pdiNumber"`
	Material     string      `json:"material"`
	Shift        enums.Shift `json:"shift"`
	Requested    int         `json:"requestedQuantity"`
	Draws        []Draw      `json:"draws"`
}

type Service interface {
	Suggest(ctx context.Context, input SuggestInput) (*Suggestion, error)
	AllocateAndCommit(ctx context.Context, input AllocateInput) (*AllocationResult, error)
}

type service struct {
	ledger     Ledger
	logg       *logger.Logger
	alternates int
}

// NewService builds the allocator. alternates caps the alternates returned
// when a caller does not ask for a limit.
func NewService(ledger Ledger, logg *logger.Logger, alternates int) (Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("coc ledger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if alternates <= 0 {
		alternates = defaultAlternates
	}
	return &service{ledger: ledger, logg: logg, alternates: min(alternates, maxAlternates)}, nil
}

func (s *service) Suggest(ctx context.Context, input SuggestInput) (*Suggestion, error) {
	material := strings.TrimSpace(input.Material)
	pdi := strings.TrimSpace(input.PDINumber)
	if material == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "material is required")
	}

	stock, used, ordered, err := s.rank(ctx, material, pdi)
	if err != nil {
		return nil, err
	}

	suggestion := &Suggestion{
		Material:   material,
		PDINumber:  pdi,
		Alternates: []Candidate{},
		UsedBrands: used,
	}
	if suggestion.UsedBrands == nil {
		suggestion.UsedBrands = []string{}
	}
	if len(ordered) == 0 {
		suggestion.Reason = unavailableReason(stock)
		suggestion.Message = noAvailableMessage
		return suggestion, nil
	}

	for _, candidate := range ordered {
		suggestion.TotalRemaining += candidate.RemainingQty
	}
	suggestion.Available = true
	recommended := ordered[0]
	suggestion.RecommendedBatch = &recommended

	limit := s.alternates
	if input.Limit > 0 {
		limit = min(input.Limit, maxAlternates)
	}
	rest := ordered[1:]
	if len(rest) > limit {
		suggestion.MoreAlternates = len(rest) - limit
		rest = rest[:limit]
	}
	suggestion.Alternates = append(suggestion.Alternates, rest...)
	return suggestion, nil
}

// AllocateAndCommit splits the requested quantity greedily over the ranked
// batches and commits every draw in one transaction, or nothing.
func (s *service) AllocateAndCommit(ctx context.Context, input AllocateInput) (*AllocationResult, error) {
	material := strings.TrimSpace(input.Material)
	pdi := strings.TrimSpace(input.PDINumber)
	if material == "" || pdi == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pdi number and material are required")
	}
	if input.Requested <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requested quantity must be greater than zero")
	}

	var (
		byID    map[uuid.UUID]Candidate
		records []models.UsageRecord
		err     error
	)
	for attempt := 0; ; attempt++ {
		var ids []uuid.UUID
		ids, byID, err = s.plan(ctx, material, pdi, input.Requested)
		if err != nil {
			return nil, err
		}
		records, err = s.ledger.CommitAllocation(ctx, coc.AllocationInput{
			PDINumber:  pdi,
			Material:   material,
			Shift:      input.Shift,
			Requested:  input.Requested,
			Candidates: ids,
		})
		if err == nil {
			break
		}
		// The ranking is read outside the commit transaction. A shortfall
		// found under lock gets one fresh ranking, which picks up batches
		// received in between.
		if attempt >= staleRankRetries || !pkgerrors.Is(err, pkgerrors.CodeMaterialExhausted) {
			return nil, err
		}
		s.logg.Warn(s.logg.WithFields(s.logg.WithMaterial(ctx, material), map[string]any{
			"requested":  input.Requested,
			"candidates": len(ids),
		}), "allocation ranking went stale, re-ranking")
	}

	result := &AllocationResult{
		PDINumber: pdi,
		Material:  material,
		Shift:     input.Shift,
		Requested: input.Requested,
		Draws:     make([]Draw, 0, len(records)),
	}
	for _, record := range records {
		if record.AllocationID != nil {
			result.AllocationID = *record.AllocationID
		}
		candidate := byID[record.BatchID]
		result.Draws = append(result.Draws, Draw{
			UsageID:   record.ID,
			BatchID:   record.BatchID,
			InvoiceNo: candidate.InvoiceNo,
			Brand:     candidate.Brand,
			Quantity:  record.Quantity,
		})
	}
	return result, nil
}

// plan ranks the material's batches and checks they can cover requested.
func (s *service) plan(ctx context.Context, material, pdi string, requested int) ([]uuid.UUID, map[uuid.UUID]Candidate, error) {
	stock, _, ordered, err := s.rank(ctx, material, pdi)
	if err != nil {
		return nil, nil, err
	}

	total := 0
	ids := make([]uuid.UUID, 0, len(ordered))
	byID := make(map[uuid.UUID]Candidate, len(ordered))
	for _, candidate := range ordered {
		total += candidate.RemainingQty
		ids = append(ids, candidate.BatchID)
		byID[candidate.BatchID] = candidate
	}
	if total < requested {
		details := map[string]any{
			"material":  material,
			"requested": requested,
			"available": total,
		}
		message := "not enough remaining stock across batches"
		if len(ordered) == 0 {
			details["reason"] = unavailableReason(stock)
			message = noAvailableMessage
		}
		return nil, nil, pkgerrors.New(pkgerrors.CodeMaterialExhausted, message).WithDetails(details)
	}
	return ids, byID, nil
}

func (s *service) rank(ctx context.Context, material, pdi string) ([]coc.BatchBalance, []string, []Candidate, error) {
	stock, err := s.ledger.ListStock(ctx, material)
	if err != nil {
		return nil, nil, nil, err
	}
	var used []string
	if pdi != "" {
		used, err = s.ledger.UsedBrands(ctx, pdi, material)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	ordered := Order(stock, used)
	s.logg.Debug(s.logg.WithFields(s.logg.WithMaterial(ctx, material), map[string]any{
		"batches":     len(stock),
		"candidates":  len(ordered),
		"used_brands": used,
	}), "ranked coc batches")
	return stock, used, ordered, nil
}

func unavailableReason(stock []coc.BatchBalance) Reason {
	if len(stock) == 0 {
		return ReasonNoBatches
	}
	return ReasonAllExhausted
}
