package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
)

type usageRecordView struct {
	UsageID      uuid.UUID   `json:"usageId"`
	AllocationID *uuid.UUID  `json:"allocationId,omitempty"`
	PDINumber    string      `json:"pdiNumber"`
	Material     string      `json:"material"`
	Shift        enums.Shift `json:"shift"`
	BatchID      uuid.UUID   `json:"batchId"`
	Quantity     int         `json:"quantity"`
	UsedAt       time.Time   `json:"usedAt"`
}

func toUsageRecordView(record *models.UsageRecord) usageRecordView {
	return usageRecordView{
		UsageID:      record.ID,
		AllocationID: record.AllocationID,
		PDINumber:    record.PDINumber,
		Material:     record.Material,
		Shift:        record.Shift,
		BatchID:      record.BatchID,
		Quantity:     record.Quantity,
		UsedAt:       record.UsedAt,
	}
}

type adjustmentView struct {
	AdjustmentID     uuid.UUID `json:"adjustmentId"`
	BatchID          uuid.UUID `json:"batchId"`
	PreviousConsumed int       `json:"previousConsumed"`
	NewConsumed      int       `json:"newConsumed"`
	Delta            int       `json:"delta"`
	Reason           string    `json:"reason"`
	Actor            string    `json:"actor"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toAdjustmentView(adj *models.ConsumptionAdjustment) adjustmentView {
	return adjustmentView{
		AdjustmentID:     adj.ID,
		BatchID:          adj.BatchID,
		PreviousConsumed: adj.PreviousConsumed,
		NewConsumed:      adj.NewConsumed,
		Delta:            adj.Delta,
		Reason:           adj.Reason,
		Actor:            adj.Actor,
		CreatedAt:        adj.CreatedAt,
	}
}

func toAdjustmentViews(adjustments []models.ConsumptionAdjustment) []adjustmentView {
	views := make([]adjustmentView, 0, len(adjustments))
	for i := range adjustments {
		views = append(views, toAdjustmentView(&adjustments[i]))
	}
	return views
}
