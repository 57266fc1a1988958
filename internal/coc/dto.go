package coc

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cocledger-backend/pkg/enums"
)

// RecordReceiptInput registers one supplier shipment.
type RecordReceiptInput struct {
	Material      string    `json:"material" validate:"required,max=200"`
	Brand         string    `json:"brand" validate:"required,max=200"`
	InvoiceNo     string    `json:"invoiceNo" validate:"required,max=100"`
	Quantity      int       `json:"quantity" validate:"gt=0"`
	ReceivedDate  time.Time `json:"receivedDate" validate:"required"`
	COCDocumentNo *string   `json:"cocDocumentNo,omitempty" validate:"omitempty,max=100"`
}

// ReceiptOutcome reports what RecordReceipt did with the invoice.
type ReceiptOutcome string

const (
	ReceiptCreated   ReceiptOutcome = "created"
	ReceiptUpdated   ReceiptOutcome = "updated"
	ReceiptUnchanged ReceiptOutcome = "unchanged"
)

type ReceiptResult struct {
	Batch   BatchBalance   `json:"batch"`
	Outcome ReceiptOutcome `json:"outcome"`
}

// CommitUsageInput books quantity units of material from one batch.
type CommitUsageInput struct {
	PDINumber string      `json:"pdiNumber" validate:"required,max=100"`
	Material  string      `json:"material" validate:"required,max=200"`
	Shift     enums.Shift `json:"shift" validate:"required,oneof=A B C G"`
	BatchID   uuid.UUID   `json:"batchId" validate:"required"`
	Quantity  int         `json:"quantity" validate:"gt=0"`
	UsedAt    *time.Time  `json:"usedAt,omitempty"`
}

// AllocationInput draws Requested units across Candidates in the given order.
type AllocationInput struct {
	PDINumber  string
	Material   string
	Shift      enums.Shift
	Requested  int
	Candidates []uuid.UUID
	UsedAt     *time.Time
}

// AdjustConsumedInput overrides the consumed quantity of a batch.
type AdjustConsumedInput struct {
	BatchID     uuid.UUID `json:"-"`
	NewConsumed int       `json:"newConsumed" validate:"gte=0"`
	Reason      string    `json:"reason" validate:"required,max=500"`
	Actor       string    `json:"actor" validate:"required,max=200"`
}

// BatchBalance is a batch with its derived consumption figures.
type BatchBalance struct {
	BatchID       uuid.UUID         `json:"batchId"`
	InvoiceNo     string            `json:"invoiceNo"`
	Material      string            `json:"material"`
	Brand         string            `json:"brand"`
	ReceivedDate  time.Time         `json:"receivedDate"`
	COCDocumentNo *string           `json:"cocDocumentNo,omitempty"`
	ReceivedQty   int               `json:"receivedQty"`
	ConsumedQty   int               `json:"consumedQty"`
	RemainingQty  int               `json:"remainingQty"`
	Status        enums.BatchStatus `json:"status"`
}

// Consistent reports whether 0 <= remaining <= received.
func (b BatchBalance) Consistent() bool {
	return b.RemainingQty >= 0 && b.RemainingQty <= b.ReceivedQty
}

// UsageRow is one line of a PDI usage history.
type UsageRow struct {
	UsageID      uuid.UUID   `json:"usageId"`
	AllocationID *uuid.UUID  `json:"allocationId,omitempty"`
	PDINumber    string      `json:"pdiNumber"`
	Material     string      `json:"material"`
	Shift        enums.Shift `json:"shift"`
	BatchID      uuid.UUID   `json:"batchId"`
	InvoiceNo    string      `json:"invoiceNo"`
	Brand        string      `json:"brand"`
	QtyUsed      int         `json:"qtyUsed"`
	RemainingGap int         `json:"remainingGap"`
	UsedAt       time.Time   `json:"usedAt"`
}

type UsageHistoryPage struct {
	Rows       []UsageRow `json:"rows"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// Inconsistency describes a batch whose derived remaining is out of bounds.
type Inconsistency struct {
	BatchID      uuid.UUID `json:"batchId"`
	InvoiceNo    string    `json:"invoiceNo"`
	Material     string    `json:"material"`
	ReceivedQty  int       `json:"receivedQty"`
	ConsumedQty  int       `json:"consumedQty"`
	RemainingQty int       `json:"remainingQty"`
}
