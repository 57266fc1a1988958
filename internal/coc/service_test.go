package coc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cocledger-backend/pkg/db/models"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	h := newLedgerHarness(t)
	_, err = NewService(ServiceParams{Tx: nil, Repo: NewRepository(h.conn)})
	require.Error(t, err)
}

func TestRecordReceiptIsIdempotent(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	input := RecordReceiptInput{
		Material:     "Solar Cell",
		Brand:        "X",
		InvoiceNo:    "INV-001",
		Quantity:     1000,
		ReceivedDate: day(2025, time.January, 1),
	}

	first, err := h.svc.RecordReceipt(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, ReceiptCreated, first.Outcome)

	input.Material = "  Solar Cell "
	second, err := h.svc.RecordReceipt(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, ReceiptUnchanged, second.Outcome)
	assert.Equal(t, first.Batch.BatchID, second.Batch.BatchID)

	var count int64
	require.NoError(t, h.conn.Model(&models.MaterialBatch{}).Where("invoice_no = ?", "INV-001").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordReceiptRejectsInvoiceForOtherBrand(t *testing.T) {
	h := newLedgerHarness(t)
	h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))

	_, err := h.svc.RecordReceipt(context.Background(), RecordReceiptInput{
		Material:     "Solar Cell",
		Brand:        "Y",
		InvoiceNo:    "INV-001",
		Quantity:     1000,
		ReceivedDate: day(2025, time.January, 1),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicateInvoice), "got %v", err)
	assert.Equal(t, float64(1), h.counterValue(t, "cocledger_receipts_total", "outcome", "rejected"))
}

func TestRecordReceiptUpdatesChangedQuantity(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	batch := h.receipt(t, "Glass", "Borosil", "INV-100", 500, day(2025, time.January, 3))

	_, err := h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-1", Material: "Glass", Shift: enums.ShiftA, BatchID: batch.BatchID, Quantity: 200,
	})
	require.NoError(t, err)

	res, err := h.svc.RecordReceipt(ctx, RecordReceiptInput{
		Material: "Glass", Brand: "Borosil", InvoiceNo: "INV-100", Quantity: 600, ReceivedDate: day(2025, time.January, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, ReceiptUpdated, res.Outcome)
	assert.Equal(t, 400, res.Batch.RemainingQty)

	_, err = h.svc.RecordReceipt(ctx, RecordReceiptInput{
		Material: "Glass", Brand: "Borosil", InvoiceNo: "INV-100", Quantity: 150, ReceivedDate: day(2025, time.January, 3),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidAdjustment), "got %v", err)

	remaining, err := h.svc.GetRemaining(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 400, remaining)
}

func TestRecordReceiptValidation(t *testing.T) {
	h := newLedgerHarness(t)
	cases := []RecordReceiptInput{
		{Brand: "X", InvoiceNo: "INV-1", Quantity: 1, ReceivedDate: day(2025, 1, 1)},
		{Material: "Cell", InvoiceNo: "INV-1", Quantity: 1, ReceivedDate: day(2025, 1, 1)},
		{Material: "Cell", Brand: "X", Quantity: 1, ReceivedDate: day(2025, 1, 1)},
		{Material: "Cell", Brand: "X", InvoiceNo: "INV-1", Quantity: 0, ReceivedDate: day(2025, 1, 1)},
		{Material: "Cell", Brand: "X", InvoiceNo: "INV-1", Quantity: 5},
	}
	for i, input := range cases {
		_, err := h.svc.RecordReceipt(context.Background(), input)
		require.Error(t, err, "case %d", i)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "case %d: %v", i, err)
	}
}

func TestCommitUsageConservesQuantity(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	batch := h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))

	for _, qty := range []int{300, 250, 450} {
		record, err := h.svc.CommitUsage(ctx, CommitUsageInput{
			PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftB, BatchID: batch.BatchID, Quantity: qty,
		})
		require.NoError(t, err)
		assert.Equal(t, qty, record.Quantity)
		assert.Equal(t, fixedNow, record.UsedAt)

		balance, err := h.svc.GetBalance(ctx, batch.BatchID)
		require.NoError(t, err)
		assert.Equal(t, balance.ReceivedQty, balance.ConsumedQty+balance.RemainingQty)
		assert.GreaterOrEqual(t, balance.RemainingQty, 0)
	}

	balance, err := h.svc.GetBalance(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.RemainingQty)

	var stored models.MaterialBatch
	require.NoError(t, h.conn.First(&stored, "id = ?", batch.BatchID).Error)
	assert.Equal(t, enums.BatchStatusExhausted, stored.Status)
	assert.Equal(t, 3, stored.Version)

	_, err = h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftB, BatchID: batch.BatchID, Quantity: 1,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientQuantity), "got %v", err)
}

func TestCommitUsageRejectsUnknownBatch(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	batch := h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))

	_, err := h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftA, BatchID: uuid.New(), Quantity: 1,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnknownBatch), "got %v", err)

	_, err = h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-7", Material: "EVA", Shift: enums.ShiftA, BatchID: batch.BatchID, Quantity: 1,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnknownBatch), "batch of another material should be unknown, got %v", err)

	_, err = h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-7", Material: "Solar Cell", Shift: "night", BatchID: batch.BatchID, Quantity: 1,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestConcurrentCommitsCannotOverdraw(t *testing.T) {
	h := newLedgerHarness(t)
	batch := h.receipt(t, "Solar Cell", "X", "INV-001", 500, day(2025, time.January, 1))

	const qty = 300
	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.svc.CommitUsage(context.Background(), CommitUsageInput{
				PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftA, BatchID: batch.BatchID, Quantity: qty,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	successes, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case pkgerrors.Is(err, pkgerrors.CodeInsufficientQuantity):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, insufficient)

	remaining, err := h.svc.GetRemaining(context.Background(), batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 200, remaining)
}

func TestCommitAllocationIsAllOrNothing(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	a := h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))
	b := h.receipt(t, "Solar Cell", "Y", "INV-002", 500, day(2025, time.January, 5))

	_, err := h.svc.CommitAllocation(ctx, AllocationInput{
		PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftA, Requested: 2000,
		Candidates: []uuid.UUID{a.BatchID, b.BatchID},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeMaterialExhausted), "got %v", err)

	var count int64
	require.NoError(t, h.conn.Model(&models.UsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	records, err := h.svc.CommitAllocation(ctx, AllocationInput{
		PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftA, Requested: 1200,
		Candidates: []uuid.UUID{a.BatchID, b.BatchID, a.BatchID},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1000, records[0].Quantity)
	assert.Equal(t, 200, records[1].Quantity)
	require.NotNil(t, records[0].AllocationID)
	assert.Equal(t, *records[0].AllocationID, *records[1].AllocationID)
}

func TestAdjustConsumedOverride(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	batch := h.receipt(t, "Ribbon", "Ulbrich", "INV-300", 100, day(2025, time.January, 2))

	_, err := h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-2", Material: "Ribbon", Shift: enums.ShiftGeneral, BatchID: batch.BatchID, Quantity: 40,
	})
	require.NoError(t, err)

	_, err = h.svc.AdjustConsumedOverride(ctx, AdjustConsumedInput{BatchID: batch.BatchID, NewConsumed: 101, Reason: "recount", Actor: "qa"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidAdjustment), "got %v", err)
	_, err = h.svc.AdjustConsumedOverride(ctx, AdjustConsumedInput{BatchID: batch.BatchID, NewConsumed: -1, Reason: "recount", Actor: "qa"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidAdjustment), "got %v", err)
	_, err = h.svc.AdjustConsumedOverride(ctx, AdjustConsumedInput{BatchID: batch.BatchID, NewConsumed: 10, Actor: "qa"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
	_, err = h.svc.AdjustConsumedOverride(ctx, AdjustConsumedInput{BatchID: uuid.New(), NewConsumed: 10, Reason: "recount", Actor: "qa"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnknownBatch), "got %v", err)

	adj, err := h.svc.AdjustConsumedOverride(ctx, AdjustConsumedInput{BatchID: batch.BatchID, NewConsumed: 70, Reason: "scrap recount", Actor: "qa-lead"})
	require.NoError(t, err)
	assert.Equal(t, 40, adj.PreviousConsumed)
	assert.Equal(t, 70, adj.NewConsumed)
	assert.Equal(t, 30, adj.Delta)

	balance, err := h.svc.GetBalance(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 70, balance.ConsumedQty)
	assert.Equal(t, 30, balance.RemainingQty)

	// usage records are untouched by the override
	var usageSum int64
	require.NoError(t, h.conn.Model(&models.UsageRecord{}).Select("COALESCE(SUM(quantity), 0)").Where("batch_id = ?", batch.BatchID).Scan(&usageSum).Error)
	assert.EqualValues(t, 40, usageSum)

	_, err = h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-2", Material: "Ribbon", Shift: enums.ShiftA, BatchID: batch.BatchID, Quantity: 31,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientQuantity), "got %v", err)

	trail, err := h.svc.ListAdjustments(ctx, batch.BatchID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "qa-lead", trail[0].Actor)
}

func TestGetRemainingSurfacesLedgerInconsistency(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	batch := h.receipt(t, "Solar Cell", "X", "INV-900", 100, day(2025, time.January, 1))

	// simulate a defect that bypassed the commit path
	require.NoError(t, h.conn.Create(&models.UsageRecord{
		PDINumber: "Lot-9", Material: "Solar Cell", Shift: enums.ShiftA, BatchID: batch.BatchID, Quantity: 150, UsedAt: fixedNow,
	}).Error)

	_, err := h.svc.GetRemaining(ctx, batch.BatchID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeLedgerInconsistency), "got %v", err)
	assert.False(t, pkgerrors.MetadataFor(pkgerrors.CodeLedgerInconsistency).Retryable)
	assert.Contains(t, h.logs.String(), "ledger inconsistency detected")

	stock, err := h.svc.ListStock(ctx, "Solar Cell")
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, -50, stock[0].RemainingQty, "inconsistent values are reported, never clamped")

	found, err := h.svc.AuditBatches(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "INV-900", found[0].InvoiceNo)
	assert.Equal(t, float64(3), h.counterValue(t, "cocledger_ledger_inconsistencies_total", "", ""))
}

func TestListUsageByPDIPagesWithRemainingGap(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	a := h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))
	b := h.receipt(t, "EVA", "First", "INV-050", 300, day(2025, time.January, 4))

	base := day(2025, time.February, 1)
	for i, in := range []CommitUsageInput{
		{Material: "Solar Cell", BatchID: a.BatchID, Quantity: 100},
		{Material: "EVA", BatchID: b.BatchID, Quantity: 50},
		{Material: "Solar Cell", BatchID: a.BatchID, Quantity: 200},
	} {
		at := base.Add(time.Duration(i) * time.Hour)
		in.PDINumber = "Lot-7"
		in.Shift = enums.ShiftC
		in.UsedAt = &at
		_, err := h.svc.CommitUsage(ctx, in)
		require.NoError(t, err)
	}
	_, err := h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-8", Material: "Solar Cell", Shift: enums.ShiftA, BatchID: a.BatchID, Quantity: 10,
	})
	require.NoError(t, err)

	page, err := h.svc.ListUsageByPDI(ctx, "Lot-7", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "INV-001", page.Rows[0].InvoiceNo)
	assert.Equal(t, "X", page.Rows[0].Brand)
	assert.Equal(t, 100, page.Rows[0].QtyUsed)
	assert.Equal(t, 690, page.Rows[0].RemainingGap)
	assert.Equal(t, 250, page.Rows[1].RemainingGap)

	next, err := h.svc.ListUsageByPDI(ctx, "Lot-7", pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Rows, 1)
	assert.Equal(t, 200, next.Rows[0].QtyUsed)
	assert.Empty(t, next.NextCursor)

	_, err = h.svc.ListUsageByPDI(ctx, "Lot-7", pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestListMaterialsAndUsedBrands(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))
	b := h.receipt(t, "Solar Cell", "Y", "INV-002", 500, day(2025, time.January, 5))
	h.receipt(t, "EVA", "First", "INV-050", 300, day(2025, time.January, 4))

	materials, err := h.svc.ListMaterials(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"EVA", "Solar Cell"}, materials)

	_, err = h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftA, BatchID: b.BatchID, Quantity: 10,
	})
	require.NoError(t, err)

	brands, err := h.svc.UsedBrands(ctx, "Lot-7", "Solar Cell")
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, brands)

	brands, err = h.svc.UsedBrands(ctx, "Lot-8", "Solar Cell")
	require.NoError(t, err)
	assert.Empty(t, brands)
}

func TestListStockFiltersByMaterial(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	cell := h.receipt(t, "Solar Cell", "X", "INV-001", 1000, day(2025, time.January, 1))
	h.receipt(t, "EVA Sheet", "Q", "INV-050", 40, day(2025, time.January, 2))

	_, err := h.svc.CommitUsage(ctx, CommitUsageInput{
		PDINumber: "Lot-1", Material: "Solar Cell", Shift: enums.ShiftA, BatchID: cell.BatchID, Quantity: 1000,
	})
	require.NoError(t, err)

	stock, err := h.svc.ListStock(ctx, " Solar Cell ")
	require.NoError(t, err)
	require.Len(t, stock, 1)
	assert.Equal(t, 1000, stock[0].ConsumedQty)
	assert.Equal(t, 0, stock[0].RemainingQty)
	assert.Equal(t, enums.BatchStatusExhausted, stock[0].Status)

	all, err := h.svc.ListStock(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := h.svc.AuditBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}
