package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
	"github.com/angelmondragon/cocledger-backend/pkg/enums"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

type stubSource struct {
	stock    []coc.BatchBalance
	pages    map[string]*coc.UsageHistoryPage
	err      error
	requests []pagination.Params
}

func (s *stubSource) ListStock(context.Context, string) ([]coc.BatchBalance, error) {
	return s.stock, s.err
}

func (s *stubSource) ListUsageByPDI(_ context.Context, _ string, params pagination.Params) (*coc.UsageHistoryPage, error) {
	s.requests = append(s.requests, params)
	if s.err != nil {
		return nil, s.err
	}
	return s.pages[params.Cursor], nil
}

func newReports(t *testing.T, source Source) Service {
	t.Helper()
	svc, err := NewService(source, logger.New(logger.Options{ServiceName: "reports-test", Output: io.Discard}))
	require.NoError(t, err)
	return svc
}

func readRows(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestUtilisation(t *testing.T) {
	assert.Equal(t, "0", Utilisation(0, 1000).String())
	assert.Equal(t, "33.33", Utilisation(1, 3).String())
	assert.Equal(t, "100", Utilisation(500, 500).String())
	assert.Equal(t, "0", Utilisation(10, 0).String())
}

func TestStockWorkbook(t *testing.T) {
	document := "COC-77"
	source := &stubSource{stock: []coc.BatchBalance{
		{
			BatchID: uuid.New(), InvoiceNo: "INV-001", Material: "Solar Cell", Brand: "X",
			ReceivedDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), COCDocumentNo: &document,
			ReceivedQty: 1000, ConsumedQty: 250, RemainingQty: 750, Status: enums.BatchStatusActive,
		},
		{
			BatchID: uuid.New(), InvoiceNo: "INV-002", Material: "Solar Cell", Brand: "Y",
			ReceivedDate: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
			ReceivedQty:  500, ConsumedQty: 500, RemainingQty: 0, Status: enums.BatchStatusExhausted,
		},
	}}

	data, err := newReports(t, source).StockWorkbook(context.Background(), "Solar Cell")
	require.NoError(t, err)

	rows := readRows(t, data, stockSheet)
	require.Len(t, rows, 3)
	assert.Equal(t, "Invoice No", rows[0][0])
	assert.Equal(t, []string{"INV-001", "Solar Cell", "X", "2025-01-01", "COC-77", "1000", "250", "750", "25", "active"}, rows[1])
	assert.Equal(t, "", rows[2][4])
	assert.Equal(t, "100", rows[2][8])
	assert.Equal(t, "exhausted", rows[2][9])
}

func TestUsageWorkbookFollowsCursor(t *testing.T) {
	usedAt := time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)
	row := func(invoice string, qty, gap int) coc.UsageRow {
		return coc.UsageRow{
			UsageID: uuid.New(), PDINumber: "Lot-7", Material: "Solar Cell", Shift: enums.ShiftA,
			BatchID: uuid.New(), InvoiceNo: invoice, Brand: "X", QtyUsed: qty, RemainingGap: gap, UsedAt: usedAt,
		}
	}
	source := &stubSource{pages: map[string]*coc.UsageHistoryPage{
		"":       {Rows: []coc.UsageRow{row("INV-001", 300, 700)}, NextCursor: "page-2"},
		"page-2": {Rows: []coc.UsageRow{row("INV-002", 200, 300)}},
	}}

	data, err := newReports(t, source).UsageWorkbook(context.Background(), "Lot-7")
	require.NoError(t, err)

	require.Len(t, source.requests, 2)
	assert.Equal(t, pagination.MaxLimit, source.requests[0].Limit)
	assert.Equal(t, "page-2", source.requests[1].Cursor)

	rows := readRows(t, data, usageSheet)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Lot-7", "2025-01-10 08:30:00", "A", "Solar Cell", "INV-001", "X", "300", "700"}, rows[1])
	assert.Equal(t, "INV-002", rows[2][4])
}

func TestWorkbookPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := newReports(t, &stubSource{err: boom})

	_, err := svc.StockWorkbook(context.Background(), "")
	assert.ErrorIs(t, err, boom)
	_, err = svc.UsageWorkbook(context.Background(), "Lot-7")
	assert.ErrorIs(t, err, boom)

	_, err = NewService(nil, nil)
	assert.Error(t, err)
}
