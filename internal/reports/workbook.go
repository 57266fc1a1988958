package reports

import (
	"bytes"
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/pagination"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	stockSheet = "Stock"
	usageSheet = "Usage"
	dateLayout = "2006-01-02"
)

var (
	stockHeader = []any{"Invoice No", "Material", "Brand", "Received Date", "COC Document", "Received Qty", "Consumed Qty", "Remaining Qty", "Utilisation %", "Status"}
	usageHeader = []any{"PDI Number", "Used At", "Shift", "Material", "Invoice No", "Brand", "Qty Used", "Remaining Gap"}
	hundred     = decimal.NewFromInt(100)
)

// Source is the read side of the ledger the exports draw from.
type Source interface {
	ListStock(ctx context.Context, material string) ([]coc.BatchBalance, error)
	ListUsageByPDI(ctx context.Context, pdiNumber string, params pagination.Params) (*coc.UsageHistoryPage, error)
}

// Service renders ledger views as xlsx workbooks.
type Service interface {
	StockWorkbook(ctx context.Context, material string) ([]byte, error)
	UsageWorkbook(ctx context.Context, pdiNumber string) ([]byte, error)
}

type service struct {
	source Source
	logg   *logger.Logger
}

func NewService(source Source, logg *logger.Logger) (Service, error) {
	if source == nil {
		return nil, fmt.Errorf("report source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{source: source, logg: logg}, nil
}

func (s *service) StockWorkbook(ctx context.Context, material string) ([]byte, error) {
	balances, err := s.source.ListStock(ctx, material)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(balances))
	for _, b := range balances {
		document := ""
		if b.COCDocumentNo != nil {
			document = *b.COCDocumentNo
		}
		rows = append(rows, []any{
			b.InvoiceNo,
			b.Material,
			b.Brand,
			b.ReceivedDate.Format(dateLayout),
			document,
			b.ReceivedQty,
			b.ConsumedQty,
			b.RemainingQty,
			Utilisation(b.ConsumedQty, b.ReceivedQty).InexactFloat64(),
			string(b.Status),
		})
	}

	data, err := render(stockSheet, stockHeader, rows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render stock workbook")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"material": material, "rows": len(rows)}), "stock workbook rendered")
	return data, nil
}

// UsageWorkbook walks every page of the lot's usage history.
func (s *service) UsageWorkbook(ctx context.Context, pdiNumber string) ([]byte, error) {
	var rows [][]any
	params := pagination.Params{Limit: pagination.MaxLimit}
	for {
		page, err := s.source.ListUsageByPDI(ctx, pdiNumber, params)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			rows = append(rows, []any{
				r.PDINumber,
				r.UsedAt.UTC().Format("2006-01-02 15:04:05"),
				string(r.Shift),
				r.Material,
				r.InvoiceNo,
				r.Brand,
				r.QtyUsed,
				r.RemainingGap,
			})
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}

	data, err := render(usageSheet, usageHeader, rows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render usage workbook")
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithPDINumber(ctx, pdiNumber), map[string]any{"rows": len(rows)}), "usage workbook rendered")
	return data, nil
}

// Utilisation is consumed/received as a percentage rounded to two places.
func Utilisation(consumed, received int) decimal.Decimal {
	if received <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(consumed)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(received))).
		Round(2)
}

func render(sheet string, header []any, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
