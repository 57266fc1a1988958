package coc

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/cocledger-backend/pkg/db"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/metrics"
	"github.com/angelmondragon/cocledger-backend/pkg/migrate"
)

type ledgerHarness struct {
	svc     Service
	conn    *gorm.DB
	reg     *prometheus.Registry
	logs    *syncBuffer
	metrics *metrics.LedgerMetrics
}

// syncBuffer lets concurrent commits share one log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var fixedNow = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func newLedgerHarness(t *testing.T) *ledgerHarness {
	t.Helper()

	dsn := "file:coc_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrate.AutoMigrate(conn))

	reg := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(reg)
	logs := &syncBuffer{}
	logg := logger.New(logger.Options{ServiceName: "coc-test", Level: zerolog.InfoLevel, Output: logs})

	svc, err := NewService(ServiceParams{
		Tx:      db.FromConn(conn),
		Repo:    NewRepository(conn),
		Logger:  logg,
		Metrics: ledgerMetrics,
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return &ledgerHarness{svc: svc, conn: conn, reg: reg, logs: logs, metrics: ledgerMetrics}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func (h *ledgerHarness) receipt(t *testing.T, material, brand, invoice string, qty int, received time.Time) BatchBalance {
	t.Helper()
	res, err := h.svc.RecordReceipt(context.Background(), RecordReceiptInput{
		Material:     material,
		Brand:        brand,
		InvoiceNo:    invoice,
		Quantity:     qty,
		ReceivedDate: received,
	})
	require.NoError(t, err)
	return res.Batch
}

// counterValue reads a counter from the harness registry; an empty label
// matches the unlabelled series.
func (h *ledgerHarness) counterValue(t *testing.T, name, label, value string) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, pair := range m.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
