package cocsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/metrics"
)

const (
	// FeedName keys the stored watermark of the receipt feed.
	FeedName            = "coc-receipts"
	defaultLookbackDays = 7
	cursorTTL           = 90 * 24 * time.Hour
)

// Feed returns receipts received on or after since.
type Feed interface {
	FetchReceipts(ctx context.Context, since time.Time) (*Page, error)
}

// ReceiptRecorder is the ledger entry point for receipts.
type ReceiptRecorder interface {
	RecordReceipt(ctx context.Context, input coc.RecordReceiptInput) (*coc.ReceiptResult, error)
}

// CursorStore persists the feed watermark between runs.
type CursorStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SyncCursorKey(feed string) string
}

type SyncerParams struct {
	Feed         Feed
	Ledger       ReceiptRecorder
	Cursor       CursorStore
	Logger       *logger.Logger
	Metrics      *metrics.SyncMetrics
	LookbackDays int
	Now          func() time.Time
}

// Summary counts what one sync run did with the feed.
type Summary struct {
	Since     time.Time
	Fetched   int
	Created   int
	Updated   int
	Unchanged int
	Rejected  int
	Failed    int
}

// Syncer imports feed receipts into the ledger. Rows the ledger refuses are
// counted and logged; infrastructure failures fail the run and hold the
// watermark so the next run retries them.
type Syncer struct {
	feed     Feed
	ledger   ReceiptRecorder
	cursor   CursorStore
	logg     *logger.Logger
	metrics  *metrics.SyncMetrics
	lookback int
	now      func() time.Time
}

func NewSyncer(params SyncerParams) (*Syncer, error) {
	if params.Feed == nil {
		return nil, fmt.Errorf("coc feed required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("coc ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	lookback := params.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Syncer{
		feed:     params.Feed,
		ledger:   params.Ledger,
		cursor:   params.Cursor,
		logg:     params.Logger,
		metrics:  params.Metrics,
		lookback: lookback,
		now:      now,
	}, nil
}

func (s *Syncer) Sync(ctx context.Context) (*Summary, error) {
	started := s.now().UTC()
	since, err := s.since(ctx, started)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Since: since}

	page, err := s.feed.FetchReceipts(ctx, since)
	if err != nil {
		return summary, err
	}
	summary.Fetched = len(page.Receipts) + len(page.Rejected)

	for _, rejection := range page.Rejected {
		summary.Rejected++
		s.metrics.IncRow("rejected")
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"row":        rejection.Row,
			"invoice_no": rejection.InvoiceNo,
			"reason":     rejection.Reason,
		}), "coc feed row rejected")
	}

	var errs error
	for _, receipt := range page.Receipts {
		result, err := s.ledger.RecordReceipt(ctx, receipt)
		switch {
		case err == nil:
			s.count(summary, result.Outcome)
		case refusedByLedger(err):
			summary.Rejected++
			s.metrics.IncRow("rejected")
			s.logg.Warn(s.logg.WithFields(s.logg.WithMaterial(ctx, receipt.Material), map[string]any{
				"invoice_no": receipt.InvoiceNo,
				"reason":     err.Error(),
			}), "coc feed receipt refused by ledger")
		default:
			summary.Failed++
			s.metrics.IncRow("failed")
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", receipt.InvoiceNo, err))
		}
	}
	if errs != nil {
		return summary, errs
	}

	if err := s.advance(ctx, started); err != nil {
		return summary, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"since":     since.Format(sinceLayout),
		"fetched":   summary.Fetched,
		"created":   summary.Created,
		"updated":   summary.Updated,
		"unchanged": summary.Unchanged,
		"rejected":  summary.Rejected,
	}), "coc feed sync complete")
	return summary, nil
}

// refusedByLedger reports whether the ledger turned the row down on its
// content. Such rows are skipped for good; anything else holds the cursor.
// A version conflict that outlived its retries is transient, not a refusal.
func refusedByLedger(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() == pkgerrors.CodeConflict {
		return false
	}
	return pkgerrors.MetadataFor(typed.Code()).HTTPStatus < http.StatusInternalServerError
}

func (s *Syncer) count(summary *Summary, outcome coc.ReceiptOutcome) {
	switch outcome {
	case coc.ReceiptCreated:
		summary.Created++
	case coc.ReceiptUpdated:
		summary.Updated++
	default:
		summary.Unchanged++
	}
	s.metrics.IncRow(string(outcome))
}

// since resumes from the stored watermark, or looks back a fixed window when
// none is stored yet.
func (s *Syncer) since(ctx context.Context, now time.Time) (time.Time, error) {
	fallback := truncateDay(now).AddDate(0, 0, -s.lookback)
	if s.cursor == nil {
		return fallback, nil
	}
	value, err := s.cursor.Get(ctx, s.cursor.SyncCursorKey(FeedName))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fallback, nil
		}
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read sync cursor")
	}
	stored, err := time.Parse(sinceLayout, value)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "cursor", value), "discarding unreadable sync cursor")
		return fallback, nil
	}
	return stored, nil
}

func (s *Syncer) advance(ctx context.Context, started time.Time) error {
	if s.cursor == nil {
		return nil
	}
	key := s.cursor.SyncCursorKey(FeedName)
	if err := s.cursor.Set(ctx, key, truncateDay(started).Format(sinceLayout), cursorTTL); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store sync cursor")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
