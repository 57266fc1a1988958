package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
)

type ledgerAuditor interface {
	AuditBatches(ctx context.Context) ([]coc.Inconsistency, error)
}

type LedgerAuditJobParams struct {
	Logger *logger.Logger
	Ledger ledgerAuditor
}

// NewLedgerAuditJob recomputes every batch balance and fails when any batch
// has remaining outside [0, received].
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("coc ledger required")
	}
	return &ledgerAuditJob{logg: params.Logger, ledger: params.Ledger}, nil
}

type ledgerAuditJob struct {
	logg   *logger.Logger
	ledger ledgerAuditor
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	found, err := j.ledger.AuditBatches(ctx)
	if err != nil {
		return fmt.Errorf("ledger audit: %w", err)
	}

	var errs error
	for _, bad := range found {
		errs = multierr.Append(errs, fmt.Errorf(
			"batch %s (invoice %s): received %d consumed %d remaining %d",
			bad.BatchID, bad.InvoiceNo, bad.ReceivedQty, bad.ConsumedQty, bad.RemainingQty,
		))
	}
	j.logg.Info(j.logg.WithField(ctx, "inconsistent_batches", len(found)), "ledger audit complete")
	return errs
}
