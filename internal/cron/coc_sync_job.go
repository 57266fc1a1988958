package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cocledger-backend/internal/cocsync"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
)

type receiptSyncer interface {
	Sync(ctx context.Context) (*cocsync.Summary, error)
}

type COCSyncJobParams struct {
	Logger *logger.Logger
	Syncer receiptSyncer
}

// NewCOCSyncJob imports the supplier receipt feed into the ledger.
func NewCOCSyncJob(params COCSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("receipt syncer required")
	}
	return &cocSyncJob{logg: params.Logger, syncer: params.Syncer}, nil
}

type cocSyncJob struct {
	logg   *logger.Logger
	syncer receiptSyncer
}

func (j *cocSyncJob) Name() string { return "coc-receipt-sync" }

func (j *cocSyncJob) Run(ctx context.Context) error {
	summary, err := j.syncer.Sync(ctx)
	if err != nil {
		if summary != nil {
			ctx = j.logg.WithFields(ctx, map[string]any{
				"fetched": summary.Fetched,
				"failed":  summary.Failed,
			})
		}
		j.logg.Warn(ctx, "receipt sync incomplete; watermark held")
		return fmt.Errorf("coc receipt sync: %w", err)
	}
	if summary.Rejected > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "rejected", summary.Rejected), "receipt feed contained rejected rows")
	}
	return nil
}
