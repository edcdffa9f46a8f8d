package storage

import (
	"context"
	"log/slog"
	"time"

	"vidblog/internal/server/database"
)

// ExpiryLedger is the part of the upload ledger the retention sweep needs.
type ExpiryLedger interface {
	GetExpired(ctx context.Context, cutoff time.Time) ([]*database.Upload, error)
	Delete(ctx context.Context, storageID string) error
}

// RetentionService periodically removes staged uploads older than the
// retention period from both the ledger and file storage, and sweeps
// abandoned partial files left by interrupted requests.
type RetentionService struct {
	ledger    ExpiryLedger
	store     Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
}

// DefaultSweepInterval is used when a non-positive interval is given.
const DefaultSweepInterval = time.Hour

// NewRetentionService creates a retention service. ledger may be nil, in
// which case only partial files are swept.
func NewRetentionService(ledger ExpiryLedger, store Store, retention, interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &RetentionService{
		ledger:    ledger,
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the retention loop in a background goroutine.
func (rs *RetentionService) Start(ctx context.Context) {
	slog.Info("retention service started",
		"retention", rs.retention,
		"interval", rs.interval,
	)

	go func() {
		defer close(rs.done)

		ticker := time.NewTicker(rs.interval)
		defer ticker.Stop()

		rs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				rs.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("retention service stopping")
				return
			}
		}
	}()
}

// Wait blocks until the retention service has fully stopped.
func (rs *RetentionService) Wait() {
	<-rs.done
}

// RunOnce performs a single sweep and returns how many uploads were removed.
func (rs *RetentionService) RunOnce(ctx context.Context) int {
	swept, err := rs.store.SweepPartials(rs.interval)
	if err != nil {
		slog.Error("failed to sweep partial files", "error", err)
	} else if swept > 0 {
		slog.Info("removed abandoned partial files", "count", swept)
	}

	if rs.ledger == nil || rs.retention <= 0 {
		return 0
	}

	cutoff := rs.now().Add(-rs.retention)
	expired, err := rs.ledger.GetExpired(ctx, cutoff)
	if err != nil {
		slog.Error("failed to get expired uploads", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	var removed, failed int
	for _, upload := range expired {
		if err := rs.store.Delete(upload.StoredName()); err != nil {
			slog.Error("failed to delete staged file",
				"storage_id", upload.StorageID,
				"error", err,
			)
			failed++
			continue
		}

		if err := rs.ledger.Delete(ctx, upload.StorageID); err != nil {
			slog.Error("failed to delete ledger entry",
				"storage_id", upload.StorageID,
				"error", err,
			)
			failed++
			continue
		}

		removed++
	}

	slog.Info("retention sweep complete",
		"removed", removed,
		"failed", failed,
		"cutoff", cutoff,
	)
	return removed
}
