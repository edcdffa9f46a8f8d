package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vidblog/internal/server/database"
	"vidblog/internal/server/processor"
	"vidblog/internal/server/service"
	"vidblog/internal/server/storage"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// envelopeAllowance is the room left in the request body cap for multipart
// boundaries, part headers and small form fields.
const envelopeAllowance int64 = 1 << 20

// HealthChecker reports whether the ledger database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LedgerReader provides read access to the upload ledger.
type LedgerReader interface {
	GetStats(ctx context.Context) (*database.Stats, error)
	GetByID(ctx context.Context, storageID string) (*database.Upload, error)
}

// Handler contains the HTTP handlers for the upload gateway.
type Handler struct {
	svc       *service.IntakeService
	processor processor.Processor
	store     storage.Store
	db        HealthChecker
	ledger    LedgerReader
	metrics   *Metrics
}

// NewHandler creates a handler. db, ledger and metrics may be nil.
func NewHandler(svc *service.IntakeService, proc processor.Processor, store storage.Store, db HealthChecker, ledger LedgerReader, metrics *Metrics) *Handler {
	return &Handler{
		svc:       svc,
		processor: proc,
		store:     store,
		db:        db,
		ledger:    ledger,
		metrics:   metrics,
	}
}

// HandleAddVideo handles POST /upload/addvideo.
// The body must be multipart/form-data with a single "file" part. The part
// is validated and staged while it streams in, then handed to the
// processor, which writes the success response. Every returned error is
// answered by ErrorHandler.
func (h *Handler) HandleAddVideo(c echo.Context) error {
	start := time.Now()
	defer h.metrics.begin()()

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response().Writer, req.Body, service.MaxUploadSize+envelopeAllowance)

	mr, err := req.MultipartReader()
	if err != nil {
		err = &service.ParseError{Err: err}
		h.metrics.observe(err, 0, start)
		return err
	}

	upload, err := h.svc.Accept(req.Context(), mr)
	if err != nil {
		h.metrics.observe(err, 0, start)
		return err
	}

	err = h.processor.Process(c, upload)
	h.svc.Settle(req.Context(), upload, err)
	h.metrics.observe(err, upload.Size, start)
	return err
}

// HandleHealth handles GET /health.
// Reports database connectivity and whether the upload directory is usable.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "not configured"
	storageStatus := "ok"

	if h.db != nil {
		dbStatus = "connected"
		if err := h.db.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	if err := h.store.CheckDir(); err != nil {
		status = "degraded"
		storageStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
		"storage":  storageStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	if h.ledger == nil {
		return echo.NewHTTPError(http.StatusNotFound, "stats unavailable")
	}

	stats, err := h.ledger.GetStats(c.Request().Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve stats: %w", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_uploads":      stats.TotalUploads,
		"staged":             stats.Staged,
		"dispatched":         stats.Dispatched,
		"failed":             stats.Failed,
		"bytes_staged":       stats.BytesStaged,
		"bytes_staged_human": humanizeBytes(stats.BytesStaged),
	})
}

// HandleGetUpload handles GET /api/uploads/:id.
// Reports the ledger entry for one upload so a client can follow its status.
func (h *Handler) HandleGetUpload(c echo.Context) error {
	if h.ledger == nil {
		return echo.NewHTTPError(http.StatusNotFound, "ledger unavailable")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "upload not found")
	}

	upload, err := h.ledger.GetByID(c.Request().Context(), id.String())
	if errors.Is(err, database.ErrUploadNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "upload not found")
	}
	if err != nil {
		return fmt.Errorf("failed to retrieve upload: %w", err)
	}

	resp := echo.Map{
		"id":          upload.StorageID,
		"status":      upload.Status,
		"mime_type":   upload.MimeType,
		"size":        upload.Size,
		"digest":      upload.Digest,
		"received_at": upload.ReceivedAt,
	}
	if upload.SettledAt != nil {
		resp["settled_at"] = *upload.SettledAt
	}
	return c.JSON(http.StatusOK, resp)
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
