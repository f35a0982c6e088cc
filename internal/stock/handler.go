package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/granary-erp/granary-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock inspection and manual adjustments.
type Handler struct {
	logger   *slog.Logger
	ledger   *Ledger
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/warehouses/{warehouseID}/records", h.handleListRecords)
	r.Get("/warehouses/{warehouseID}/overview", h.handleWarehouseOverview)
	r.Get("/records/{recordID}", h.handleGetRecord)
	r.Get("/records/{recordID}/movements", h.handleListMovements)
	r.Get("/records/{recordID}/verify", h.handleVerifyRecord)
	r.Post("/movements", h.handleApplyMovement)
}

type recordResponse struct {
	ID          int64   `json:"id"`
	CatalogID   int64   `json:"catalog_id,omitempty"`
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	SubCategory string  `json:"subcategory,omitempty"`
	WarehouseID int64   `json:"warehouse_id"`
	Quantity    float64 `json:"quantity"`
	MinimumQty  float64 `json:"minimum_qty"`
	ReorderQty  float64 `json:"reorder_qty"`
	Unit        string  `json:"unit,omitempty"`
	Status      Status  `json:"status"`
}

func toRecordResponse(rec Record) recordResponse {
	return recordResponse{
		ID:          rec.ID,
		CatalogID:   rec.CatalogID,
		Name:        rec.Name,
		Category:    rec.Category,
		SubCategory: rec.SubCategory,
		WarehouseID: rec.WarehouseID,
		Quantity:    rec.Quantity,
		MinimumQty:  rec.MinimumQty,
		ReorderQty:  rec.ReorderQty,
		Unit:        rec.Unit,
		Status:      rec.Status,
	}
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := pathInt64(r, "warehouseID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse id")
		return
	}
	records, err := h.ledger.WarehouseRecords(r.Context(), warehouseID)
	if err != nil {
		h.logger.Error("list stock records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]recordResponse, len(records))
	for i, rec := range records {
		out[i] = toRecordResponse(rec)
	}
	httpx.JSON(w, http.StatusOK, out)
}

type movementResponse struct {
	ID            int64     `json:"id"`
	RecordID      int64     `json:"record_id"`
	Direction     Direction `json:"direction"`
	Quantity      float64   `json:"quantity"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	WarehouseID   int64     `json:"warehouse_id"`
	PostedAt      time.Time `json:"posted_at"`
	ActorID       int64     `json:"actor_id,omitempty"`
}

func toMovementResponses(movements []Movement) []movementResponse {
	out := make([]movementResponse, len(movements))
	for i, m := range movements {
		out[i] = movementResponse{
			ID:            m.ID,
			RecordID:      m.RecordID,
			Direction:     m.Direction,
			Quantity:      m.Quantity,
			Reason:        m.Reason,
			CorrelationID: m.CorrelationID,
			WarehouseID:   m.WarehouseID,
			PostedAt:      m.PostedAt,
			ActorID:       m.ActorID,
		}
	}
	return out
}

type overviewResponse struct {
	WarehouseID     int64              `json:"warehouse_id"`
	Records         []recordResponse   `json:"records"`
	StatusBreakdown map[Status]int     `json:"status_breakdown"`
	RecentMovements []movementResponse `json:"recent_movements"`
}

// handleWarehouseOverview loads the three read models of a warehouse in
// parallel. All reads run against committed state; a torn view between them
// is acceptable on this display path.
func (h *Handler) handleWarehouseOverview(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := pathInt64(r, "warehouseID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var out overviewResponse
	out.WarehouseID = warehouseID

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		records, err := h.ledger.WarehouseRecords(ctx, warehouseID)
		if err != nil {
			return err
		}
		out.Records = make([]recordResponse, len(records))
		for i, rec := range records {
			out.Records[i] = toRecordResponse(rec)
		}
		return nil
	})

	g.Go(func() error {
		breakdown, err := h.ledger.StatusBreakdown(ctx, warehouseID)
		if err != nil {
			return err
		}
		out.StatusBreakdown = breakdown
		return nil
	})

	g.Go(func() error {
		movements, err := h.ledger.WarehouseMovements(ctx, warehouseID, limit)
		if err != nil {
			return err
		}
		out.RecentMovements = toMovementResponses(movements)
		return nil
	})

	if err := g.Wait(); err != nil {
		h.respondStockError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathInt64(r, "recordID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	rec, err := h.ledger.GetRecord(r.Context(), recordID)
	if err != nil {
		h.respondStockError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathInt64(r, "recordID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.ledger.Movements(r.Context(), recordID, limit)
	if err != nil {
		h.respondStockError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponses(movements))
}

func (h *Handler) handleVerifyRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathInt64(r, "recordID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	drift, err := h.ledger.VerifyRecord(r.Context(), recordID)
	if err != nil {
		h.respondStockError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"record_id": recordID, "drift": drift, "consistent": drift == 0})
}

type applyMovementRequest struct {
	RecordID      int64   `json:"record_id" validate:"required,gt=0"`
	Direction     string  `json:"direction" validate:"required,oneof=in out"`
	Quantity      float64 `json:"quantity" validate:"required,gt=0"`
	Unit          string  `json:"unit"`
	Reason        string  `json:"reason" validate:"required"`
	CorrelationID string  `json:"correlation_id"`
	ActorID       int64   `json:"actor_id"`
}

func (h *Handler) handleApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req applyMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, mv, err := h.ledger.ApplyMovement(r.Context(), MovementInput{
		RecordID:      req.RecordID,
		Direction:     Direction(req.Direction),
		Quantity:      req.Quantity,
		Unit:          req.Unit,
		Reason:        req.Reason,
		CorrelationID: req.CorrelationID,
		ActorID:       req.ActorID,
	})
	if err != nil {
		h.respondStockError(w, err)
		return
	}
	out := toMovementResponses([]Movement{mv})
	httpx.JSON(w, http.StatusCreated, map[string]any{"record": toRecordResponse(rec), "movement": out[0]})
}

func (h *Handler) respondStockError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrNoMatch):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidMovement), errors.Is(err, ErrUnitMismatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrDependencyUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Dependency Unavailable", err.Error())
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
