package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/granary-erp/granary-erp/internal/platform/httpx"
	"github.com/granary-erp/granary-erp/internal/shared"
	"github.com/granary-erp/granary-erp/internal/stock"
)

// Handler wires HTTP endpoints for production batches.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleRunBatch)
	r.Get("/batches", h.handleListBatches)
	r.Get("/batches/{batchID}", h.handleGetBatch)
}

type outputLineRequest struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	UnitWeight  float64 `json:"unit_weight" validate:"gt=0"`
	UnitCount   int     `json:"unit_count" validate:"gt=0"`
	WarehouseID int64   `json:"warehouse_id" validate:"gt=0"`
}

type runBatchRequest struct {
	Reference         string              `json:"reference"`
	SourceWarehouseID int64               `json:"source_warehouse_id" validate:"gt=0"`
	MaterialID        int64               `json:"material_id"`
	MaterialName      string              `json:"material_name"`
	MaterialCommodity string              `json:"material_commodity"`
	RequestedQty      float64             `json:"requested_qty" validate:"gt=0"`
	Unit              string              `json:"unit"`
	Outputs           []outputLineRequest `json:"outputs" validate:"required,min=1,dive"`
	ActorID           int64               `json:"actor_id"`
}

func (h *Handler) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req runBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	batch := Batch{
		Reference:         req.Reference,
		SourceWarehouseID: req.SourceWarehouseID,
		Material: stock.ProductRef{
			CatalogID: req.MaterialID,
			Name:      req.MaterialName,
			Commodity: req.MaterialCommodity,
		},
		RequestedQty: req.RequestedQty,
		Unit:         req.Unit,
		ActorID:      req.ActorID,
	}
	for _, l := range req.Outputs {
		batch.Outputs = append(batch.Outputs, OutputLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitWeight:  l.UnitWeight,
			UnitCount:   l.UnitCount,
			WarehouseID: l.WarehouseID,
		})
	}

	saved, err := h.service.RunProduction(r.Context(), batch, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondProductionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := h.service.ListBatches(r.Context(), limit)
	if err != nil {
		h.logger.Error("list production batches", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		h.respondProductionError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) respondProductionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrNoMatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Batch Rejected", err.Error())
	case errors.Is(err, ErrOutputsExceedInput):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Batch Rejected", err.Error())
	case errors.Is(err, stock.ErrDependencyUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Dependency Unavailable", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("production request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
