package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/granary-erp/granary-erp/internal/platform/httpx"
	"github.com/granary-erp/granary-erp/internal/shared"
	"github.com/granary-erp/granary-erp/internal/stock"
)

// Handler wires HTTP endpoints for purchases.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.handleRunPurchase)
	r.Get("/transactions", h.handleListTransactions)
	r.Get("/transactions/{transactionID}", h.handleGetTransaction)
}

type purchaseLineRequest struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	Unit        string  `json:"unit"`
	UnitCost    string  `json:"unit_cost"`
	MinimumQty  float64 `json:"minimum_qty" validate:"gte=0"`
	ReorderQty  float64 `json:"reorder_qty" validate:"gte=0"`
}

type runPurchaseRequest struct {
	Reference    string                `json:"reference"`
	WarehouseID  int64                 `json:"warehouse_id" validate:"gt=0"`
	SupplierName string                `json:"supplier_name"`
	Lines        []purchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID      int64                 `json:"actor_id"`
	ReceivedAt   *time.Time            `json:"received_at"`
}

func (h *Handler) handleRunPurchase(w http.ResponseWriter, r *http.Request) {
	var req runPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	txn := Transaction{
		Reference:    req.Reference,
		WarehouseID:  req.WarehouseID,
		SupplierName: req.SupplierName,
		ActorID:      req.ActorID,
	}
	if req.ReceivedAt != nil {
		txn.ReceivedAt = *req.ReceivedAt
	}
	for i, l := range req.Lines {
		cost := decimal.Zero
		if l.UnitCost != "" {
			var err error
			cost, err = decimal.NewFromString(l.UnitCost)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line "+strconv.Itoa(i)+": invalid unit cost")
				return
			}
		}
		txn.Lines = append(txn.Lines, Line{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Category:    l.Category,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
			UnitCost:    cost,
			MinimumQty:  l.MinimumQty,
			ReorderQty:  l.ReorderQty,
		})
	}

	saved, err := h.service.RunPurchase(r.Context(), txn, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.logger.Error("list purchases", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txns)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "transactionID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	txn, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondProcurementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) respondProcurementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, stock.ErrUnitMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unit Mismatch", err.Error())
	case errors.Is(err, stock.ErrDependencyUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Dependency Unavailable", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
