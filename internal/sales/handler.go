package sales

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

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.handleRunSale)
	r.Get("/transactions", h.handleListTransactions)
	r.Get("/transactions/{transactionID}", h.handleGetTransaction)
	r.Post("/transactions/{transactionID}/return", h.handleReturn)
}

type saleLineRequest struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	Unit        string  `json:"unit"`
	UnitPrice   string  `json:"unit_price"`
}

type runSaleRequest struct {
	Reference    string            `json:"reference"`
	WarehouseID  int64             `json:"warehouse_id" validate:"gt=0"`
	CustomerName string            `json:"customer_name"`
	Lines        []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID      int64             `json:"actor_id"`
	SoldAt       *time.Time        `json:"sold_at"`
}

func (h *Handler) handleRunSale(w http.ResponseWriter, r *http.Request) {
	var req runSaleRequest
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
		CustomerName: req.CustomerName,
		ActorID:      req.ActorID,
	}
	if req.SoldAt != nil {
		txn.SoldAt = *req.SoldAt
	}
	for i, l := range req.Lines {
		price := decimal.Zero
		if l.UnitPrice != "" {
			var err error
			price, err = decimal.NewFromString(l.UnitPrice)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line "+strconv.Itoa(i)+": invalid unit price")
				return
			}
		}
		txn.Lines = append(txn.Lines, Line{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
			UnitPrice:   price,
		})
	}

	saved, err := h.service.RunSale(r.Context(), txn, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondSalesError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.logger.Error("list sales", slog.Any("error", err))
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
		h.respondSalesError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

type returnLineRequest struct {
	LineID   int64   `json:"line_id" validate:"gt=0"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

type returnRequest struct {
	ActorID int64               `json:"actor_id"`
	Lines   []returnLineRequest `json:"lines" validate:"omitempty,dive"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "transactionID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	var req returnRequest
	// Body is optional; a bare POST returns every outstanding quantity.
	_ = httpx.DecodeJSON(r, &req)
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]ReturnLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, ReturnLine{LineID: l.LineID, Quantity: l.Quantity})
	}
	txn, err := h.service.ProcessReturn(r.Context(), id, req.ActorID, lines)
	if err != nil {
		h.respondSalesError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) respondSalesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrNoMatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Sale Rejected", err.Error())
	case errors.Is(err, ErrNotReturnable):
		httpx.Problem(w, http.StatusConflict, "Not Returnable", err.Error())
	case errors.Is(err, ErrReturnExceedsSold):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Return Rejected", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("sales request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
