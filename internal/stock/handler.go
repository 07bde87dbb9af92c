package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for direct stock operations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/issues", h.handleIssue)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjust)
	r.Post("/openings", h.handleOpening)
	r.Get("/summary/{item}", h.handleSummary)
	r.Get("/ledger", h.handleLedger)
	r.Get("/batches", h.handleBatches)
}

// WriteError maps stock domain errors onto RFC7807 problem responses. Other
// movement processors reuse it for the stock errors that surface through
// their own operations.
func WriteError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrSameLocation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

type issueRequest struct {
	ItemName string `json:"item_name" validate:"required"`
	BatchNo  string `json:"batch_no"`
	Qty      int64  `json:"qty" validate:"required,gt=0"`
	Location string `json:"location"`
	RefNo    string `json:"ref_no"`
	Remarks  string `json:"remarks"`
}

type movementResponse struct {
	Entry             LedgerEntry `json:"entry"`
	Location          string      `json:"location"`
	CorrectedLocation bool        `json:"corrected_location"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.IssueStock(r.Context(), IssueInput{
		ItemName: req.ItemName,
		BatchNo:  req.BatchNo,
		Qty:      req.Qty,
		Location: req.Location,
		RefNo:    req.RefNo,
		Remarks:  req.Remarks,
	})
	if err != nil {
		h.logger.Error("issue stock", slog.Any("error", err), slog.String("item", req.ItemName))
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Entry: result.Entry, Location: result.Location, CorrectedLocation: result.CorrectedLocation})
}

type transferRequest struct {
	ItemName string `json:"item_name" validate:"required"`
	BatchNo  string `json:"batch_no"`
	Qty      int64  `json:"qty" validate:"required,gt=0"`
	From     string `json:"from"`
	To       string `json:"to" validate:"required"`
	RefNo    string `json:"ref_no"`
	Remarks  string `json:"remarks"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.TransferInternal(r.Context(), TransferInput{
		ItemName: req.ItemName,
		BatchNo:  req.BatchNo,
		Qty:      req.Qty,
		From:     req.From,
		To:       req.To,
		RefNo:    req.RefNo,
		Remarks:  req.Remarks,
	})
	if err != nil {
		h.logger.Error("transfer stock", slog.Any("error", err), slog.String("item", req.ItemName))
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Entry: result.Entry, Location: result.Location, CorrectedLocation: result.CorrectedLocation})
}

type adjustRequest struct {
	ItemName  string `json:"item_name" validate:"required"`
	BatchNo   string `json:"batch_no"`
	Qty       int64  `json:"qty" validate:"required,gt=0"`
	Direction string `json:"direction" validate:"required,oneof=IN OUT"`
	Location  string `json:"location"`
	Reason    string `json:"reason" validate:"required"`
	RefNo     string `json:"ref_no"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.AdjustStock(r.Context(), AdjustInput{
		ItemName:  req.ItemName,
		BatchNo:   req.BatchNo,
		Qty:       req.Qty,
		Direction: AdjustDirection(req.Direction),
		Location:  req.Location,
		Reason:    req.Reason,
		RefNo:     req.RefNo,
	})
	if err != nil {
		h.logger.Error("adjust stock", slog.Any("error", err), slog.String("item", req.ItemName))
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Entry: result.Entry, Location: result.Location, CorrectedLocation: result.CorrectedLocation})
}

type openingRequest struct {
	ItemName string `json:"item_name" validate:"required"`
	BatchNo  string `json:"batch_no" validate:"required"`
	Qty      int64  `json:"qty" validate:"required,gt=0"`
	Location string `json:"location"`
	RefNo    string `json:"ref_no"`
}

func (h *Handler) handleOpening(w http.ResponseWriter, r *http.Request) {
	var req openingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.PostOpening(r.Context(), OpeningInput{
		ItemName: req.ItemName,
		BatchNo:  req.BatchNo,
		Qty:      req.Qty,
		Location: req.Location,
		RefNo:    req.RefNo,
	})
	if err != nil {
		h.logger.Error("post opening", slog.Any("error", err), slog.String("item", req.ItemName))
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Entry: result.Entry, Location: result.Location})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	item := chi.URLParam(r, "item")
	sum, err := h.service.Summary(r.Context(), item)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Error("stock summary", slog.Any("error", err), slog.String("item", item))
		}
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LedgerFilter{
		ItemName: q.Get("item"),
		BatchNo:  q.Get("batch_no"),
		Type:     TxnType(q.Get("type")),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	entries, page, err := h.service.Ledger(r.Context(), filter)
	if err != nil {
		h.logger.Error("list ledger", slog.Any("error", err))
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": page})
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	if item == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item query parameter required")
		return
	}
	batches, err := h.service.Batches(r.Context(), item)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err), slog.String("item", item))
		WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}
