package receipts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Handler wires HTTP endpoints for goods receipts.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the receipts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reprocess", h.handleReprocess)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyApplied):
		httpx.Problem(w, http.StatusConflict, "Already Applied", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		stock.WriteError(w, err)
	}
}

type batchRequest struct {
	BatchNo         string     `json:"batch_no" validate:"required"`
	Quantity        int64      `json:"quantity" validate:"required,gt=0"`
	ManufactureDate *time.Time `json:"manufacture_date"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	WarrantyMonths  int        `json:"warranty_months" validate:"gte=0"`
}

type lineRequest struct {
	ItemName string         `json:"item_name" validate:"required"`
	Note     string         `json:"note"`
	Batches  []batchRequest `json:"batches" validate:"required,min=1,dive"`
}

type createRequest struct {
	ReceiptNo  string        `json:"receipt_no"`
	Supplier   string        `json:"supplier" validate:"required"`
	Location   string        `json:"location"`
	ReceivedAt *time.Time    `json:"received_at"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		ReceiptNo: req.ReceiptNo,
		Supplier:  req.Supplier,
		Location:  req.Location,
		Note:      req.Note,
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = *req.ReceivedAt
	}
	for _, line := range req.Lines {
		li := LineInput{ItemName: line.ItemName, Note: line.Note}
		for _, b := range line.Batches {
			li.Batches = append(li.Batches, BatchInput{
				BatchNo:         b.BatchNo,
				Quantity:        b.Quantity,
				ManufactureDate: b.ManufactureDate,
				ExpiryDate:      b.ExpiryDate,
				WarrantyMonths:  b.WarrantyMonths,
			})
		}
		input.Lines = append(input.Lines, li)
	}
	rec, err := h.service.CreateReceipt(r.Context(), input)
	if err != nil {
		h.logger.Error("create receipt", slog.Any("error", err))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	rec, lines, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipt": rec, "lines": lines})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	if err := h.service.ApproveReceipt(r.Context(), id, 0); err != nil {
		h.logger.Error("approve receipt", slog.Any("error", err), slog.Int64("id", id))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusApproved)})
}

func (h *Handler) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	if err := h.service.ReprocessReceipt(r.Context(), id, 0); err != nil {
		h.logger.Error("reprocess receipt", slog.Any("error", err), slog.Int64("id", id))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusApproved)})
}
