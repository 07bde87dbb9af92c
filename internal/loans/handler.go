package loans

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Handler wires HTTP endpoints for external loans.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the loans handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/send", h.handleSend)
	r.Post("/{id}/settle", h.handleSettle)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var overReturn *OverReturnError
	switch {
	case errors.As(err, &overReturn):
		httpx.Problem(w, http.StatusConflict, "Over Return", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadySettled):
		httpx.Problem(w, http.StatusConflict, "Already Settled", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		stock.WriteError(w, err)
	}
}

type itemRequest struct {
	ItemName string `json:"item_name" validate:"required"`
	BatchNo  string `json:"batch_no" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

type createRequest struct {
	LoanNo        string        `json:"loan_no"`
	Location      string        `json:"location"`
	PartyName     string        `json:"party_name" validate:"required"`
	PartyID       string        `json:"party_id"`
	PartyLocation string        `json:"party_location"`
	Reason        string        `json:"reason"`
	Items         []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type settleItemRequest struct {
	ItemName     string `json:"item_name" validate:"required"`
	BatchNo      string `json:"batch_no" validate:"required"`
	Returned     int64  `json:"returned" validate:"gte=0"`
	Damaged      int64  `json:"damaged" validate:"gte=0"`
	DamageReason string `json:"damage_reason"`
}

type settleRequest struct {
	Ref   string              `json:"ref" validate:"required"`
	Items []settleItemRequest `json:"items" validate:"required,min=1,dive"`
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
		LoanNo:        req.LoanNo,
		Location:      req.Location,
		PartyName:     req.PartyName,
		PartyID:       req.PartyID,
		PartyLocation: req.PartyLocation,
		Reason:        req.Reason,
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{ItemName: it.ItemName, BatchNo: it.BatchNo, Quantity: it.Quantity})
	}
	loan, err := h.service.CreateLoan(r.Context(), input)
	if err != nil {
		h.logger.Error("create loan", slog.Any("error", err))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	loan, items, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"loan": loan, "items": items})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	if err := h.service.SendLoan(r.Context(), id, 0); err != nil {
		h.logger.Error("send loan", slog.Any("error", err), slog.Int64("id", id))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusSent)})
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	var req settleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := SettleInput{Ref: req.Ref}
	for _, it := range req.Items {
		input.Items = append(input.Items, SettleItemInput{
			ItemName:     it.ItemName,
			BatchNo:      it.BatchNo,
			Returned:     it.Returned,
			Damaged:      it.Damaged,
			DamageReason: it.DamageReason,
		})
	}
	loan, err := h.service.SettleLoanReturn(r.Context(), id, input)
	if err != nil {
		h.logger.Error("settle loan", slog.Any("error", err), slog.Int64("id", id))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}
