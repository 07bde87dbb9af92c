package returns

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

// Handler wires HTTP endpoints for returns.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyProcessed):
		httpx.Problem(w, http.StatusConflict, "Already Processed", err.Error())
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
	ReturnNo     string        `json:"return_no"`
	Kind         string        `json:"kind" validate:"required"`
	Location     string        `json:"location"`
	ToLocation   string        `json:"to_location"`
	Counterparty string        `json:"counterparty"`
	Reason       string        `json:"reason"`
	Items        []itemRequest `json:"items" validate:"required,min=1,dive"`
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
		ReturnNo:     req.ReturnNo,
		Kind:         Kind(req.Kind),
		Location:     req.Location,
		ToLocation:   req.ToLocation,
		Counterparty: req.Counterparty,
		Reason:       req.Reason,
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{ItemName: it.ItemName, BatchNo: it.BatchNo, Quantity: it.Quantity})
	}
	ret, err := h.service.CreateReturn(r.Context(), input)
	if err != nil {
		h.logger.Error("create return", slog.Any("error", err))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid return id")
		return
	}
	ret, items, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"return": ret, "items": items})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid return id")
		return
	}
	ret, err := h.service.ApproveReturn(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("approve return", slog.Any("error", err), slog.Int64("id", id))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid return id")
		return
	}
	ret, err := h.service.RejectReturn(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("reject return", slog.Any("error", err), slog.Int64("id", id))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}
