package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/pcb-inventory/internal/core/domain"
	"github.com/rl1809/pcb-inventory/internal/core/service"
	"github.com/rl1809/pcb-inventory/internal/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 16
)

type HTTPHandler struct {
	productionService *service.ProductionService
	logger            *zap.Logger
}

type ProductionHTTPRequest struct {
	BoardID          int64  `json:"board_id" validate:"gt=0"`
	QuantityProduced int    `json:"quantity_produced" validate:"gt=0"`
	RequestID        string `json:"request_id,omitempty" validate:"omitempty,request_id"`
}

type ShortageJSON struct {
	ComponentID int64  `json:"component_id"`
	Name        string `json:"name"`
	PartNumber  string `json:"part_number,omitempty"`
	Available   int    `json:"available"`
	Required    int    `json:"required"`
	Deficit     int    `json:"deficit"`
	Missing     bool   `json:"missing,omitempty"`
}

type ProductionHTTPResponse struct {
	Success                bool           `json:"success"`
	Message                string         `json:"message"`
	Error                  string         `json:"error,omitempty"`
	ProductionEntryID      int64          `json:"production_entry_id,omitempty"`
	BoardID                int64          `json:"board_id,omitempty"`
	BoardName              string         `json:"board_name,omitempty"`
	QuantityProduced       int            `json:"quantity_produced,omitempty"`
	ComponentsConsumed     int            `json:"components_consumed,omitempty"`
	TriggersOpened         []int64        `json:"triggers_opened,omitempty"`
	InsufficientComponents []ShortageJSON `json:"insufficient_components,omitempty"`
}

type ProductionEntryJSON struct {
	ID               int64     `json:"id"`
	BoardID          int64     `json:"board_id"`
	BoardName        string    `json:"board_name"`
	QuantityProduced int       `json:"quantity_produced"`
	CreatedAt        time.Time `json:"created_at"`
}

func NewHTTPHandler(productionService *service.ProductionService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{productionService: productionService, logger: logging.OrNop(logger)}
}

// Routes mounts the production API on mux. metrics may be nil.
func (h *HTTPHandler) Routes(mux *http.ServeMux, metrics http.Handler) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/production", h.Production)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
}

func (h *HTTPHandler) Production(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.RecordProduction(w, r)
	case http.MethodGet:
		h.ListProduction(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) RecordProduction(w http.ResponseWriter, r *http.Request) {
	var req ProductionHTTPRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ProductionHTTPResponse{
			Message: "invalid request body",
			Error:   string(domain.FailureInvalidInput),
		})
		return
	}

	if req.RequestID == "" {
		req.RequestID = r.Header.Get(requestIDHeader)
	}
	if err := getValidator().Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ProductionHTTPResponse{
			Message: validationMessage(err),
			Error:   string(domain.FailureInvalidInput),
		})
		return
	}

	traceID := req.RequestID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, traceID)

	outcome := h.productionService.RecordProductionOnce(r.Context(), req.RequestID, req.BoardID, req.QuantityProduced)
	if !outcome.Committed() {
		if outcome.Kind() == domain.FailureInternal {
			h.logger.Error("production request failed",
				zap.String("request_id", traceID),
				zap.Error(outcome.Failure.Cause()),
			)
		}
		writeJSON(w, statusFor(outcome.Kind()), failureResponse(outcome.Failure))
		return
	}

	res := outcome.Success
	writeJSON(w, http.StatusOK, ProductionHTTPResponse{
		Success:            true,
		Message:            "production recorded",
		ProductionEntryID:  res.ProductionEntryID,
		BoardID:            res.BoardID,
		BoardName:          res.BoardName,
		QuantityProduced:   res.QuantityProduced,
		ComponentsConsumed: res.ComponentsConsumed,
		TriggersOpened:     res.TriggersOpened,
	})
}

func (h *HTTPHandler) ListProduction(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ProductionHTTPResponse{
				Message: "limit must be a positive integer",
				Error:   string(domain.FailureInvalidInput),
			})
			return
		}
		limit = n
	}

	entries, err := h.productionService.ProductionHistory(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list production", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ProductionHTTPResponse{
			Message: "failed to list production",
			Error:   string(domain.FailureInternal),
		})
		return
	}

	out := make([]ProductionEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, ProductionEntryJSON{
			ID:               e.ID,
			BoardID:          e.BoardID,
			BoardName:        e.BoardName,
			QuantityProduced: e.QuantityProduced,
			CreatedAt:        e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureInvalidInput:
		return http.StatusBadRequest
	case domain.FailureNotFound:
		return http.StatusNotFound
	case domain.FailureNoBOMDefined:
		return http.StatusUnprocessableEntity
	case domain.FailureInsufficientStock, domain.FailureDuplicateRequest:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func failureResponse(f *domain.ProductionFailure) ProductionHTTPResponse {
	if f == nil {
		f = domain.InternalFailure(errors.New("empty outcome"))
	}
	resp := ProductionHTTPResponse{
		Message: f.Message,
		Error:   string(f.Kind),
	}
	for _, s := range f.Shortages {
		resp.InsufficientComponents = append(resp.InsufficientComponents, ShortageJSON(s))
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
