package settlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/energy-settlement/internal"
	"github.com/frahmantamala/energy-settlement/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CompletePayment(ctx context.Context, req PurchaseRequest) (*SettlementResponse, error)
	CheckAndProcess(ctx context.Context, checkoutRequestID string) (*SettlementResponse, error)
	ManualCredit(ctx context.Context, req ManualCreditRequest) (*SettlementResponse, error)
}

type ReaperAPI interface {
	Reap(ctx context.Context, timeoutMinutes int) (int, error)
}

type Handler struct {
	transport.BaseHandler
	Service       ServiceAPI
	Reaper        ReaperAPI
	ReaperTimeout int
	Logger        *slog.Logger
}

func NewHandler(service ServiceAPI, reaper ReaperAPI, reaperTimeoutMins int, logger *slog.Logger) *Handler {
	return &Handler{
		Service:       service,
		Reaper:        reaper,
		ReaperTimeout: reaperTimeoutMins,
		Logger:        logger,
	}
}

// PurchaseEnergy handles POST /api/v1/settlements/purchase. The call blocks
// until the payment resolves or the wait budget runs out, so slow customers
// get a non-final timed_out_pending response.
func (h *Handler) PurchaseEnergy(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("PurchaseEnergy: failed to parse request body", "error", err)
		h.HandleServiceError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.CompletePayment(r.Context(), req)
	if err != nil {
		h.Logger.Error("PurchaseEnergy: service error", "error", err, "meter_id", req.MeterID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("PurchaseEnergy: completed",
		"meter_id", req.MeterID,
		"outcome", resp.Outcome,
		"checkout_request_id", resp.CheckoutRequestID)

	h.WriteJSON(w, statusForOutcome(resp.Outcome), resp)
}

// GetSettlementStatus handles GET /api/v1/settlements/{checkoutRequestID}.
// It re-queries the gateway and, if the payment turned out successful,
// finishes the crediting step.
func (h *Handler) GetSettlementStatus(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")
	if checkoutRequestID == "" {
		h.HandleServiceError(w, errors.NewValidationError("checkout request id is required", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.CheckAndProcess(r.Context(), checkoutRequestID)
	if err != nil {
		h.Logger.Error("GetSettlementStatus: service error", "error", err, "checkout_request_id", checkoutRequestID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// ManualCredit handles POST /api/v1/settlements/manual-credit, an operator
// action that credits a meter without a payment.
func (h *Handler) ManualCredit(w http.ResponseWriter, r *http.Request) {
	var req ManualCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("ManualCredit: failed to parse request body", "error", err)
		h.HandleServiceError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.ManualCredit(r.Context(), req)
	if err != nil {
		h.Logger.Error("ManualCredit: service error", "error", err, "meter_id", req.MeterID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// TriggerReap handles POST /api/v1/settlements/reap, forcing a sweep of
// stalled intents outside the scheduled run.
func (h *Handler) TriggerReap(w http.ResponseWriter, r *http.Request) {
	reaped, err := h.Reaper.Reap(r.Context(), h.ReaperTimeout)
	if err != nil {
		h.Logger.Error("TriggerReap: reaper error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reaped": reaped,
	})
}

func statusForOutcome(outcome string) int {
	switch outcome {
	case OutcomeDeclined:
		return http.StatusUnprocessableEntity
	case OutcomeTimedOutPending:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}
