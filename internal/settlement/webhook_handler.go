package settlement

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/energy-settlement/internal/transport"
)

type WebhookHandler struct {
	*transport.BaseHandler
	processor *CallbackProcessor
	logger    *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, processor *CallbackProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		processor:   processor,
		logger:      logger,
	}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// HandlePaymentCallback receives the gateway's asynchronous payment result.
// The gateway only cares that we answer 200; a non-200 makes it re-deliver,
// so every path acknowledges with 200 and the result code carries the
// accepted/rejected distinction.
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read payment callback body", "error", err)
		h.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 1, ResultDesc: "Rejected"})
		return
	}

	if h.processor.Process(r.Context(), payload) {
		h.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	h.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 1, ResultDesc: "Rejected"})
}
