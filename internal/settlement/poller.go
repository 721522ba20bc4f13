package settlement

import (
	"context"
	"log/slog"

	errors "github.com/frahmantamala/energy-settlement/internal"
	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
)

// Poller actively queries the gateway for an intent's outcome and, when the
// intent is still pending locally, applies the terminal result. It is
// stateless per call; backoff on rate limiting belongs to the caller.
type Poller struct {
	gateway     GatewayAPI
	intents     IntentRepository
	settlements SettlementRepository
	logger      *slog.Logger
}

func NewPoller(gateway GatewayAPI, intents IntentRepository, settlements SettlementRepository, logger *slog.Logger) *Poller {
	return &Poller{
		gateway:     gateway,
		intents:     intents,
		settlements: settlements,
		logger:      logger,
	}
}

// QueryAndReconcile returns true when the gateway call itself succeeded,
// regardless of the payment's outcome. An unknown checkout request id
// short-circuits without a gateway call.
func (p *Poller) QueryAndReconcile(ctx context.Context, checkoutRequestID string) (bool, error) {
	intent, err := p.intents.FindByCheckoutRequestID(checkoutRequestID)
	if err != nil {
		return false, errors.ErrIntentNotFound
	}

	if intent.IsTerminal() {
		// a callback or another poll already resolved it
		return true, nil
	}

	result, err := p.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return false, err
	}

	newIntentStatus := paymentmodel.StatusFailed
	newSettlementStatus := settlementmodel.StatusFailed
	if result.Succeeded() {
		newIntentStatus = paymentmodel.StatusSuccess
		newSettlementStatus = settlementmodel.StatusCompleted
	}

	resultCode := result.ResultCode
	resultDesc := result.ResultDesc

	updated, err := p.intents.UpdateIntentIfPending(checkoutRequestID, newIntentStatus, IntentUpdate{
		ResponseCode:        &resultCode,
		ResponseDescription: &resultDesc,
	})
	if err != nil {
		p.logger.Error("failed to update intent from poll",
			"checkout_request_id", checkoutRequestID,
			"error", err)
		return true, nil
	}
	if !updated {
		return true, nil
	}

	p.logger.Info("intent resolved by poll",
		"checkout_request_id", checkoutRequestID,
		"status", newIntentStatus,
		"result_code", resultCode)

	if _, err := p.settlements.UpdateSettlementIfPending(checkoutRequestID, newSettlementStatus, SettlementUpdate{
		Description: &resultDesc,
	}); err != nil {
		p.logger.Error("failed to update settlement from poll",
			"checkout_request_id", checkoutRequestID,
			"error", err)
	}

	return true, nil
}
