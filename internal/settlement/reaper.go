package settlement

import (
	"context"
	"log/slog"
	"time"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
)

const reapDescription = "timed out waiting for callback"

// Reaper fails intents that never received a callback within the timeout
// window. It closes the gap where neither a callback nor a status query
// ever resolves a payment.
type Reaper struct {
	intents     IntentRepository
	settlements SettlementRepository
	eventBus    *events.EventBus
	logger      *slog.Logger
	now         func() time.Time
}

func NewReaper(intents IntentRepository, settlements SettlementRepository, eventBus *events.EventBus, logger *slog.Logger) *Reaper {
	return &Reaper{
		intents:     intents,
		settlements: settlements,
		eventBus:    eventBus,
		logger:      logger,
		now:         time.Now,
	}
}

// Reap fails every pending intent older than timeoutMinutes that has no
// callback, cascading each linked settlement. Returns how many intents it
// transitioned. Intents resolved concurrently lose the conditional update
// and are skipped.
func (r *Reaper) Reap(ctx context.Context, timeoutMinutes int) (int, error) {
	cutoff := r.now().Add(-time.Duration(timeoutMinutes) * time.Minute)

	stalled, err := r.intents.FindStalledIntents(cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, intent := range stalled {
		description := reapDescription

		updated, err := r.intents.UpdateIntentIfPending(intent.CheckoutRequestID, paymentmodel.StatusFailed, IntentUpdate{
			ResponseDescription: &description,
		})
		if err != nil {
			r.logger.Error("failed to reap intent",
				"checkout_request_id", intent.CheckoutRequestID,
				"error", err)
			continue
		}
		if !updated {
			continue
		}

		count++
		r.logger.Info("reaped stalled intent",
			"checkout_request_id", intent.CheckoutRequestID,
			"created_at", intent.CreatedAt)

		record, err := r.settlements.FindSettlementByCheckoutRequestID(intent.CheckoutRequestID)
		if err != nil {
			continue
		}
		if _, err := r.settlements.UpdateSettlementIfPending(intent.CheckoutRequestID, settlementmodel.StatusFailed, SettlementUpdate{
			Description: &description,
		}); err != nil {
			r.logger.Error("failed to cascade settlement failure",
				"checkout_request_id", intent.CheckoutRequestID,
				"error", err)
			continue
		}

		r.eventBus.Publish(ctx, events.NewSettlementFailedEvent(
			record.ID, intent.CheckoutRequestID, record.MeterID, record.Amount.String(), description))
	}

	if count > 0 {
		r.logger.Info("reap sweep finished", "reaped", count, "candidates", len(stalled))
	}

	return count, nil
}
